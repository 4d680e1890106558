package queue

import (
	"math/rand"
	"sync"

	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

// Queue holds the playback order: the library-ordered track list, an
// optional shuffle permutation over it, and a manual user queue that always
// wins over both.
type Queue struct {
	mu              sync.Mutex
	tracks          []*types.Track
	shuffledIndices []int
	currentIndex    int // index into tracks (or shuffledIndices when shuffled); -1 when unset
	manual          []*types.Track
	shuffle         bool
	repeat          types.RepeatMode
}

func New() *Queue {
	return &Queue{
		currentIndex: -1,
		repeat:       types.RepeatOff,
	}
}

// SetTracks replaces the ordered track list and rewinds to its start.
func (q *Queue) SetTracks(tracks []*types.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tracks = tracks
	if q.shuffle {
		q.reshuffleLocked()
	}
	if len(q.tracks) == 0 {
		q.currentIndex = -1
	} else {
		q.currentIndex = 0
	}
}

// PlayTrack makes the given track current, appending it when it is not in
// the list.
func (q *Queue) PlayTrack(track *types.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.effectiveOrderLocked() {
		if t.ID == track.ID {
			q.currentIndex = i
			return
		}
	}

	q.tracks = append(q.tracks, track)
	if q.shuffle {
		q.shuffledIndices = append(q.shuffledIndices, len(q.tracks)-1)
	}
	q.currentIndex = q.lenLocked() - 1
}

// AddToQueue appends to the manual user queue.
func (q *Queue) AddToQueue(track *types.Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.manual = append(q.manual, track)
}

func (q *Queue) ClearQueue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.manual = nil
}

func (q *Queue) SetRepeat(mode types.RepeatMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.repeat = mode
}

func (q *Queue) Repeat() types.RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeat
}

// ToggleShuffle flips shuffle mode, keeping the currently playing track
// current across the permutation change.
func (q *Queue) ToggleShuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	current := q.currentLocked()
	q.shuffle = !q.shuffle

	if q.shuffle {
		q.reshuffleLocked()
	}

	if current != nil {
		for realIdx, t := range q.tracks {
			if t.ID != current.ID {
				continue
			}
			if q.shuffle {
				for pos, ri := range q.shuffledIndices {
					if ri == realIdx {
						q.currentIndex = pos
						break
					}
				}
			} else {
				q.currentIndex = realIdx
			}
			break
		}
	} else if len(q.tracks) == 0 {
		q.currentIndex = -1
	}

	return q.shuffle
}

func (q *Queue) Shuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffle
}

func (q *Queue) reshuffleLocked() {
	q.shuffledIndices = rand.Perm(len(q.tracks))
}

func (q *Queue) lenLocked() int {
	if q.shuffle {
		return len(q.shuffledIndices)
	}
	return len(q.tracks)
}

func (q *Queue) effectiveOrderLocked() []*types.Track {
	if !q.shuffle {
		return q.tracks
	}
	out := make([]*types.Track, len(q.shuffledIndices))
	for i, ri := range q.shuffledIndices {
		out[i] = q.tracks[ri]
	}
	return out
}

func (q *Queue) trackAtLocked(i int) *types.Track {
	if i < 0 || i >= q.lenLocked() {
		return nil
	}
	if q.shuffle {
		return q.tracks[q.shuffledIndices[i]]
	}
	return q.tracks[i]
}

func (q *Queue) currentLocked() *types.Track {
	return q.trackAtLocked(q.currentIndex)
}

// Current returns the track at the queue cursor.
func (q *Queue) Current() *types.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentLocked()
}

// PeekNext returns what Advance would play, without consuming anything.
// Used by the preload path.
func (q *Queue) PeekNext() *types.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.manual) > 0 {
		return q.manual[0]
	}

	switch q.repeat {
	case types.RepeatOne:
		return q.currentLocked()
	default:
		next := q.trackAtLocked(q.currentIndex + 1)
		if next == nil && q.repeat == types.RepeatAll {
			return q.trackAtLocked(0)
		}
		return next
	}
}

// Advance moves the cursor to the next track and returns it, or nil when
// the queue is exhausted.
func (q *Queue) Advance() *types.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.manual) > 0 {
		track := q.manual[0]
		q.manual = q.manual[1:]
		// Manual entries do not move the list cursor.
		return track
	}

	switch q.repeat {
	case types.RepeatOne:
		return q.currentLocked()
	default:
		if q.currentIndex+1 < q.lenLocked() {
			q.currentIndex++
			return q.currentLocked()
		}
		if q.repeat == types.RepeatAll && q.lenLocked() > 0 {
			q.currentIndex = 0
			return q.currentLocked()
		}
		return nil
	}
}

// Previous steps the cursor backward, staying on the first track at the top.
func (q *Queue) Previous() *types.Track {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.currentIndex > 0 {
		q.currentIndex--
	}
	return q.currentLocked()
}

// Tracks returns a snapshot of the ordered list.
func (q *Queue) Tracks() []*types.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*types.Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

// Pending returns a snapshot of the manual queue.
func (q *Queue) Pending() []*types.Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*types.Track, len(q.manual))
	copy(out, q.manual)
	return out
}
