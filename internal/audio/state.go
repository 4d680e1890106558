package audio

import (
	"math"
	"sync"
	"sync/atomic"
)

// PlaybackState is the process-wide view of what is playing. Scalar fields
// are atomics so the device callback can read them without locking.
// PositionSamples and SampleRate are denominated in the source track's rate.
type PlaybackState struct {
	PositionSamples  atomic.Uint64
	DurationSamples  atomic.Uint64
	SampleRate       atomic.Uint64
	DeviceSampleRate atomic.Uint32
	IsPlaying        atomic.Bool
	volumeBits       atomic.Uint32

	pathMu      sync.RWMutex
	currentPath string
}

func NewPlaybackState() *PlaybackState {
	s := &PlaybackState{}
	s.SampleRate.Store(44100)
	s.DeviceSampleRate.Store(44100)
	s.SetVolume(1.0)
	return s
}

// Volume returns the linear gain in [0, 1].
func (s *PlaybackState) Volume() float32 {
	return math.Float32frombits(s.volumeBits.Load())
}

// SetVolume clamps and stores the linear gain.
func (s *PlaybackState) SetVolume(v float32) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.volumeBits.Store(math.Float32bits(v))
}

// PositionSeconds derives the playback position in the source timebase.
func (s *PlaybackState) PositionSeconds() float64 {
	sr := s.SampleRate.Load()
	if sr == 0 {
		sr = 1
	}
	return float64(s.PositionSamples.Load()) / float64(sr)
}

// DurationSeconds derives the current track duration.
func (s *PlaybackState) DurationSeconds() float64 {
	sr := s.SampleRate.Load()
	if sr == 0 {
		sr = 1
	}
	return float64(s.DurationSamples.Load()) / float64(sr)
}

// CurrentPath returns the URI of the track being played.
func (s *PlaybackState) CurrentPath() string {
	s.pathMu.RLock()
	defer s.pathMu.RUnlock()
	return s.currentPath
}

func (s *PlaybackState) SetCurrentPath(path string) {
	s.pathMu.Lock()
	s.currentPath = path
	s.pathMu.Unlock()
}

// crossfadeState tracks the decoder-owned fade lifecycle.
type crossfadeState int

const (
	crossfadeIdle crossfadeState = iota
	crossfadePrebuffering
	crossfadeCrossfading
)

func (c crossfadeState) String() string {
	switch c {
	case crossfadeIdle:
		return "idle"
	case crossfadePrebuffering:
		return "prebuffering"
	case crossfadeCrossfading:
		return "crossfading"
	default:
		return "unknown"
	}
}

// sharedAudio bundles everything the decoder worker and the output stage
// exchange. The fade's wall-clock progress lives here because the output
// callback is the only thread that sees true playback rate, while the decoder
// needs it at handover time.
type sharedAudio struct {
	bufferA *RingBuffer
	bufferB *RingBuffer
	state   *PlaybackState
	dsp     *DspChain

	crossfadeDurationMs atomic.Uint32
	crossfadeActive     atomic.Bool
	crossfadeProgress   atomic.Uint64

	shutdown atomic.Bool
}

func newSharedAudio(bufferCapacity int) *sharedAudio {
	return &sharedAudio{
		bufferA: NewRingBuffer(bufferCapacity),
		bufferB: NewRingBuffer(bufferCapacity),
		state:   NewPlaybackState(),
		dsp:     NewDspChain(),
	}
}

// crossfadeSamples converts the configured fade length into samples at the
// given rate.
func (sh *sharedAudio) crossfadeSamples(sampleRate uint64) uint64 {
	return uint64(sh.crossfadeDurationMs.Load()) * sampleRate / 1000
}
