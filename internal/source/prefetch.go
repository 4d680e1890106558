package source

import (
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultPrefetchBytes bounds the in-memory byte buffer.
	DefaultPrefetchBytes = 5 * 1024 * 1024

	// tailSeekWindow is the trailing region in which seeks are refused.
	// Demuxers probe the trailer for footer indexes and trailing tags; over a
	// slow HTTP source servicing that seek would dump the prefetched body and
	// end the stream early. Refusing forces them into streaming mode.
	tailSeekWindow = 512 * 1024

	prefetchChunkSize = 64 * 1024
)

// PrefetchSource wraps any MediaSource with a background producer that keeps
// a bounded byte buffer filled ahead of the consumer. Reads drain the buffer
// and block while it is empty and the inner source has not reached EOF.
type PrefetchSource struct {
	inner     MediaSource
	mutex     sync.Mutex
	cond      *sync.Cond
	buffer    []byte
	head      int
	eof       atomic.Bool
	err       error
	seekCh    chan int64
	done      chan struct{}
	closeOnce sync.Once

	position  int64
	totalSize int64
	seekable  bool
	maxBytes  int
	debug     bool
}

func NewPrefetchSource(inner MediaSource, maxBytes int, debug bool) *PrefetchSource {
	if maxBytes <= 0 {
		maxBytes = DefaultPrefetchBytes
	}

	ps := &PrefetchSource{
		inner:     inner,
		seekCh:    make(chan int64, 4),
		done:      make(chan struct{}),
		totalSize: inner.ByteLen(),
		seekable:  inner.IsSeekable(),
		maxBytes:  maxBytes,
		debug:     debug,
	}
	ps.cond = sync.NewCond(&ps.mutex)

	go ps.produce()

	return ps
}

func (ps *PrefetchSource) produce() {
	chunk := make([]byte, prefetchChunkSize)

	for {
		select {
		case <-ps.done:
			return
		case pos := <-ps.seekCh:
			ps.eof.Store(false)
			ps.mutex.Lock()
			ps.buffer = ps.buffer[:0]
			ps.head = 0
			ps.err = nil
			ps.mutex.Unlock()

			if _, err := ps.inner.Seek(pos, io.SeekStart); err != nil {
				ps.mutex.Lock()
				ps.err = err
				ps.mutex.Unlock()
				ps.cond.Broadcast()
			}
			continue
		default:
		}

		ps.mutex.Lock()
		buffered := len(ps.buffer) - ps.head
		ps.mutex.Unlock()
		if buffered >= ps.maxBytes {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		n, err := ps.inner.Read(chunk)
		if n > 0 {
			ps.mutex.Lock()
			ps.buffer = append(ps.buffer, chunk[:n]...)
			ps.mutex.Unlock()
			ps.cond.Broadcast()
		}

		if err != nil {
			if err == io.EOF {
				if !ps.eof.Load() && ps.debug {
					log.Printf("[PREFETCH] Inner source EOF, %d bytes buffered", buffered+n)
				}
				ps.eof.Store(true)
				ps.cond.Broadcast()
			} else {
				ps.mutex.Lock()
				if ps.err == nil {
					ps.err = err
				}
				ps.mutex.Unlock()
				ps.cond.Broadcast()
			}
			time.Sleep(100 * time.Millisecond)
		}
	}
}

func (ps *PrefetchSource) Read(p []byte) (int, error) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	for {
		if ps.err != nil {
			err := ps.err
			ps.err = nil
			return 0, err
		}

		if available := len(ps.buffer) - ps.head; available > 0 {
			n := available
			if n > len(p) {
				n = len(p)
			}
			copy(p, ps.buffer[ps.head:ps.head+n])
			ps.head += n
			ps.position += int64(n)
			ps.compactLocked()
			return n, nil
		}

		if ps.eof.Load() {
			return 0, io.EOF
		}

		select {
		case <-ps.done:
			return 0, io.ErrClosedPipe
		default:
		}

		ps.cond.Wait()
	}
}

// compactLocked reclaims consumed head space once it outgrows the chunk size.
func (ps *PrefetchSource) compactLocked() {
	if ps.head < prefetchChunkSize*4 {
		return
	}
	remaining := copy(ps.buffer, ps.buffer[ps.head:])
	ps.buffer = ps.buffer[:remaining]
	ps.head = 0
}

func (ps *PrefetchSource) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = ps.position + offset
	case io.SeekEnd:
		return 0, io.ErrUnexpectedEOF
	default:
		return 0, io.ErrUnexpectedEOF
	}

	// Forward seeks landing inside the buffered region are a cheap drain.
	if newPos >= ps.position {
		skip := newPos - ps.position
		ps.mutex.Lock()
		if int64(len(ps.buffer)-ps.head) > skip {
			ps.head += int(skip)
			ps.position = newPos
			ps.compactLocked()
			ps.mutex.Unlock()
			ps.cond.Broadcast()
			return newPos, nil
		}
		ps.mutex.Unlock()
	}

	if ps.totalSize > 0 && newPos > ps.totalSize-tailSeekWindow {
		if ps.debug {
			log.Printf("[PREFETCH] Refusing tail seek to %d (size %d), staying at %d",
				newPos, ps.totalSize, ps.position)
		}
		return ps.position, nil
	}

	select {
	case ps.seekCh <- newPos:
	case <-ps.done:
		return 0, io.ErrClosedPipe
	}

	ps.position = newPos
	return newPos, nil
}

func (ps *PrefetchSource) Close() error {
	ps.closeOnce.Do(func() {
		close(ps.done)
		ps.cond.Broadcast()
	})
	return ps.inner.Close()
}

func (ps *PrefetchSource) IsSeekable() bool {
	return ps.seekable
}

func (ps *PrefetchSource) ByteLen() int64 {
	return ps.totalSize
}

// Buffered returns how many bytes are ready for the consumer.
func (ps *PrefetchSource) Buffered() int {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	return len(ps.buffer) - ps.head
}
