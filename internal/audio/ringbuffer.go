package audio

import (
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the ring capacity in float32 samples.
const DefaultBufferSize = 65536

// RingBuffer is a single-producer/single-consumer PCM ring holding
// interleaved stereo float32 samples. The producer publishes writePos with a
// release store after filling the slots; the consumer publishes readPos after
// draining. One slot stays reserved so an empty ring is distinguishable from
// a full one. The mutex serializes same-end callers when ownership of an end
// migrates between goroutines; it is never held across the opposite end.
type RingBuffer struct {
	data     []float32
	readPos  atomic.Uint32
	writePos atomic.Uint32
	capacity uint32
	pushMu   sync.Mutex
	popMu    sync.Mutex
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		data:     make([]float32, capacity),
		capacity: uint32(capacity),
	}
}

// Push copies as many samples as fit and returns how many were written.
// Never blocks.
func (rb *RingBuffer) Push(samples []float32) int {
	rb.pushMu.Lock()
	defer rb.pushMu.Unlock()

	readPos := rb.readPos.Load()
	writePos := rb.writePos.Load()

	var available uint32
	if writePos >= readPos {
		available = rb.capacity - (writePos - readPos) - 1
	} else {
		available = readPos - writePos - 1
	}

	toWrite := uint32(len(samples))
	if toWrite > available {
		toWrite = available
	}

	for i := uint32(0); i < toWrite; i++ {
		rb.data[(writePos+i)%rb.capacity] = samples[i]
	}

	rb.writePos.Store((writePos + toWrite) % rb.capacity)
	return int(toWrite)
}

// Pop copies up to len(out) samples and returns how many were read.
// Never blocks.
func (rb *RingBuffer) Pop(out []float32) int {
	rb.popMu.Lock()
	defer rb.popMu.Unlock()

	readPos := rb.readPos.Load()
	writePos := rb.writePos.Load()

	var available uint32
	if writePos >= readPos {
		available = writePos - readPos
	} else {
		available = rb.capacity - readPos + writePos
	}

	toRead := uint32(len(out))
	if toRead > available {
		toRead = available
	}

	for i := uint32(0); i < toRead; i++ {
		out[i] = rb.data[(readPos+i)%rb.capacity]
	}

	rb.readPos.Store((readPos + toRead) % rb.capacity)
	return int(toRead)
}

// AvailableSpace returns how many samples Push can currently accept.
func (rb *RingBuffer) AvailableSpace() int {
	readPos := rb.readPos.Load()
	writePos := rb.writePos.Load()

	if writePos >= readPos {
		return int(rb.capacity - (writePos - readPos) - 1)
	}
	return int(readPos - writePos - 1)
}

// Len returns how many samples are buffered.
func (rb *RingBuffer) Len() int {
	return int(rb.capacity) - 1 - rb.AvailableSpace()
}

// Capacity returns the ring size in samples.
func (rb *RingBuffer) Capacity() int {
	return int(rb.capacity)
}

// Clear resets both indices, discarding buffered samples.
func (rb *RingBuffer) Clear() {
	rb.pushMu.Lock()
	defer rb.pushMu.Unlock()
	rb.popMu.Lock()
	defer rb.popMu.Unlock()
	rb.readPos.Store(0)
	rb.writePos.Store(0)
}
