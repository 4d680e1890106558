package audio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestRingBuffer_PushPop(t *testing.T) {
	rb := NewRingBuffer(16)

	in := []float32{1, 2, 3, 4, 5}
	require.Equal(t, 5, rb.Push(in))
	require.Equal(t, 5, rb.Len())

	out := make([]float32, 5)
	require.Equal(t, 5, rb.Pop(out))
	assert.Equal(t, in, out)
	assert.Equal(t, 0, rb.Len())
}

func TestRingBuffer_OneSlotReserved(t *testing.T) {
	rb := NewRingBuffer(8)

	in := make([]float32, 8)
	written := rb.Push(in)
	assert.Equal(t, 7, written, "one slot stays reserved to distinguish full from empty")
	assert.Equal(t, 0, rb.AvailableSpace())
}

func TestRingBuffer_PopEmptyReturnsZero(t *testing.T) {
	rb := NewRingBuffer(8)
	out := make([]float32, 4)
	assert.Equal(t, 0, rb.Pop(out))
}

func TestRingBuffer_Wraparound(t *testing.T) {
	rb := NewRingBuffer(8)
	out := make([]float32, 4)

	// Walk the indices around the ring several times.
	for round := 0; round < 10; round++ {
		in := []float32{float32(round), float32(round) + 0.5}
		require.Equal(t, 2, rb.Push(in))
		require.Equal(t, 2, rb.Pop(out[:2]))
		assert.Equal(t, in, out[:2])
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Push([]float32{1, 2, 3})
	rb.Clear()

	assert.Equal(t, 0, rb.Len())
	assert.Equal(t, 15, rb.AvailableSpace())
}

// Popped samples are always a prefix of pushed samples: nothing duplicated,
// dropped, or reordered, for any interleaving of partial pushes and pops.
func TestRingBuffer_PrefixProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(2, 256).Draw(t, "capacity")
		rb := NewRingBuffer(capacity)

		var pushed []float32
		var popped []float32
		next := float32(0)

		steps := rapid.IntRange(1, 200).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "push") {
				n := rapid.IntRange(1, capacity).Draw(t, "n")
				chunk := make([]float32, n)
				for j := range chunk {
					chunk[j] = next
					next++
				}
				w := rb.Push(chunk)
				pushed = append(pushed, chunk[:w]...)
				// Unaccepted samples are never partially written.
				if len(pushed) > 0 {
					next = pushed[len(pushed)-1] + 1
				} else {
					next = 0
				}
			} else {
				n := rapid.IntRange(1, capacity).Draw(t, "m")
				out := make([]float32, n)
				r := rb.Pop(out)
				popped = append(popped, out[:r]...)
			}
		}

		// Drain the rest.
		out := make([]float32, capacity)
		for {
			r := rb.Pop(out)
			if r == 0 {
				break
			}
			popped = append(popped, out[:r]...)
		}

		assert.Equal(t, pushed, popped)
	})
}

// Concurrent single producer and single consumer never lose or reorder data.
func TestRingBuffer_SPSC(t *testing.T) {
	const total = 100000

	rb := NewRingBuffer(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		sent := 0
		chunk := make([]float32, 64)
		for sent < total {
			n := len(chunk)
			if total-sent < n {
				n = total - sent
			}
			for i := 0; i < n; i++ {
				chunk[i] = float32(sent + i)
			}
			w := rb.Push(chunk[:n])
			sent += w
		}
	}()

	received := make([]float32, 0, total)
	go func() {
		defer wg.Done()
		out := make([]float32, 64)
		for len(received) < total {
			r := rb.Pop(out)
			received = append(received, out[:r]...)
		}
	}()

	wg.Wait()

	require.Len(t, received, total)
	for i, v := range received {
		if v != float32(i) {
			t.Fatalf("sample %d: got %v", i, v)
		}
	}
}
