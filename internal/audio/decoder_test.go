package audio

import (
	"testing"

	"github.com/gopxl/beep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream produces a constant value for a fixed number of frames.
type fakeStream struct {
	total int
	pos   int
	value float64
}

func (f *fakeStream) Stream(samples [][2]float64) (int, bool) {
	if f.pos >= f.total {
		return 0, false
	}
	n := len(samples)
	if remaining := f.total - f.pos; n > remaining {
		n = remaining
	}
	for i := 0; i < n; i++ {
		samples[i][0] = f.value
		samples[i][1] = f.value
	}
	f.pos += n
	return n, true
}

func (f *fakeStream) Err() error    { return nil }
func (f *fakeStream) Len() int      { return f.total }
func (f *fakeStream) Position() int { return f.pos }
func (f *fakeStream) Seek(p int) error {
	f.pos = p
	return nil
}
func (f *fakeStream) Close() error { return nil }

func testHandle(totalFrames int, value float64, rate uint32) *decoderHandle {
	fs := &fakeStream{total: totalFrames, value: value}
	return &decoderHandle{
		stream:          fs,
		format:          beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2},
		output:          fs,
		sampleRate:      rate,
		durationSamples: uint64(totalFrames),
		scratch:         make([][2]float64, decodeFrames),
		interleaved:     make([]float32, decodeFrames*2),
	}
}

func newTestWorker() (*sharedAudio, *decoderWorker) {
	shared := newSharedAudio(DefaultBufferSize)
	w := newDecoderWorker(shared, nil, nil, 0, false)
	return shared, w
}

func drainEvents(w *decoderWorker) []Event {
	var out []Event
	for {
		select {
		case ev := <-w.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestDecodeStep_FillsRingA(t *testing.T) {
	shared, w := newTestWorker()
	shared.state.IsPlaying.Store(true)
	w.current = testHandle(10000, 0.5, 44100)

	w.decodeStep()

	require.Equal(t, decodeFrames*2, shared.bufferA.Len())

	out := make([]float32, 4)
	shared.bufferA.Pop(out)
	assert.InDelta(t, 0.5, float64(out[0]), 1e-6)
}

func TestDecodeStep_RespectsSpaceGate(t *testing.T) {
	shared, w := newTestWorker()
	shared.state.IsPlaying.Store(true)
	w.current = testHandle(1<<20, 0.5, 44100)

	// Fill A until less than the gate remains.
	for shared.bufferA.AvailableSpace() >= minDecodeSpace {
		w.decodeStep()
	}
	before := shared.bufferA.Len()
	w.decodeStep()
	assert.Equal(t, before, shared.bufferA.Len(), "no decode when under the space gate")
}

func TestDecodeStep_EndOfStreamWithoutNext(t *testing.T) {
	shared, w := newTestWorker()
	shared.state.IsPlaying.Store(true)
	w.current = testHandle(100, 0.5, 44100)

	w.decodeStep() // consumes all 100 frames
	w.decodeStep() // hits EOS

	require.Nil(t, w.current)
	events := drainEvents(w)
	require.Len(t, events, 1)
	assert.Equal(t, EventEndOfStream, events[0].Kind)
}

func TestHandover_DrainsBIntoAAndPublishesMetadata(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.SampleRate.Store(44100)
	st.DeviceSampleRate.Store(44100)
	st.DurationSamples.Store(100)

	w.current = testHandle(0, 0.5, 44100) // drained current
	w.next = testHandle(10000, 0.25, 48000)
	w.nextDuration = 480000
	w.nextRate = 48000
	w.cfState = crossfadeCrossfading
	w.cfTotal = 132300
	shared.crossfadeActive.Store(true)
	shared.crossfadeProgress.Store(44100) // one second of fade played

	// Start of the next track already prebuffered into B.
	shared.bufferB.Push(fill(2048, 0.25))

	w.decodeStep() // EOS on current triggers the handover

	require.NotNil(t, w.current)
	assert.Nil(t, w.next)
	assert.Equal(t, crossfadeIdle, w.cfState)
	assert.False(t, shared.crossfadeActive.Load())

	assert.Equal(t, uint64(480000), st.DurationSamples.Load())
	assert.Equal(t, uint64(48000), st.SampleRate.Load())
	// 44100 device frames scale into the 48 kHz track's timebase.
	assert.Equal(t, uint64(48000), st.PositionSamples.Load())

	// B's prebuffered samples moved into A, none orphaned.
	assert.Equal(t, 0, shared.bufferB.Len())
	require.Equal(t, 2048, shared.bufferA.Len())
	out := make([]float32, 2)
	shared.bufferA.Pop(out)
	assert.InDelta(t, 0.25, float64(out[0]), 1e-6)

	events := drainEvents(w)
	require.Len(t, events, 1)
	assert.Equal(t, EventCrossfadeHandover, events[0].Kind)
}

func TestHandover_HardCutResetsPositionToZero(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.SampleRate.Store(44100)
	st.DeviceSampleRate.Store(44100)

	w.current = testHandle(0, 0.5, 44100)
	w.next = testHandle(1000, 0.25, 44100)
	w.nextDuration = 441000
	w.nextRate = 44100
	w.cfState = crossfadePrebuffering // fade never activated
	shared.crossfadeProgress.Store(12345)

	w.decodeStep()

	assert.Equal(t, uint64(0), st.PositionSamples.Load(),
		"fade that never ran hands over at position zero")
}

func TestPrebufferTrigger_FiresOnce(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.SampleRate.Store(44100)
	shared.crossfadeDurationMs.Store(5000)

	w.current = testHandle(1<<20, 0.5, 44100)

	// Duration 60s, position right inside the lead window (fade + 10s).
	st.DurationSamples.Store(60 * 44100)
	st.PositionSamples.Store(60*44100 - (5*44100 + 10*44100) + 1)

	w.checkPrebufferTrigger()
	require.True(t, w.requestedNext)

	events := drainEvents(w)
	require.Len(t, events, 1)
	assert.Equal(t, EventRequestNextTrack, events[0].Kind)

	w.checkPrebufferTrigger()
	assert.Empty(t, drainEvents(w), "request is suppressed after the first emit")
}

func TestPrebufferTrigger_SkipsShortTracks(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.SampleRate.Store(44100)
	shared.crossfadeDurationMs.Store(5000)

	w.current = testHandle(1000, 0.5, 44100)
	st.DurationSamples.Store(3 * 44100) // shorter than the fade
	st.PositionSamples.Store(2 * 44100)

	w.checkPrebufferTrigger()
	assert.False(t, w.requestedNext)
	assert.Empty(t, drainEvents(w))
}

func TestPrebufferTrigger_DisabledWithZeroCrossfade(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.SampleRate.Store(44100)
	shared.crossfadeDurationMs.Store(0)

	w.current = testHandle(1<<20, 0.5, 44100)
	st.DurationSamples.Store(60 * 44100)
	st.PositionSamples.Store(59 * 44100)

	w.checkPrebufferTrigger()
	assert.False(t, w.requestedNext)
	assert.Empty(t, drainEvents(w))
}

func TestSecondaryStep_ActivatesFadeNearEnd(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.SampleRate.Store(44100)
	st.DeviceSampleRate.Store(44100)
	shared.crossfadeDurationMs.Store(1000)

	w.current = testHandle(1<<20, 0.5, 44100)
	w.next = testHandle(1<<20, 0.25, 44100)
	w.cfState = crossfadePrebuffering

	st.DurationSamples.Store(500000)
	st.PositionSamples.Store(450000) // inside fade + 2s of the end

	// Each step decodes 512 frames = 1024 samples into B.
	for i := 0; i < 7; i++ {
		w.secondaryStep()
		require.Equal(t, crossfadePrebuffering, w.cfState, "not enough in B yet")
	}
	w.secondaryStep() // B reaches 8192 samples

	assert.Equal(t, crossfadeCrossfading, w.cfState)
	assert.True(t, shared.crossfadeActive.Load())
	assert.Equal(t, uint64(44100), w.cfTotal)
	assert.Equal(t, uint64(0), shared.crossfadeProgress.Load())
}

func TestSecondaryStep_HoldsFarFromEnd(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.SampleRate.Store(44100)
	st.DeviceSampleRate.Store(44100)
	shared.crossfadeDurationMs.Store(1000)

	w.current = testHandle(1<<20, 0.5, 44100)
	w.next = testHandle(1<<20, 0.25, 44100)
	w.cfState = crossfadePrebuffering

	st.DurationSamples.Store(500000)
	st.PositionSamples.Store(100000)

	for i := 0; i < 20; i++ {
		w.secondaryStep()
	}

	assert.Equal(t, crossfadePrebuffering, w.cfState,
		"fade must not start until the track is near its end")
	assert.False(t, shared.crossfadeActive.Load())
}

func TestSeek_CancelsCrossfadeAndUpdatesPosition(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.SampleRate.Store(44100)

	w.current = testHandle(60*44100, 0.5, 44100)
	w.next = testHandle(1000, 0.25, 44100)
	w.cfState = crossfadeCrossfading
	w.requestedNext = true
	shared.crossfadeActive.Store(true)
	shared.bufferA.Push(fill(1024, 0.5))
	shared.bufferB.Push(fill(1024, 0.25))

	w.seek(30.0)

	assert.Nil(t, w.next)
	assert.Equal(t, crossfadeIdle, w.cfState)
	assert.False(t, w.requestedNext)
	assert.False(t, shared.crossfadeActive.Load())
	assert.Equal(t, 0, shared.bufferA.Len())
	assert.Equal(t, 0, shared.bufferB.Len())
	assert.Equal(t, uint64(30*44100), st.PositionSamples.Load())
}

func TestSeek_ClampsToTrackEnd(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.SampleRate.Store(44100)

	h := testHandle(10*44100, 0.5, 44100)
	w.current = h

	w.seek(9999.0)

	fs := h.stream.(*fakeStream)
	assert.Equal(t, 10*44100-1, fs.pos, "seek target clamps to the last frame")
}

func TestStop_ResetsEverything(t *testing.T) {
	shared, w := newTestWorker()
	st := shared.state
	st.IsPlaying.Store(true)
	st.PositionSamples.Store(777)

	w.current = testHandle(1000, 0.5, 44100)
	w.next = testHandle(1000, 0.25, 44100)
	w.cfState = crossfadePrebuffering
	shared.bufferA.Push(fill(512, 0.5))
	shared.bufferB.Push(fill(512, 0.25))
	shared.crossfadeActive.Store(true)

	w.stop()

	assert.Nil(t, w.current)
	assert.Nil(t, w.next)
	assert.False(t, st.IsPlaying.Load())
	assert.Equal(t, uint64(0), st.PositionSamples.Load())
	assert.Equal(t, 0, shared.bufferA.Len())
	assert.Equal(t, 0, shared.bufferB.Len())
	assert.False(t, shared.crossfadeActive.Load())
	assert.Equal(t, crossfadeIdle, w.cfState)
}

func TestAcceptPreloaded_RejectsWhenNextLive(t *testing.T) {
	_, w := newTestWorker()
	w.next = testHandle(1000, 0.25, 44100)
	other := testHandle(1000, 0.75, 44100)

	w.acceptPreloaded(cmdPreloaded{handle: other, durationSamples: 1000, sampleRate: 44100})

	assert.NotSame(t, other, w.next, "a live next-decoder wins")
}
