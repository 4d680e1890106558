package audio

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gopxl/beep"

	"github.com/Alexander-D-Karpov/tonearm/internal/source"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

const (
	// minDecodeSpace gates decoding into ring A: one decode step never
	// produces more than this many samples.
	minDecodeSpace = 4096

	// secondaryDecodeSpace gates decoding into ring B. B does not drain until
	// the fade starts, so the margin is generous to keep the worker from
	// spinning against a full ring.
	secondaryDecodeSpace = 16384

	// prebufferActivateSamples is how much of the next track must sit in B
	// before mixing may start.
	prebufferActivateSamples = 8192

	// preloadLeadSeconds is how long before the fade window RequestNextTrack
	// fires, giving the host time to resolve and open the next track.
	preloadLeadSeconds = 10

	// nearEndLeadSeconds pads the fade activation window.
	nearEndLeadSeconds = 2

	decodeFrames = 512
)

// EventKind identifies a decoder event.
type EventKind int

const (
	EventRequestNextTrack EventKind = iota
	EventCrossfadeHandover
	EventEndOfStream
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventRequestNextTrack:
		return "request-next-track"
	case EventCrossfadeHandover:
		return "crossfade-handover"
	case EventEndOfStream:
		return "end-of-stream"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is what the decoder worker reports to the engine.
type Event struct {
	Kind    EventKind
	Message string
}

type decoderCommand interface {
	isDecoderCommand()
}

type cmdLoad struct{ uri string }
type cmdPreloaded struct {
	handle          *decoderHandle
	durationSamples uint64
	sampleRate      uint32
}
type cmdChain struct{ uri string }
type cmdSeek struct{ seconds float64 }
type cmdStop struct{}

func (cmdLoad) isDecoderCommand()      {}
func (cmdPreloaded) isDecoderCommand() {}
func (cmdChain) isDecoderCommand()     {}
func (cmdSeek) isDecoderCommand()      {}
func (cmdStop) isDecoderCommand()      {}

// decoderHandle bundles one open track: its source, its streaming decoder and
// the resampler bridging source rate to device rate. output is what gets
// pulled; it equals stream when no resampling is needed, keeping that path
// bit-exact.
type decoderHandle struct {
	stream          beep.StreamSeekCloser
	format          beep.Format
	output          beep.Streamer
	resampler       *beep.Resampler
	uri             string
	codec           string
	sampleRate      uint32
	durationSamples uint64

	scratch     [][2]float64
	interleaved []float32
	exhausted   bool
}

func (h *decoderHandle) close() {
	if h != nil && h.stream != nil {
		_ = h.stream.Close()
	}
}

// openSource maps a resolved location onto a media source. HTTP locations are
// wrapped in a prefetcher; everything else is treated as a local path.
func openSource(resolved string, httpOpts *source.HTTPOptions, prefetchBytes int, debug bool) (source.MediaSource, string, error) {
	if strings.HasPrefix(resolved, "http://") || strings.HasPrefix(resolved, "https://") {
		httpSrc, err := source.NewHTTPSource(resolved, httpOpts)
		if err != nil {
			return nil, "", err
		}
		return source.NewPrefetchSource(httpSrc, prefetchBytes, debug), httpSrc.ContentType(), nil
	}

	path := strings.TrimPrefix(resolved, "file://")
	path = strings.TrimPrefix(path, "file:")
	fileSrc, err := source.NewFileSource(path)
	if err != nil {
		return nil, "", err
	}
	return fileSrc, "", nil
}

// loadHandle opens a track end to end: source, decoder, resampler.
func loadHandle(resolved string, deviceRate uint32, httpOpts *source.HTTPOptions, prefetchBytes int, debug bool) (*decoderHandle, error) {
	ms, contentType, err := openSource(resolved, httpOpts, prefetchBytes, debug)
	if err != nil {
		return nil, err
	}

	stream, format, codec, err := openDecoder(ms, resolved, contentType)
	if err != nil {
		ms.Close()
		return nil, err
	}

	h := &decoderHandle{
		stream:          stream,
		format:          format,
		uri:             resolved,
		codec:           codec,
		sampleRate:      uint32(format.SampleRate),
		durationSamples: uint64(max(stream.Len(), 0)),
		scratch:         make([][2]float64, decodeFrames),
		interleaved:     make([]float32, decodeFrames*2),
	}

	h.output = stream
	if deviceRate != 0 && uint32(format.SampleRate) != deviceRate {
		h.resampler = beep.Resample(4, format.SampleRate, beep.SampleRate(deviceRate), stream)
		h.output = h.resampler
	}

	return h, nil
}

type decoderWorker struct {
	shared   *sharedAudio
	commands chan decoderCommand
	events   chan Event
	resolver types.Resolver

	httpOpts      *source.HTTPOptions
	prefetchBytes int
	debug         bool

	current *decoderHandle
	next    *decoderHandle

	cfState       crossfadeState
	cfTotal       uint64
	requestedNext bool
	nextDuration  uint64
	nextRate      uint32

	transfer []float32
}

func newDecoderWorker(shared *sharedAudio, resolver types.Resolver, httpOpts *source.HTTPOptions, prefetchBytes int, debug bool) *decoderWorker {
	return &decoderWorker{
		shared:        shared,
		commands:      make(chan decoderCommand, 16),
		events:        make(chan Event, 64),
		resolver:      resolver,
		httpOpts:      httpOpts,
		prefetchBytes: prefetchBytes,
		debug:         debug,
		transfer:      make([]float32, minDecodeSpace),
	}
}

func (w *decoderWorker) emit(kind EventKind, message string) {
	select {
	case w.events <- Event{Kind: kind, Message: message}:
	default:
		log.Printf("[DECODER] Event queue full, dropping %s", kind)
	}
}

func (w *decoderWorker) run() {
	for {
		if w.shared.shutdown.Load() {
			break
		}

		var cmd decoderCommand
		if w.current != nil && w.shared.state.IsPlaying.Load() {
			select {
			case cmd = <-w.commands:
			default:
			}
		} else {
			select {
			case cmd = <-w.commands:
			case <-time.After(100 * time.Millisecond):
			}
		}

		if w.shared.shutdown.Load() {
			break
		}

		if cmd != nil {
			w.handleCommand(cmd)
		}

		if w.current != nil {
			if !w.shared.state.IsPlaying.Load() {
				time.Sleep(10 * time.Millisecond)
				continue
			}

			w.checkPrebufferTrigger()
			w.decodeStep()

			if w.cfState == crossfadePrebuffering || w.cfState == crossfadeCrossfading {
				w.secondaryStep()
			}

			if w.shared.bufferA.AvailableSpace() < minDecodeSpace {
				time.Sleep(500 * time.Microsecond)
			}
		}
	}

	w.current.close()
	w.current = nil
	w.next.close()
	w.next = nil
}

func (w *decoderWorker) handleCommand(cmd decoderCommand) {
	switch c := cmd.(type) {
	case cmdLoad:
		w.load(c.uri)
	case cmdPreloaded:
		w.acceptPreloaded(c)
	case cmdChain:
		w.chain(c.uri)
	case cmdSeek:
		w.seek(c.seconds)
	case cmdStop:
		w.stop()
	}
}

func (w *decoderWorker) resetTransient() {
	w.shared.bufferA.Clear()
	w.shared.bufferB.Clear()
	w.shared.crossfadeActive.Store(false)
	w.shared.crossfadeProgress.Store(0)
	w.next.close()
	w.next = nil
	w.cfState = crossfadeIdle
	w.requestedNext = false
}

func (w *decoderWorker) openResolved(uri string) (*decoderHandle, error) {
	resolved := uri
	if w.resolver != nil {
		var err error
		resolved, err = w.resolver.Resolve(uri)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", uri, err)
		}
	}

	deviceRate := w.shared.state.DeviceSampleRate.Load()
	return loadHandle(resolved, deviceRate, w.httpOpts, w.prefetchBytes, w.debug)
}

func (w *decoderWorker) load(uri string) {
	w.resetTransient()

	handle, err := w.openResolved(uri)
	if err != nil {
		w.emit(EventError, fmt.Sprintf("Failed to load %s: %v", uri, err))
		return
	}

	w.current.close()
	w.current = handle

	st := w.shared.state
	st.PositionSamples.Store(0)
	st.DurationSamples.Store(handle.durationSamples)
	st.SampleRate.Store(uint64(handle.sampleRate))
	st.IsPlaying.Store(true)

	if w.debug {
		log.Printf("[DECODER] Loaded %s - codec: %s, rate: %d, duration: %d samples",
			uri, handle.codec, handle.sampleRate, handle.durationSamples)
	}
}

func (w *decoderWorker) acceptPreloaded(c cmdPreloaded) {
	if w.next != nil {
		c.handle.close()
		return
	}

	w.next = c.handle
	w.shared.bufferB.Clear()
	w.nextDuration = c.durationSamples
	w.nextRate = c.sampleRate
	w.cfState = crossfadePrebuffering

	if w.debug {
		log.Printf("[DECODER] Accepted preloaded next track %s", c.handle.uri)
	}
}

// chain is the synchronous fallback when no preloaded decoder arrived before
// the current track ended. It loads blocking into the current slot; ring A is
// left alone so any tail samples still play out.
func (w *decoderWorker) chain(uri string) {
	if w.next != nil {
		return
	}

	log.Printf("[DECODER] Chain without preloaded track, loading blocking: %s", uri)

	handle, err := w.openResolved(uri)
	if err != nil {
		w.emit(EventError, fmt.Sprintf("Failed to chain %s: %v", uri, err))
		return
	}

	w.current.close()
	w.current = handle

	st := w.shared.state
	st.DurationSamples.Store(handle.durationSamples)
	st.SampleRate.Store(uint64(handle.sampleRate))
	st.PositionSamples.Store(0)
	st.IsPlaying.Store(true)
}

func (w *decoderWorker) seek(seconds float64) {
	if w.current == nil {
		return
	}
	if seconds < 0 {
		seconds = 0
	}

	sampleRate := w.shared.state.SampleRate.Load()
	target := int(seconds * float64(sampleRate))
	if l := w.current.stream.Len(); l > 0 && target >= l {
		target = l - 1
	}

	if err := w.current.stream.Seek(target); err != nil {
		log.Printf("[DECODER] Seek to %.2fs failed: %v", seconds, err)
		return
	}

	w.current.exhausted = false
	w.shared.bufferA.Clear()
	w.shared.bufferB.Clear()
	w.shared.crossfadeActive.Store(false)
	w.shared.crossfadeProgress.Store(0)
	w.next.close()
	w.next = nil
	w.cfState = crossfadeIdle
	w.requestedNext = false
	w.shared.state.PositionSamples.Store(uint64(seconds * float64(sampleRate)))
}

func (w *decoderWorker) stop() {
	st := w.shared.state
	st.IsPlaying.Store(false)
	st.PositionSamples.Store(0)
	w.resetTransient()
	w.current.close()
	w.current = nil
}

// checkPrebufferTrigger fires RequestNextTrack once per track, early enough
// for the host to resolve and open the follow-up before the fade window.
func (w *decoderWorker) checkPrebufferTrigger() {
	cfMs := uint64(w.shared.crossfadeDurationMs.Load())
	if cfMs == 0 || w.cfState != crossfadeIdle || w.next != nil || w.requestedNext {
		return
	}

	st := w.shared.state
	sampleRate := st.SampleRate.Load()
	cfSamples := cfMs * sampleRate / 1000
	duration := st.DurationSamples.Load()
	position := st.PositionSamples.Load()

	if duration <= cfSamples {
		return
	}

	lead := cfSamples + sampleRate*preloadLeadSeconds
	if lead > duration {
		return
	}

	if position >= duration-lead {
		w.requestedNext = true
		w.emit(EventRequestNextTrack, "")
	}
}

func (w *decoderWorker) decodeStep() {
	if w.shared.bufferA.AvailableSpace() < minDecodeSpace {
		return
	}

	h := w.current
	n, ok := h.output.Stream(h.scratch)
	if n > 0 {
		w.pushInterleaved(w.shared.bufferA, h, n)
	}
	if ok {
		return
	}

	if err := h.stream.Err(); err != nil {
		log.Printf("[DECODER] Stream error on %s: %v", h.uri, err)
	}

	if w.next != nil {
		w.handover()
		return
	}

	if w.debug {
		final := w.shared.state.PositionSamples.Load()
		log.Printf("[DECODER] Reached EOS at sample %d (expected %d)",
			final, w.shared.state.DurationSamples.Load())
	}
	w.emit(EventEndOfStream, "")
	h.close()
	w.current = nil
}

// handover promotes the next decoder to current at the moment the old track
// runs dry. Samples already prebuffered into B are the start of the new
// track; the output mixer consumed some of them during fade-out and the rest
// must move into A or they would be orphaned.
func (w *decoderWorker) handover() {
	// Fade progress at swap time: 0 on a hard cut, about the crossfade
	// length when the fade ran to completion.
	startPos := w.shared.crossfadeProgress.Load()
	if w.cfState != crossfadeCrossfading {
		startPos = 0
	}
	if w.cfTotal > 0 && startPos > w.cfTotal {
		startPos = w.cfTotal
	}

	w.current.close()
	w.current = w.next
	w.next = nil
	w.requestedNext = false
	w.cfState = crossfadeIdle

	w.shared.bufferA.Clear()

	for {
		read := w.shared.bufferB.Pop(w.transfer)
		if read == 0 {
			break
		}
		written := 0
		for written < read {
			n := w.shared.bufferA.Push(w.transfer[written:read])
			if n == 0 {
				break
			}
			written += n
		}
	}
	w.shared.bufferB.Clear()

	st := w.shared.state
	// The output stage counts fade progress in device frames; convert into
	// the new track's source timebase.
	deviceRate := uint64(st.DeviceSampleRate.Load())
	if deviceRate > 0 && w.nextRate > 0 && deviceRate != uint64(w.nextRate) {
		startPos = startPos * uint64(w.nextRate) / deviceRate
	}

	log.Printf("[DECODER] Handover: duration=%d rate=%d position=%d",
		w.nextDuration, w.nextRate, startPos)

	st.DurationSamples.Store(w.nextDuration)
	st.SampleRate.Store(uint64(w.nextRate))
	st.PositionSamples.Store(startPos)

	w.shared.crossfadeActive.Store(false)

	w.emit(EventCrossfadeHandover, "")
}

func (w *decoderWorker) secondaryStep() {
	if w.next == nil || w.next.exhausted {
		return
	}
	if w.shared.bufferB.AvailableSpace() < secondaryDecodeSpace {
		return
	}

	h := w.next
	n, ok := h.output.Stream(h.scratch)
	if n > 0 {
		w.pushInterleaved(w.shared.bufferB, h, n)
	}
	if !ok {
		// Next track fully prebuffered before the fade even started.
		h.exhausted = true
	}

	if w.cfState != crossfadePrebuffering {
		return
	}
	if w.shared.bufferB.Len() < prebufferActivateSamples {
		return
	}

	st := w.shared.state
	cfMs := uint64(w.shared.crossfadeDurationMs.Load())
	sampleRate := st.SampleRate.Load()
	cfSamples := cfMs * sampleRate / 1000
	duration := st.DurationSamples.Load()
	position := st.PositionSamples.Load()

	nearEnd := cfMs > 0 && duration > 0 &&
		position >= saturatingSub(duration, cfSamples+sampleRate*nearEndLeadSeconds)
	if !nearEnd {
		return
	}

	w.cfState = crossfadeCrossfading
	w.cfTotal = cfMs * uint64(st.DeviceSampleRate.Load()) / 1000
	w.shared.crossfadeProgress.Store(0)
	w.shared.crossfadeActive.Store(true)

	if w.debug {
		log.Printf("[DECODER] Crossfade active, %d samples", cfSamples)
	}
}

// pushInterleaved converts n stereo frames from the handle's scratch buffer
// and pushes them into the ring, sleeping briefly while it is full.
func (w *decoderWorker) pushInterleaved(ring *RingBuffer, h *decoderHandle, n int) {
	out := h.interleaved[:n*2]
	for i := 0; i < n; i++ {
		out[i*2] = float32(h.scratch[i][0])
		out[i*2+1] = float32(h.scratch[i][1])
	}

	written := 0
	for written < len(out) {
		pushed := ring.Push(out[written:])
		if pushed == 0 {
			if w.shared.shutdown.Load() {
				return
			}
			time.Sleep(100 * time.Microsecond)
			continue
		}
		written += pushed
	}
}

func saturatingSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
