package audio

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Alexander-D-Karpov/tonearm/internal/config"
	"github.com/Alexander-D-Karpov/tonearm/internal/handlers"
	"github.com/Alexander-D-Karpov/tonearm/internal/queue"
	"github.com/Alexander-D-Karpov/tonearm/internal/source"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

// Engine is the externally visible handle over the playback pipeline. It
// owns the command sender, spawns the decoder worker and the device manager,
// and feeds decoder events back into queue advancement, history and the
// host event bus. Controller methods never fail synchronously; trouble
// surfaces as events.
type Engine struct {
	cfg      *config.Config
	shared   *sharedAudio
	worker   *decoderWorker
	output   *outputStage
	bus      *handlers.EventBus
	resolver types.Resolver
	storage  types.Storage
	queue    *queue.Queue

	httpOpts      *source.HTTPOptions
	prefetchBytes int
	debug         bool

	mu             sync.Mutex
	historyEntryID string
	currentTrack   *types.Track
	playStarted    time.Time

	wg sync.WaitGroup
}

func NewEngine(cfg *config.Config, resolver types.Resolver, store types.Storage, bus *handlers.EventBus) *Engine {
	shared := newSharedAudio(cfg.Audio.BufferCapacitySamples)
	shared.crossfadeDurationMs.Store(uint32(cfg.Audio.CrossfadeDurationMs))

	if cfg.Audio.LoudnessNormalization {
		shared.dsp.Add(NewLoudnessNormalizer())
	}
	shared.state.SetVolume(float32(cfg.Audio.DefaultVolume))

	httpOpts := &source.HTTPOptions{
		Retries:   cfg.HTTP.Retries,
		Timeout:   time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		UserAgent: cfg.HTTP.UserAgent,
		Debug:     cfg.Debug,
	}

	e := &Engine{
		cfg:           cfg,
		shared:        shared,
		bus:           bus,
		resolver:      resolver,
		storage:       store,
		queue:         queue.New(),
		httpOpts:      httpOpts,
		prefetchBytes: cfg.Audio.MaxPrefetchBytes,
		debug:         cfg.Debug,
	}

	e.worker = newDecoderWorker(shared, resolver, httpOpts, e.prefetchBytes, cfg.Debug)
	e.output = newOutputStage(shared, bus, cfg.Debug)

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.worker.run()
	}()
	go func() {
		defer e.wg.Done()
		e.output.run()
	}()
	go func() {
		defer e.wg.Done()
		e.eventLoop()
	}()

	if cfg.Debug {
		log.Printf("[AUDIO] Engine started - crossfade: %dms, buffers: %d samples",
			cfg.Audio.CrossfadeDurationMs, cfg.Audio.BufferCapacitySamples)
	}

	return e
}

// eventLoop consumes decoder events: preloads upcoming tracks, advances the
// queue across transitions and records play history.
func (e *Engine) eventLoop() {
	for {
		if e.shared.shutdown.Load() {
			return
		}

		select {
		case ev := <-e.worker.events:
			e.handleDecoderEvent(ev)
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (e *Engine) handleDecoderEvent(ev Event) {
	switch ev.Kind {
	case EventRequestNextTrack:
		next := e.queue.PeekNext()
		if next == nil {
			return
		}
		go e.preloadNext(next)

	case EventCrossfadeHandover:
		e.finishHistory(true)
		track := e.queue.Advance()
		e.startHistory(track)
		if e.bus != nil {
			e.bus.Publish(handlers.EventTrackChanged, track)
		}

	case EventEndOfStream:
		e.finishHistory(true)
		next := e.queue.Advance()
		if next == nil {
			e.shared.state.IsPlaying.Store(false)
			if e.bus != nil {
				e.bus.Publish(handlers.EventTrackFinished, e.CurrentTrack())
			}
			return
		}
		e.shared.state.SetCurrentPath(next.PlayURI())
		e.startHistory(next)
		e.worker.commands <- cmdChain{uri: next.PlayURI()}
		if e.bus != nil {
			e.bus.Publish(handlers.EventTrackChanged, next)
		}

	case EventError:
		log.Printf("[AUDIO] Decoder error: %s", ev.Message)
		if e.bus != nil {
			e.bus.Publish(handlers.EventPlaybackError, ev.Message)
		}
	}
}

// preloadNext opens the upcoming track off the decoder thread and hands the
// finished decoder over. On failure the decoder simply never receives a
// next-decoder and EndOfStream fires as usual; the event loop then chains.
func (e *Engine) preloadNext(track *types.Track) {
	uri := track.PlayURI()

	resolved := uri
	if e.resolver != nil {
		var err error
		resolved, err = e.resolver.Resolve(uri)
		if err != nil {
			log.Printf("[AUDIO] Preload resolve failed for %s: %v", uri, err)
			return
		}
	}

	deviceRate := e.shared.state.DeviceSampleRate.Load()
	handle, err := loadHandle(resolved, deviceRate, e.httpOpts, e.prefetchBytes, e.debug)
	if err != nil {
		log.Printf("[AUDIO] Preload failed for %s: %v", uri, err)
		return
	}

	e.worker.commands <- cmdPreloaded{
		handle:          handle,
		durationSamples: handle.durationSamples,
		sampleRate:      handle.sampleRate,
	}

	if e.debug {
		log.Printf("[AUDIO] Preloaded next track: %s", uri)
	}
}

// Play starts playback of a URI directly, outside queue bookkeeping.
func (e *Engine) Play(uri string) {
	e.shared.state.SetCurrentPath(uri)
	e.worker.commands <- cmdLoad{uri: uri}
}

// PlayTrack starts a library track and records the play.
func (e *Engine) PlayTrack(track *types.Track) {
	if track == nil {
		return
	}
	e.finishHistory(false)
	e.queue.PlayTrack(track)
	e.startHistory(track)
	e.Play(track.PlayURI())
}

// Pause halts output without tearing anything down. The decoder observes the
// flag and idles; the callback emits silence, so position does not advance.
func (e *Engine) Pause() {
	e.shared.state.IsPlaying.Store(false)
}

func (e *Engine) Resume() {
	e.shared.state.IsPlaying.Store(true)
}

func (e *Engine) Stop() {
	e.finishHistory(false)
	e.worker.commands <- cmdStop{}
}

func (e *Engine) Seek(seconds float64) {
	e.worker.commands <- cmdSeek{seconds: seconds}
}

// Chain loads the given URI as the immediate continuation of the current
// track, the synchronous fallback when no preload was delivered in time.
func (e *Engine) Chain(uri string) {
	e.worker.commands <- cmdChain{uri: uri}
}

func (e *Engine) SetVolume(v float64) {
	e.shared.state.SetVolume(float32(v))
}

func (e *Engine) Volume() float64 {
	return float64(e.shared.state.Volume())
}

func (e *Engine) GetPosition() float64 {
	return e.shared.state.PositionSeconds()
}

func (e *Engine) GetDuration() float64 {
	return e.shared.state.DurationSeconds()
}

func (e *Engine) IsPlaying() bool {
	return e.shared.state.IsPlaying.Load()
}

func (e *Engine) CurrentPath() string {
	return e.shared.state.CurrentPath()
}

func (e *Engine) CurrentTrack() *types.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTrack
}

// SetCrossfadeDuration adjusts the fade length; 0 disables crossfading.
func (e *Engine) SetCrossfadeDuration(ms uint32) {
	e.shared.crossfadeDurationMs.Store(ms)
}

// Queue exposes the play queue for host-side manipulation.
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// DSP exposes the processing chain so the host can toggle processors.
func (e *Engine) DSP() *DspChain {
	return e.shared.dsp
}

// Shutdown stops both workers. They observe the flag within one poll.
func (e *Engine) Shutdown() {
	e.finishHistory(false)
	e.shared.shutdown.Store(true)
	e.wg.Wait()
}

func (e *Engine) startHistory(track *types.Track) {
	e.mu.Lock()
	e.currentTrack = track
	e.playStarted = time.Now()
	e.historyEntryID = ""
	e.mu.Unlock()

	if track == nil || e.storage == nil {
		return
	}

	src := string(track.SourceType)
	id, err := e.storage.RecordPlay(context.Background(), track.ID, &src)
	if err != nil {
		log.Printf("[AUDIO] Failed to record play: %v", err)
		return
	}

	e.mu.Lock()
	e.historyEntryID = id
	e.mu.Unlock()
}

func (e *Engine) finishHistory(completed bool) {
	e.mu.Lock()
	entryID := e.historyEntryID
	started := e.playStarted
	e.historyEntryID = ""
	e.mu.Unlock()

	if entryID == "" || e.storage == nil {
		return
	}

	played := int64(time.Since(started).Seconds())
	if err := e.storage.UpdatePlayCompletion(context.Background(), entryID, played, completed); err != nil {
		log.Printf("[AUDIO] Failed to update play history: %v", err)
	}
}
