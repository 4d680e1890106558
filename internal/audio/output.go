package audio

import (
	"log"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/Alexander-D-Karpov/tonearm/internal/handlers"
	"github.com/Alexander-D-Karpov/tonearm/pkg/types"
)

const (
	// MicroFadeSamples is the linear cross-blend length hiding the seam
	// between the tail of B and the head of A at drain end. It counts
	// interleaved samples: 256 stereo frames, ~5ms at 48kHz.
	MicroFadeSamples = 512

	outputChannels   = 2
	callbackScratch  = 16384
	devicePollPeriod = 500 * time.Millisecond
	noDeviceRetry    = 1 * time.Second
	rebuildRetry     = 500 * time.Millisecond
)

// outputStage owns the device stream. The outer loop (its own goroutine)
// opens the default output device, rebuilds the stream across device changes
// and reports device trouble as events. The callback itself pops the rings,
// mixes the crossfade and micro-fade, runs the DSP chain and converts to the
// device format without allocating or blocking.
type outputStage struct {
	shared *sharedAudio
	bus    *handlers.EventBus
	debug  bool

	// Callback state. The audio host invokes the callback from a single
	// thread, so these need no synchronization beyond the shared atomics.
	tempA        []float32
	tempB        []float32
	mix          []float32
	drainingB    bool
	microFade    bool
	microFadePos int
}

func newOutputStage(shared *sharedAudio, bus *handlers.EventBus, debug bool) *outputStage {
	return &outputStage{
		shared: shared,
		bus:    bus,
		debug:  debug,
		tempA:  make([]float32, callbackScratch),
		tempB:  make([]float32, callbackScratch),
		mix:    make([]float32, callbackScratch),
	}
}

func (o *outputStage) publishError(code, title, message string) {
	log.Printf("[OUTPUT] %s: %s", code, message)
	if o.bus != nil {
		o.bus.Publish(handlers.EventAudioError, types.AudioError{
			Code:    code,
			Title:   title,
			Message: message,
		})
	}
}

// run is the device-manager outer loop.
func (o *outputStage) run() {
	if err := portaudio.Initialize(); err != nil {
		o.publishError("CONFIG_ERROR", "Audio Init Failed", err.Error())
		return
	}
	defer portaudio.Terminate()

	var currentDeviceName string
	noDeviceNotified := false

	for {
		if o.shared.shutdown.Load() {
			return
		}

		info, err := portaudio.DefaultOutputDevice()
		if err != nil || info == nil {
			if !noDeviceNotified {
				o.publishError("NO_DEVICE", "No Audio Device",
					"No audio output device found. Please connect speakers or headphones.")
				noDeviceNotified = true
			}
			time.Sleep(noDeviceRetry)
			continue
		}
		noDeviceNotified = false

		if currentDeviceName != info.Name {
			if currentDeviceName != "" && o.bus != nil {
				o.bus.Publish(handlers.EventDeviceChanged, types.DeviceChanged{DeviceName: info.Name})
			}
			currentDeviceName = info.Name
		}

		sampleRate := info.DefaultSampleRate
		if sampleRate <= 0 {
			o.publishError("CONFIG_ERROR", "Audio Configuration Error",
				"Device reports no usable sample rate")
			time.Sleep(noDeviceRetry)
			continue
		}
		o.shared.state.DeviceSampleRate.Store(uint32(sampleRate))

		stream, err := o.openStream(info, sampleRate)
		if err != nil {
			o.publishError("STREAM_BUILD_ERROR", "Failed to Start Audio",
				"Could not create audio stream. Retrying...")
			time.Sleep(rebuildRetry)
			continue
		}

		if err := stream.Start(); err != nil {
			o.publishError("STREAM_ERROR", "Audio Stream Error", err.Error())
			stream.Close()
			time.Sleep(rebuildRetry)
			continue
		}

		if o.debug {
			log.Printf("[OUTPUT] Stream running on %q at %.0f Hz", info.Name, sampleRate)
		}

		// Monitor for device changes or shutdown.
		for {
			if o.shared.shutdown.Load() {
				stream.Stop()
				stream.Close()
				return
			}

			newInfo, err := portaudio.DefaultOutputDevice()
			if err != nil || newInfo == nil || newInfo.Name != currentDeviceName {
				break
			}

			time.Sleep(devicePollPeriod)
		}

		stream.Stop()
		stream.Close()
		time.Sleep(rebuildRetry)
	}
}

// openStream builds a float32 stream, falling back to int16 when the host
// refuses float samples.
func (o *outputStage) openStream(info *portaudio.DeviceInfo, sampleRate float64) (*portaudio.Stream, error) {
	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: outputChannels,
			Latency:  info.DefaultHighOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: portaudio.FramesPerBufferUnspecified,
	}

	stream, err := portaudio.OpenStream(params, o.callbackF32)
	if err == nil {
		return stream, nil
	}

	stream, err16 := portaudio.OpenStream(params, o.callbackI16)
	if err16 == nil {
		return stream, nil
	}

	return nil, err
}

func (o *outputStage) callbackF32(out []float32) {
	for off := 0; off < len(out); off += callbackScratch {
		end := off + callbackScratch
		if end > len(out) {
			end = len(out)
		}
		o.fillBlock(out[off:end])
	}
}

func (o *outputStage) callbackI16(out []int16) {
	for off := 0; off < len(out); off += callbackScratch {
		end := off + callbackScratch
		if end > len(out) {
			end = len(out)
		}
		block := o.mix[:end-off]
		o.fillBlock(block)
		for i, s := range block {
			if s > 1 {
				s = 1
			} else if s < -1 {
				s = -1
			}
			out[off+i] = int16(s * 32767)
		}
	}
}

// fillBlock produces one block of interleaved stereo device samples. Modes,
// selected per call: silent, crossfading, draining B (with optional
// micro-fade), drain end, normal.
func (o *outputStage) fillBlock(out []float32) {
	st := o.shared.state

	if !st.IsPlaying.Load() {
		for i := range out {
			out[i] = 0
		}
		return
	}

	volume := st.Volume()
	deviceRate := uint64(st.DeviceSampleRate.Load())
	isCrossfading := o.shared.crossfadeActive.Load()
	cfTotalFrames := uint64(o.shared.crossfadeDurationMs.Load()) * deviceRate / 1000

	// Start the micro-fade early enough that B cannot run dry mid-block.
	samplesInB := o.shared.bufferB.Len()
	if o.drainingB && !isCrossfading && samplesInB > 0 &&
		samplesInB <= MicroFadeSamples+len(out) && !o.microFade {
		o.microFade = true
		o.microFadePos = 0
	}

	tempA := o.tempA[:len(out)]
	tempB := o.tempB[:len(out)]
	mix := o.mix[:len(out)]

	var readA, readB int
	switch {
	case isCrossfading:
		readA = o.shared.bufferA.Pop(tempA)
		readB = o.shared.bufferB.Pop(tempB)
	case o.drainingB && o.microFade:
		readA = o.shared.bufferA.Pop(tempA)
		readB = o.shared.bufferB.Pop(tempB)
	case o.drainingB:
		// Only drain B; A is being refilled with the new current track.
		readB = o.shared.bufferB.Pop(tempB)
	default:
		readA = o.shared.bufferA.Pop(tempA)
	}

	readSamples := readA
	if readB > readSamples {
		readSamples = readB
	}

	switch {
	case isCrossfading:
		// Once the fade starts, B's residue must play out before A resumes.
		o.drainingB = true

		progress := o.shared.crossfadeProgress.Load()
		complete := cfTotalFrames == 0 || progress >= cfTotalFrames

		for i := 0; i < readSamples; i++ {
			var gainA, gainB float32
			if complete {
				gainA, gainB = 0, 1
			} else {
				t := float64(progress+uint64(i/outputChannels)) / float64(cfTotalFrames)
				if t > 1 {
					t = 1
				}
				gainA = float32(math.Cos(t * math.Pi / 2))
				gainB = float32(math.Sin(t * math.Pi / 2))
			}

			var a, b float32
			if i < readA {
				a = tempA[i]
			}
			if i < readB {
				b = tempB[i]
			}
			mix[i] = a*gainA + b*gainB
		}

		if !complete {
			o.shared.crossfadeProgress.Add(uint64(readSamples / outputChannels))
		}

	case o.drainingB && readB > 0:
		if o.microFade {
			progress := o.microFadePos
			for i := 0; i < readSamples; i++ {
				var a, b float32
				if i < readA {
					a = tempA[i]
				}
				if i < readB {
					b = tempB[i]
				}
				t := float32(progress+i) / MicroFadeSamples
				if t > 1 {
					t = 1
				}
				mix[i] = b*(1-t) + a*t
			}
			o.microFadePos += readSamples
		} else {
			for i := 0; i < readSamples; i++ {
				if i < readB {
					mix[i] = tempB[i]
				} else {
					mix[i] = 0
				}
			}
		}

	case o.drainingB && readB == 0:
		// B ran dry: finish any in-flight micro-fade on A and return to
		// normal playback.
		if !o.microFade {
			readA = o.shared.bufferA.Pop(tempA)
		}
		readSamples = readA

		wasMicro := o.microFade
		microProgress := o.microFadePos
		o.microFade = false
		o.microFadePos = 0
		o.drainingB = false
		o.shared.crossfadeProgress.Store(0)

		remainingFade := 0
		if wasMicro && microProgress < MicroFadeSamples {
			remainingFade = MicroFadeSamples - microProgress
		}

		for i := 0; i < readSamples; i++ {
			a := tempA[i]
			if i < remainingFade {
				t := float32(microProgress+i) / MicroFadeSamples
				if t > 1 {
					t = 1
				}
				mix[i] = a * t
			} else {
				mix[i] = a
			}
		}

	default:
		for i := 0; i < readSamples; i++ {
			mix[i] = tempA[i]
		}
	}

	if readSamples > 0 {
		o.shared.dsp.Process(mix[:readSamples], outputChannels, int(deviceRate))
	}

	for i := range out {
		if i < readSamples {
			out[i] = mix[i] * volume
		} else {
			out[i] = 0
		}
	}

	// Advance position in the source timebase so seconds stay correct even
	// while resampling.
	if readSamples > 0 {
		srcRate := float64(st.SampleRate.Load())
		ratio := 1.0
		if deviceRate > 0 {
			ratio = srcRate / float64(deviceRate)
		}
		framesPlayed := readSamples / outputChannels
		st.PositionSamples.Add(uint64(float64(framesPlayed) * ratio))
	}
}
