package audio

import (
	"errors"
	"io"

	"github.com/gopxl/beep"
	"gopkg.in/hraban/opus.v2"
)

// Opus always decodes at 48 kHz regardless of the input rate.
const opusSampleRate = 48000

// maxOpusFrame is the largest possible Opus frame: 120 ms at 48 kHz.
const maxOpusFrame = 5760

// opusDecoder wraps an Ogg packet reader and an Opus packet decoder into a
// beep.StreamSeekCloser. The container keeps no sample index, so accurate
// seeking rewinds the source and decodes forward, discarding up to the
// target.
type opusDecoder struct {
	src      io.ReadSeeker
	ogg      *oggPacketReader
	decoder  *opus.Decoder
	closer   io.Closer
	channels int

	pcmBuffer []float32
	pcmPos    int
	position  int64
	preSkip   int64
	skip      int64 // pre-skip samples still to drop

	err error
}

func decodeOpus(rsc io.ReadSeekCloser) (beep.StreamSeekCloser, beep.Format, error) {
	ogg := newOggPacketReader(rsc)

	channels, err := ogg.Channels()
	if err != nil {
		return nil, beep.Format{}, err
	}

	decoder, err := opus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, beep.Format{}, err
	}

	format := beep.Format{
		SampleRate:  opusSampleRate,
		NumChannels: channels,
		Precision:   2,
	}

	d := &opusDecoder{
		src:      rsc,
		ogg:      ogg,
		decoder:  decoder,
		closer:   rsc,
		channels: channels,
		preSkip:  int64(ogg.PreSkip()),
		skip:     int64(ogg.PreSkip()),
	}
	d.pcmBuffer = make([]float32, maxOpusFrame*channels)
	d.pcmPos = len(d.pcmBuffer) // empty, first Stream call refills

	return d, format, nil
}

func (d *opusDecoder) Stream(samples [][2]float64) (n int, ok bool) {
	if d.err != nil {
		return 0, false
	}

	for n < len(samples) {
		if d.pcmPos < len(d.pcmBuffer) {
			if d.skip > 0 {
				drop := int(d.skip) * d.channels
				if avail := len(d.pcmBuffer) - d.pcmPos; drop > avail {
					drop = avail
				}
				d.pcmPos += drop
				d.skip -= int64(drop / d.channels)
				continue
			}

			for n < len(samples) && d.pcmPos < len(d.pcmBuffer) {
				if d.channels == 2 {
					samples[n][0] = float64(d.pcmBuffer[d.pcmPos])
					samples[n][1] = float64(d.pcmBuffer[d.pcmPos+1])
					d.pcmPos += 2
				} else {
					samples[n][0] = float64(d.pcmBuffer[d.pcmPos])
					samples[n][1] = float64(d.pcmBuffer[d.pcmPos])
					d.pcmPos++
				}
				n++
				d.position++
			}
			continue
		}

		packet, err := d.ogg.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, n > 0
			}
			d.err = err
			return n, n > 0
		}

		perChannel, err := d.decoder.DecodeFloat32(packet, d.pcmBuffer[:cap(d.pcmBuffer)])
		if err != nil {
			// Single bad packet, try the next one.
			continue
		}
		d.pcmBuffer = d.pcmBuffer[:perChannel*d.channels]
		d.pcmPos = 0
	}

	return n, true
}

func (d *opusDecoder) Err() error {
	return d.err
}

// Len is unknown without a trailer scan, which streaming sources forbid.
func (d *opusDecoder) Len() int {
	return 0
}

func (d *opusDecoder) Position() int {
	return int(d.position)
}

func (d *opusDecoder) Seek(p int) error {
	if p < 0 {
		p = 0
	}

	if _, err := d.src.Seek(0, io.SeekStart); err != nil {
		return err
	}

	d.ogg = newOggPacketReader(d.src)
	d.pcmBuffer = d.pcmBuffer[:cap(d.pcmBuffer)]
	d.pcmPos = len(d.pcmBuffer)
	d.position = 0
	d.skip = d.preSkip
	d.err = nil

	if p > 0 {
		if err := d.discardSamples(p); err != nil {
			return err
		}
	}

	d.position = int64(p)
	return nil
}

func (d *opusDecoder) discardSamples(count int) error {
	discard := make([][2]float64, 256)
	remaining := count

	for remaining > 0 {
		toRead := remaining
		if toRead > len(discard) {
			toRead = len(discard)
		}
		n, ok := d.Stream(discard[:toRead])
		if !ok && n == 0 {
			break
		}
		remaining -= n
	}

	return d.err
}

func (d *opusDecoder) Close() error {
	return d.closer.Close()
}
