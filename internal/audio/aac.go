package audio

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/gopxl/beep"
	"github.com/llehouerou/go-faad2"
)

// aacDecoder wraps go-faad2's M4AReader in a beep.StreamSeekCloser.
type aacDecoder struct {
	reader   *faad2.M4AReader
	closer   io.Closer
	format   beep.Format
	err      error
	readBuf  []int16
	totalLen int
}

func decodeAAC(rsc io.ReadSeekCloser) (beep.StreamSeekCloser, beep.Format, error) {
	reader, err := faad2.OpenM4A(context.Background(), rsc)
	if err != nil {
		return nil, beep.Format{}, err
	}

	sampleRate := reader.SampleRate()

	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: 2,
		Precision:   2,
	}

	duration := reader.Duration()
	totalLen := int(duration.Seconds() * float64(sampleRate))

	d := &aacDecoder{
		reader:   reader,
		closer:   rsc,
		format:   format,
		readBuf:  make([]int16, 8192),
		totalLen: totalLen,
	}

	return d, format, nil
}

func (d *aacDecoder) Stream(samples [][2]float64) (n int, ok bool) {
	if d.err != nil {
		return 0, false
	}

	channels := int(d.reader.Channels())

	samplesNeeded := len(samples) * channels
	if len(d.readBuf) < samplesNeeded {
		d.readBuf = make([]int16, samplesNeeded)
	}

	samplesRead, err := d.reader.Read(context.Background(), d.readBuf[:samplesNeeded])
	if err != nil && !errors.Is(err, io.EOF) {
		d.err = err
		return 0, false
	}

	if samplesRead == 0 {
		return 0, false
	}

	if channels == 2 {
		framesRead := samplesRead / 2
		for i := 0; i < framesRead && i < len(samples); i++ {
			samples[i][0] = float64(d.readBuf[i*2]) / 32768.0
			samples[i][1] = float64(d.readBuf[i*2+1]) / 32768.0
			n++
		}
	} else {
		// Mono: duplicate to both channels
		for i := 0; i < samplesRead && i < len(samples); i++ {
			sample := float64(d.readBuf[i]) / 32768.0
			samples[i][0] = sample
			samples[i][1] = sample
			n++
		}
	}

	return n, true
}

func (d *aacDecoder) Err() error {
	return d.err
}

func (d *aacDecoder) Len() int {
	return d.totalLen
}

func (d *aacDecoder) Position() int {
	pos := d.reader.Position()
	return int(pos.Seconds() * float64(d.reader.SampleRate()))
}

func (d *aacDecoder) Seek(p int) error {
	if p < 0 {
		p = 0
	}
	if p > d.totalLen {
		p = d.totalLen
	}

	pos := time.Duration(float64(p) / float64(d.reader.SampleRate()) * float64(time.Second))

	if err := d.reader.Seek(pos); err != nil {
		return err
	}
	d.err = nil
	return nil
}

func (d *aacDecoder) Close() error {
	if err := d.reader.Close(context.Background()); err != nil {
		return err
	}
	return d.closer.Close()
}
