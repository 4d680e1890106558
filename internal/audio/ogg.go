package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

var (
	opusHeadSig = [8]byte{'O', 'p', 'u', 's', 'H', 'e', 'a', 'd'}
	opusTagsSig = [8]byte{'O', 'p', 'u', 's', 'T', 'a', 'g', 's'}
)

// oggPacketReader reassembles Opus packets from an Ogg stream. Header
// packets (OpusHead/OpusTags) are consumed internally; OpusHead supplies the
// channel count and pre-skip.
type oggPacketReader struct {
	br *bufio.Reader

	// In-progress audio packet that continues across pages.
	carry []byte

	// If we're currently discarding a header packet (OpusHead/OpusTags)
	// that spans multiple pages, keep discarding until it terminates.
	isDiscarding bool

	channels    int
	preSkip     uint64 // Opus pre-skip in 48kHz samples (RFC 7845)
	lastGranule uint64

	queue [][]byte
	qHead int

	// Reusable buffers. A page header is 27 bytes, the lacing table at most
	// 255 entries.
	header [27]byte
	segArr [255]byte
	buf    []byte
}

func newOggPacketReader(r io.Reader) *oggPacketReader {
	return &oggPacketReader{
		br:  bufio.NewReaderSize(r, 64*1024),
		buf: make([]byte, 0, 255*255),
	}
}

// Next returns the next audio packet, or io.EOF at end of stream.
func (o *oggPacketReader) Next() ([]byte, error) {
	for {
		if o.qHead < len(o.queue) {
			pkt := o.queue[o.qHead]
			o.queue[o.qHead] = nil
			o.qHead++
			if o.qHead == len(o.queue) {
				o.queue = o.queue[:0]
				o.qHead = 0
			}
			return pkt, nil
		}

		if err := o.readPage(); err != nil {
			return nil, err
		}
	}
}

func (o *oggPacketReader) readPage() error {
	if _, err := io.ReadFull(o.br, o.header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return io.EOF
		}
		return err
	}

	if o.header[0] != 'O' || o.header[1] != 'g' || o.header[2] != 'g' || o.header[3] != 'S' {
		return fmt.Errorf("invalid ogg capture pattern: %q", o.header[0:4])
	}

	o.lastGranule = binary.LittleEndian.Uint64(o.header[6:14])

	segTable := o.segArr[:int(o.header[26])]
	if _, err := io.ReadFull(o.br, segTable); err != nil {
		return err
	}

	total := 0
	for _, s := range segTable {
		total += int(s)
	}

	if cap(o.buf) < total {
		o.buf = make([]byte, total)
	} else {
		o.buf = o.buf[:total]
	}

	if _, err := io.ReadFull(o.br, o.buf); err != nil {
		return err
	}

	pkt := o.carry
	o.carry = nil

	offset := 0
	for _, b := range segTable {
		size := int(b)
		if size > 0 {
			if !o.isDiscarding {
				pkt = append(pkt, o.buf[offset:offset+size]...)

				if len(pkt) >= 8 {
					prefix := pkt[:8]
					if bytes.Equal(prefix, opusHeadSig[:]) {
						// channel count at offset 9, preSkip LE u16 at 10
						if len(pkt) >= 12 {
							o.channels = int(pkt[9])
							o.preSkip = uint64(binary.LittleEndian.Uint16(pkt[10:12]))
						}
						pkt = nil
						o.isDiscarding = true
					} else if bytes.Equal(prefix, opusTagsSig[:]) {
						pkt = nil
						o.isDiscarding = true
					}
				}
			}
			offset += size
		}

		// lacing value < 255 terminates a packet
		if b < 255 {
			if o.isDiscarding {
				o.isDiscarding = false
			} else {
				if len(pkt) > 0 {
					o.queue = append(o.queue, pkt)
				}
				pkt = nil
			}
		}
	}

	if len(pkt) > 0 {
		o.carry = pkt
	}

	return nil
}

// Channels reports the channel count from OpusHead, reading pages until the
// header has been seen.
func (o *oggPacketReader) Channels() (int, error) {
	for o.channels == 0 {
		if err := o.readPage(); err != nil {
			return 0, err
		}
	}
	return o.channels, nil
}

// PreSkip returns the encoder priming length in 48 kHz samples.
func (o *oggPacketReader) PreSkip() uint64 {
	return o.preSkip
}
