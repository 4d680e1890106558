package audio

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
	"github.com/gopxl/beep/wav"

	"github.com/Alexander-D-Karpov/tonearm/internal/source"
)

// openDecoder probes the container behind a media source and returns a
// streaming decoder for its audio track. Selection goes by URI extension
// first, then HTTP content type, then a magic-byte sniff.
func openDecoder(ms source.MediaSource, uri, contentType string) (beep.StreamSeekCloser, beep.Format, string, error) {
	codec := codecByExtension(uri)
	if codec == "" {
		codec = codecByContentType(contentType)
	}
	if codec == "" || codec == "ogg" {
		sniffed, err := sniffCodec(ms)
		if err != nil {
			return nil, beep.Format{}, "", fmt.Errorf("probe %s: %w", uri, err)
		}
		if sniffed != "" {
			codec = sniffed
		}
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
		err    error
	)

	switch codec {
	case "mp3":
		stream, format, err = mp3.Decode(ms)
	case "flac":
		if err = skipID3v2(ms); err != nil {
			return nil, beep.Format{}, "", fmt.Errorf("skip id3 in %s: %w", uri, err)
		}
		stream, format, err = flac.Decode(ms)
	case "vorbis":
		stream, format, err = vorbis.Decode(ms)
	case "opus":
		stream, format, err = decodeOpus(ms)
	case "m4a":
		stream, format, err = decodeAAC(ms)
	case "wav":
		stream, format, err = wav.Decode(ms)
	default:
		return nil, beep.Format{}, "", fmt.Errorf("unsupported format for %s", uri)
	}
	if err != nil {
		return nil, beep.Format{}, "", fmt.Errorf("decode %s: %w", uri, err)
	}

	return stream, format, codec, nil
}

func codecByExtension(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}

	switch strings.ToLower(filepath.Ext(p)) {
	case ".mp3":
		return "mp3"
	case ".flac":
		return "flac"
	case ".ogg", ".oga":
		return "ogg" // vorbis or opus, sniff decides
	case ".opus":
		return "opus"
	case ".m4a", ".mp4", ".aac":
		return "m4a"
	case ".wav":
		return "wav"
	}
	return ""
}

func codecByContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}

	switch strings.TrimSpace(strings.ToLower(ct)) {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/ogg", "application/ogg":
		return "ogg"
	case "audio/opus":
		return "opus"
	case "audio/mp4", "audio/x-m4a", "audio/aac":
		return "m4a"
	case "audio/wav", "audio/x-wav":
		return "wav"
	}
	return ""
}

// sniffCodec reads the stream head and rewinds. Inside an Ogg container it
// looks for the OpusHead marker to tell Opus apart from Vorbis.
func sniffCodec(ms source.MediaSource) (string, error) {
	head := make([]byte, 1024)
	n, err := io.ReadFull(ms, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	head = head[:n]

	if _, err := ms.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	switch {
	case bytes.HasPrefix(head, []byte("fLaC")):
		return "flac", nil
	case bytes.HasPrefix(head, []byte("OggS")):
		if bytes.Contains(head, []byte("OpusHead")) {
			return "opus", nil
		}
		return "vorbis", nil
	case bytes.HasPrefix(head, []byte("RIFF")):
		return "wav", nil
	case len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")):
		return "m4a", nil
	case bytes.HasPrefix(head, []byte("ID3")):
		return "mp3", nil
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return "mp3", nil
	}

	return "", nil
}

// skipID3v2 skips an ID3v2 tag if present at the beginning of the stream.
// Some FLAC files have ID3v2 tags prepended, which the FLAC decoder doesn't
// handle.
func skipID3v2(r io.ReadSeeker) error {
	header := make([]byte, 10)
	n, err := r.Read(header)
	if err != nil {
		return err
	}
	if n < 10 || string(header[0:3]) != "ID3" {
		_, err = r.Seek(0, io.SeekStart)
		return err
	}

	// ID3v2 size is a syncsafe integer in bytes 6-9, 7 bits per byte
	size := int64(header[6])<<21 | int64(header[7])<<14 | int64(header[8])<<7 | int64(header[9])

	_, err = r.Seek(10+size, io.SeekStart)
	return err
}
