package audio

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSource is an in-memory MediaSource for probing tests.
type memSource struct {
	*bytes.Reader
}

func newMemSource(data []byte) *memSource {
	return &memSource{Reader: bytes.NewReader(data)}
}

func (m *memSource) Close() error     { return nil }
func (m *memSource) IsSeekable() bool { return true }
func (m *memSource) ByteLen() int64   { return int64(m.Reader.Size()) }

func TestCodecByExtension(t *testing.T) {
	cases := map[string]string{
		"/music/a.mp3":                      "mp3",
		"/music/b.FLAC":                     "flac",
		"/music/c.ogg":                      "ogg",
		"/music/d.opus":                     "opus",
		"/music/e.m4a":                      "m4a",
		"/music/f.wav":                      "wav",
		"https://cdn.example.com/t.mp3?x=1": "mp3",
		"/music/unknown.xyz":                "",
		"/music/noext":                      "",
	}

	for uri, want := range cases {
		assert.Equalf(t, want, codecByExtension(uri), "uri %s", uri)
	}
}

func TestCodecByContentType(t *testing.T) {
	cases := map[string]string{
		"audio/mpeg":               "mp3",
		"audio/mpeg; charset=bin":  "mp3",
		"audio/flac":               "flac",
		"audio/ogg":                "ogg",
		"audio/mp4":                "m4a",
		"audio/wav":                "wav",
		"application/octet-stream": "",
		"":                         "",
	}

	for ct, want := range cases {
		assert.Equalf(t, want, codecByContentType(ct), "content type %s", ct)
	}
}

func TestSniffCodec(t *testing.T) {
	flacHead := append([]byte("fLaC"), make([]byte, 64)...)
	riffHead := append([]byte("RIFF"), make([]byte, 64)...)
	id3Head := append([]byte("ID3"), make([]byte, 64)...)
	mpegHead := append([]byte{0xFF, 0xFB}, make([]byte, 64)...)

	ftypHead := make([]byte, 64)
	copy(ftypHead[4:8], "ftyp")

	oggVorbis := append([]byte("OggS"), make([]byte, 64)...)
	oggOpus := append([]byte("OggS"), []byte("xxxxOpusHeadyyyy")...)

	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"flac", flacHead, "flac"},
		{"wav", riffHead, "wav"},
		{"id3 mp3", id3Head, "mp3"},
		{"bare mpeg frame", mpegHead, "mp3"},
		{"m4a", ftypHead, "m4a"},
		{"ogg vorbis", oggVorbis, "vorbis"},
		{"ogg opus", oggOpus, "opus"},
		{"unknown", make([]byte, 64), ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ms := newMemSource(tc.data)
			got, err := sniffCodec(ms)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			pos, err := ms.Seek(0, io.SeekCurrent)
			require.NoError(t, err)
			assert.Equal(t, int64(0), pos, "sniff must rewind")
		})
	}
}

func TestSkipID3v2(t *testing.T) {
	// 10-byte header + 100-byte tag body, then payload.
	tag := []byte{'I', 'D', '3', 4, 0, 0, 0, 0, 0, 100}
	data := append(tag, make([]byte, 100)...)
	data = append(data, []byte("fLaC")...)

	r := bytes.NewReader(data)
	require.NoError(t, skipID3v2(r))

	head := make([]byte, 4)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	assert.Equal(t, "fLaC", string(head))
}

func TestSkipID3v2_NoTagRewinds(t *testing.T) {
	r := bytes.NewReader(append([]byte("fLaC"), make([]byte, 32)...))
	require.NoError(t, skipID3v2(r))

	head := make([]byte, 4)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	assert.Equal(t, "fLaC", string(head))
}
