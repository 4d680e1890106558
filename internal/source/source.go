package source

import (
	"io"
)

// MediaSource is a seekable bytestream feeding the decoder stage. Local files
// and HTTP range requests both satisfy it; Prefetch wraps either with a
// background producer.
type MediaSource interface {
	io.Reader
	io.Seeker
	io.Closer

	// IsSeekable reports whether Seek can reposition the stream.
	IsSeekable() bool

	// ByteLen returns the total stream length in bytes, or -1 if unknown.
	ByteLen() int64
}

// Type distinguishes the origin of a media source.
type Type string

const (
	TypeLocalFile  Type = "local_file"
	TypeHTTPStream Type = "http_stream"
)

// Metadata describes a source as discovered at open time.
type Metadata struct {
	SourceType  Type
	URI         string
	ContentType string
	Size        int64
}
