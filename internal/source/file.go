package source

import (
	"os"
)

// FileSource is a thin wrapper over a local file. Always seekable, length
// known up front.
type FileSource struct {
	file *os.File
	path string
	size int64
}

func NewFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &FileSource{
		file: file,
		path: path,
		size: info.Size(),
	}, nil
}

func (fs *FileSource) Read(p []byte) (int, error) {
	return fs.file.Read(p)
}

func (fs *FileSource) Seek(offset int64, whence int) (int64, error) {
	return fs.file.Seek(offset, whence)
}

func (fs *FileSource) Close() error {
	return fs.file.Close()
}

func (fs *FileSource) IsSeekable() bool {
	return true
}

func (fs *FileSource) ByteLen() int64 {
	return fs.size
}

func (fs *FileSource) Path() string {
	return fs.path
}
