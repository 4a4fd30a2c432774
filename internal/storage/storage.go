package storage

import (
	"io"
	"mime/multipart"
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Storage persists uploaded lesson recordings. Implementations return a
// stored name, which is what the rest of the system references.
type Storage interface {
	SaveFile(file multipart.File, info FileInfo) (string, error)
	OpenFile(name string) (io.ReadSeekCloser, error)
	FilePath(name string) string
	DeleteFile(name string) error
}
