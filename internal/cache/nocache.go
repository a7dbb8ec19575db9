package cache

import (
	"io"
	"os"
)

// NoCacheManager is the uncached Manager: every Handle it opens delegates
// directly to an *os.File. Writes are issued immediately; Flush calls the
// OS flush. There is no shared state between handles beyond the file
// itself, so concurrent handles on the same path simply compete for the
// same underlying file the way two processes would.
type NoCacheManager struct{}

// NewNoCacheManager returns a Manager with no caching.
func NewNoCacheManager() *NoCacheManager {
	return &NoCacheManager{}
}

func (*NoCacheManager) Open(path string, _ uint32) (Handle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &noCacheHandle{file: f}, nil
}

type noCacheHandle struct {
	file *os.File
}

func (h *noCacheHandle) Read(p []byte) (int, error) {
	return h.file.Read(p)
}

func (h *noCacheHandle) Write(p []byte) (int, error) {
	return h.file.Write(p)
}

func (h *noCacheHandle) Seek(offset int64, whence int) (int64, error) {
	return h.file.Seek(offset, whence)
}

func (h *noCacheHandle) Offset() int64 {
	off, err := h.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return off
}

func (h *noCacheHandle) Flush() error {
	return h.file.Sync()
}

func (h *noCacheHandle) Close() error {
	return h.file.Close()
}
