package cache

import (
	"io"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// chunkKey identifies one 4 KiB block in the process-wide chunk cache.
type chunkKey struct {
	fileID uint32
	index  int64
}

// chunk is one cached block. It is attached to exactly one (path, index)
// for its entire lifetime — once evicted, a fresh chunk object is created
// on the next miss rather than this one being reattached.
type chunk struct {
	mu     sync.Mutex
	path   string
	index  int64
	data   [ChunkSize]byte
	length int // logical length of valid bytes, per the max-offset-observed rule
	dirty  bool
	empty  bool
}

// ensureLoaded loads the chunk's backing bytes from disk on first touch.
// Must be called with c.mu held.
func (c *chunk) ensureLoaded() error {
	if !c.empty {
		return nil
	}
	f, err := os.OpenFile(c.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := f.ReadAt(c.data[:], c.index*ChunkSize)
	if err != nil && err != io.EOF {
		return err
	}
	c.length = n
	c.empty = false
	return nil
}

// flushLocked writes the chunk's valid bytes back to its backing file at
// its chunk-aligned offset. Must be called with c.mu held.
func (c *chunk) flushLocked() error {
	if !c.dirty {
		return nil
	}
	f, err := os.OpenFile(c.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteAt(c.data[:c.length], c.index*ChunkSize); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// LRUManager is a process-wide LRU of fixed-size chunks shared across
// every Handle it opens, keyed by (fileID, chunk index). A global mutex
// guards the LRU structure itself; each chunk has its own mutex so
// independent chunks can be read and written concurrently.
type LRUManager struct {
	mu    sync.Mutex
	cache *lru.Cache
}

// NewLRUManager returns an LRUManager capable of holding
// cacheBytes/ChunkSize chunks. A cacheBytes of zero or less uses
// DefaultCacheBytes.
func NewLRUManager(cacheBytes int) (*LRUManager, error) {
	if cacheBytes <= 0 {
		cacheBytes = DefaultCacheBytes
	}
	numChunks := cacheBytes / ChunkSize
	if numChunks < 1 {
		numChunks = 1
	}

	m := &LRUManager{}
	c, err := lru.NewWithEvict(numChunks, m.onEvicted)
	if err != nil {
		return nil, err
	}
	m.cache = c
	return m, nil
}

func (m *LRUManager) onEvicted(_, value interface{}) {
	c := value.(*chunk)
	c.mu.Lock()
	defer c.mu.Unlock()
	// Eviction failures have no caller to surface to; the next read or
	// write against this (path, index) will simply re-load from disk,
	// silently losing only a write that never made it to this block in
	// the first place. Write-through means dirty should not happen in
	// practice; this remains defensive.
	_ = c.flushLocked()
}

func (m *LRUManager) getChunk(path string, fileID uint32, index int64) *chunk {
	key := chunkKey{fileID: fileID, index: index}

	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache.Get(key); ok {
		return v.(*chunk)
	}
	c := &chunk{path: path, index: index, empty: true}
	m.cache.Add(key, c)
	return c
}

func (m *LRUManager) Open(path string, fileID uint32) (Handle, error) {
	// Opening must create the file, per the Manager contract, even
	// though reads/writes for this handle never touch path directly —
	// they go through the shared chunk cache instead.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	f.Close()

	return &lruHandle{manager: m, path: path, fileID: fileID}, nil
}

type lruHandle struct {
	manager *LRUManager
	path    string
	fileID  uint32
	offset  int64
}

func (h *lruHandle) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		index := h.offset >> 12
		chunkOff := int(h.offset & (ChunkSize - 1))

		c := h.manager.getChunk(h.path, h.fileID, index)
		c.mu.Lock()
		if err := c.ensureLoaded(); err != nil {
			c.mu.Unlock()
			return total, err
		}
		avail := c.length - chunkOff
		if avail <= 0 {
			c.mu.Unlock()
			break
		}
		n := copy(p[total:], c.data[chunkOff:chunkOff+avail])
		c.mu.Unlock()

		total += n
		h.offset += int64(n)
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (h *lruHandle) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		index := h.offset >> 12
		chunkOff := int(h.offset & (ChunkSize - 1))

		c := h.manager.getChunk(h.path, h.fileID, index)
		c.mu.Lock()
		if err := c.ensureLoaded(); err != nil {
			c.mu.Unlock()
			return total, err
		}
		n := copy(c.data[chunkOff:], p[total:])
		if newLen := chunkOff + n; newLen > c.length {
			c.length = newLen
		}
		c.dirty = true
		err := c.flushLocked()
		c.mu.Unlock()
		if err != nil {
			return total, err
		}

		total += n
		h.offset += int64(n)
	}
	return total, nil
}

func (h *lruHandle) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		h.offset = offset
	case io.SeekCurrent:
		h.offset += offset
	case io.SeekEnd:
		info, err := os.Stat(h.path)
		if err != nil {
			return 0, err
		}
		h.offset = info.Size() + offset
	default:
		return 0, os.ErrInvalid
	}
	return h.offset, nil
}

func (h *lruHandle) Offset() int64 {
	return h.offset
}

// Flush is a no-op: every write is already written through to disk
// synchronously, per the write-through design of the LRU variant.
func (h *lruHandle) Flush() error {
	return nil
}

func (h *lruHandle) Close() error {
	return nil
}
