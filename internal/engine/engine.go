// Package engine implements the storage engine: directory recovery,
// point reads, serialised writes, and compaction. It is the only piece
// of caskdb with non-trivial concurrency — the keydir's reader/writer
// lock, the writer mutex, and the page cache's own locking must agree
// so that many readers and one writer can share a directory safely.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"caskdb/internal/cache"
	"caskdb/internal/codec"
	"caskdb/internal/keydir"
	"caskdb/internal/logging"
)

// CompactThreshold is the default cumulative uncompacted-byte count
// that triggers compaction after a Set or Remove. Override it per
// Engine with WithCompactThreshold, e.g. in tests that need compaction
// to fire without writing 32 MiB of garbage first.
const CompactThreshold = 32 << 20 // 32 MiB

// Engine is safe to share across goroutines: callers hold the same
// *Engine pointer rather than cloning a handle, which is the direct Go
// equivalent of an Arc-cloned engine value sharing keydir, writer
// mutex, cache manager, and directory root by reference.
type Engine struct {
	dir          string
	cacheManager cache.Manager
	keydir       *keydir.Keydir
	logger       *slog.Logger

	compactThreshold uint64

	writerMu    sync.Mutex
	writer      cache.Handle
	curID       uint32
	uncompacted uint64
}

// Option configures an Engine at Open time.
type Option func(*Engine)

// WithCompactThreshold overrides CompactThreshold for one Engine.
func WithCompactThreshold(n uint64) Option {
	return func(e *Engine) {
		e.compactThreshold = n
	}
}

// Open recovers the keydir by replaying every *.log file in dir in id
// order, then opens a fresh empty log one greater than the highest id
// found for the writer to append to.
func Open(dir string, cacheManager cache.Manager, logger *slog.Logger, opts ...Option) (*Engine, error) {
	logger = logging.Default(logger).With("component", "engine")

	ids, err := listLogIDs(dir)
	if err != nil {
		return nil, newError(KindIO, err)
	}

	kd := keydir.New()
	var uncompacted uint64
	var maxID uint32

	for _, id := range ids {
		if id > maxID {
			maxID = id
		}
		if err := replayLog(dir, id, cacheManager, kd, &uncompacted); err != nil {
			return nil, err
		}
	}

	nextID := maxID + 1
	writerPath := logPath(dir, nextID)
	writer, err := cacheManager.Open(writerPath, nextID)
	if err != nil {
		return nil, newError(KindIO, err)
	}

	logger.Info("opened", "dir", dir, "log_id", nextID, "keys", kd.Len(), "uncompacted", uncompacted)

	e := &Engine{
		dir:              dir,
		cacheManager:     cacheManager,
		keydir:           kd,
		logger:           logger,
		compactThreshold: CompactThreshold,
		writer:           writer,
		curID:            nextID,
		uncompacted:      uncompacted,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func listLogIDs(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var ids []uint32
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		id, ok := parseLogID(ent.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func parseLogID(name string) (uint32, bool) {
	if !strings.HasSuffix(name, ".log") {
		return 0, false
	}
	stem := strings.TrimSuffix(name, ".log")
	id, err := strconv.ParseUint(stem, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

func logPath(dir string, id uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%d.log", id))
}

// replayLog decodes every record in <id>.log in order and applies it to
// kd, accounting superseded bytes into uncompacted along the way.
func replayLog(dir string, id uint32, cacheManager cache.Manager, kd *keydir.Keydir, uncompacted *uint64) error {
	path := logPath(dir, id)
	h, err := cacheManager.Open(path, id)
	if err != nil {
		return newError(KindIO, err)
	}
	defer h.Close()

	for {
		pos := h.Offset()
		cmd, n, err := codec.DecodeFrom(h)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return newError(KindDeserialize, err)
		}

		switch cmd.Kind {
		case codec.KindSet:
			idx := keydir.LogIndex{LogID: id, CommandPos: uint64(pos), Len: uint64(n)}
			if prev, had := kd.Insert(cmd.Key, idx); had {
				*uncompacted += prev.Len
			}
		case codec.KindRemove:
			if prev, had := kd.Delete(cmd.Key); had {
				*uncompacted += prev.Len
			}
		default:
			return newError(KindInternal, fmt.Errorf("log %d: unknown command kind at offset %d", id, pos))
		}
	}
	return nil
}

// Get looks up key and, on a hit, decodes its Set record from disk.
func (e *Engine) Get(key string) (string, bool, error) {
	idx, ok := e.keydir.Lookup(key)
	if !ok {
		return "", false, nil
	}

	cmd, err := e.readRecord(idx)
	if err != nil {
		return "", false, err
	}
	if cmd.Kind != codec.KindSet {
		return "", false, newError(KindInternal, fmt.Errorf("keydir entry for %q does not reference a Set record", key))
	}
	return cmd.Value, true, nil
}

// Scan returns the values for every key in [begin, end], inclusive, in
// ascending key order.
func (e *Engine) Scan(begin, end string) ([]string, error) {
	if begin > end {
		return nil, newError(KindKeyNotFound, fmt.Errorf("begin > end: %q > %q", begin, end))
	}

	var values []string
	var rangeErr error
	e.keydir.Range(begin, end, func(_ string, idx keydir.LogIndex) bool {
		cmd, err := e.readRecord(idx)
		if err != nil {
			rangeErr = err
			return false
		}
		values = append(values, cmd.Value)
		return true
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	return values, nil
}

func (e *Engine) readRecord(idx keydir.LogIndex) (codec.Command, error) {
	path := logPath(e.dir, idx.LogID)
	h, err := e.cacheManager.Open(path, idx.LogID)
	if err != nil {
		return codec.Command{}, newError(KindIO, err)
	}
	defer h.Close()

	if _, err := h.Seek(int64(idx.CommandPos), io.SeekStart); err != nil {
		return codec.Command{}, newError(KindIO, err)
	}
	cmd, _, err := codec.DecodeFrom(h)
	if err != nil {
		return codec.Command{}, newError(KindDeserialize, err)
	}
	return cmd, nil
}

// Set establishes or overwrites key. It may trigger compaction if the
// uncompacted-byte threshold has been crossed.
func (e *Engine) Set(key, value string) error {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	buf, err := codec.Encode(codec.Set(key, value))
	if err != nil {
		return newError(KindSerialize, err)
	}

	pos := e.writer.Offset()
	n, err := e.writer.Write(buf)
	if err != nil {
		return newError(KindIO, err)
	}
	if err := e.writer.Flush(); err != nil {
		return newError(KindIO, err)
	}

	idx := keydir.LogIndex{LogID: e.curID, CommandPos: uint64(pos), Len: uint64(n)}
	if prev, had := e.keydir.Insert(key, idx); had {
		e.uncompacted += prev.Len
	}

	return e.maybeCompact()
}

// Remove erases key, failing with KindKeyNotFound if it is absent.
func (e *Engine) Remove(key string) error {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	prev, had := e.keydir.Delete(key)
	if !had {
		return newError(KindKeyNotFound, fmt.Errorf("key not found: %s", key))
	}
	e.uncompacted += prev.Len

	buf, err := codec.Encode(codec.Remove(key))
	if err != nil {
		return newError(KindSerialize, err)
	}
	n, err := e.writer.Write(buf)
	if err != nil {
		return newError(KindIO, err)
	}
	if err := e.writer.Flush(); err != nil {
		return newError(KindIO, err)
	}
	e.uncompacted += uint64(n)

	return e.maybeCompact()
}

func (e *Engine) maybeCompact() error {
	if e.uncompacted < e.compactThreshold {
		return nil
	}
	return e.compact()
}

// Close flushes and releases the writer's log handle.
func (e *Engine) Close() error {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	if err := e.writer.Flush(); err != nil {
		return newError(KindIO, err)
	}
	return e.writer.Close()
}
