// Package keydir implements the in-memory, ordered index mapping each
// live key to the location of its most recent Set record on disk.
package keydir

import (
	"sync"

	"github.com/google/btree"
)

// LogIndex points at one record inside a log file.
type LogIndex struct {
	LogID      uint32
	CommandPos uint64
	Len        uint64
}

type item struct {
	key   string
	index LogIndex
}

func less(a, b item) bool {
	return a.key < b.key
}

// Keydir is an ordered associative container from key to LogIndex,
// protected by a reader/writer lock: any number of concurrent readers
// for Lookup/Range, one writer at a time for Insert/Delete. Ordering is
// lexicographic on the raw key bytes, which is what lets Range serve
// scans directly off the tree instead of sorting on every call.
type Keydir struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

// New returns an empty Keydir.
func New() *Keydir {
	return &Keydir{tree: btree.NewG(32, less)}
}

// Lookup returns the LogIndex for key, if present.
func (k *Keydir) Lookup(key string) (LogIndex, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	it, ok := k.tree.Get(item{key: key})
	return it.index, ok
}

// Insert maps key to index, returning the previous LogIndex if key was
// already present. The caller is responsible for accounting the
// previous record's length as newly uncompacted garbage.
func (k *Keydir) Insert(key string, index LogIndex) (prev LogIndex, had bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	old, had := k.tree.ReplaceOrInsert(item{key: key, index: index})
	return old.index, had
}

// Delete erases key, returning its LogIndex and whether it was present.
func (k *Keydir) Delete(key string) (prev LogIndex, had bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	old, had := k.tree.Delete(item{key: key})
	return old.index, had
}

// Len reports the number of live keys.
func (k *Keydir) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.tree.Len()
}

// Range calls fn for every key in [begin, end], in ascending key order,
// holding the read lock for the whole iteration. fn must not call back
// into the Keydir. Returning false from fn stops the iteration early.
func (k *Keydir) Range(begin, end string, fn func(key string, index LogIndex) bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	k.tree.AscendGreaterOrEqual(item{key: begin}, func(it item) bool {
		if it.key > end {
			return false
		}
		return fn(it.key, it.index)
	})
}

// Compact rewrites every entry's LogIndex via rewrite, visiting keys in
// ascending order, holding the write lock for the entire operation — the
// same atomic critical section spec.md's compaction procedure requires.
// If rewrite returns an error, iteration stops immediately; entries
// already rewritten before the failure keep their new LogIndex, since
// the caller (the engine's compaction step) treats a failure here as
// best-effort and relies on the next open's replay to reconcile state.
func (k *Keydir) Compact(rewrite func(key string, index LogIndex) (LogIndex, error)) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys := make([]string, 0, k.tree.Len())
	k.tree.Ascend(func(it item) bool {
		keys = append(keys, it.key)
		return true
	})

	for _, key := range keys {
		it, ok := k.tree.Get(item{key: key})
		if !ok {
			continue
		}
		newIndex, err := rewrite(key, it.index)
		if err != nil {
			return err
		}
		k.tree.ReplaceOrInsert(item{key: key, index: newIndex})
	}
	return nil
}

// Snapshot returns a copy of every (key, LogIndex) pair as a map, which
// carries no key order of its own. Used to serialise the compaction-time keydir.json advisory snapshot.
func (k *Keydir) Snapshot() map[string]LogIndex {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[string]LogIndex, k.tree.Len())
	k.tree.Ascend(func(it item) bool {
		out[it.key] = it.index
		return true
	})
	return out
}
