// History persistence for hardware.BenchmarkResult (spec.md §4.A:
// "BenchmarkResult ... append-only; bounded retention (last N results)").
// Backed by an embedded BadgerDB, the same key-value store the teacher
// uses for its own append-only record keeping (services/trace/agent/mcts/crs/journal.go)
// and for cross-session caching (services/trace/graph/analytics.go's
// db.View/db.Update pattern, mirrored below).
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/hardware"

	"github.com/dgraph-io/badger/v4"
)

// History persists a bounded, append-only log of benchmark results keyed
// by a monotonically increasing sequence number, so Recent always reads
// back results oldest-to-newest without needing a secondary index.
type History struct {
	db     *badger.DB
	maxLen int
}

// defaultMaxHistory is the "last N results" bound spec.md §4.A leaves to
// the implementation; chosen generously enough to cover a day of typical
// interactive benchmarking without unbounded growth.
const defaultMaxHistory = 200

// OpenHistory opens (creating if absent) a BadgerDB at dir for benchmark
// history. An empty dir opens an in-memory instance, used by tests and by
// callers that don't want benchmark history to survive a restart.
func OpenHistory(dir string) (*History, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("hardware history: open badger: %w", err)
	}
	return &History{db: db, maxLen: defaultMaxHistory}, nil
}

// Close releases the underlying BadgerDB handle.
func (h *History) Close() error {
	return h.db.Close()
}

// Append records result under the next sequence key, then evicts the
// oldest entries past maxLen so the log never grows unbounded.
func (h *History) Append(result hardware.BenchmarkResult) error {
	value, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("hardware history: marshal: %w", err)
	}

	err = h.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn)
		if err != nil {
			return err
		}
		return txn.Set(seqKey(seq), value)
	})
	if err != nil {
		return fmt.Errorf("hardware history: append: %w", err)
	}

	return h.evictOverflow()
}

// Recent returns up to n of the most recently appended results, oldest
// first within that window.
func (h *History) Recent(n int) ([]hardware.BenchmarkResult, error) {
	if n <= 0 {
		return nil, nil
	}

	var all []hardware.BenchmarkResult
	err := h.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(historyPrefix); it.ValidForPrefix(historyPrefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var result hardware.BenchmarkResult
				if err := json.Unmarshal(val, &result); err != nil {
					return err
				}
				all = append(all, result)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hardware history: recent: %w", err)
	}

	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

var historyPrefix = []byte("bench:")

func seqKey(seq uint64) []byte {
	key := make([]byte, len(historyPrefix)+8)
	copy(key, historyPrefix)
	binary.BigEndian.PutUint64(key[len(historyPrefix):], seq)
	return key
}

// nextSeq scans for the highest existing sequence key and returns one
// past it; BadgerDB has no auto-increment primitive, so the counter is
// derived from the key space itself rather than tracked separately.
func nextSeq(txn *badger.Txn) (uint64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	seekFrom := make([]byte, len(historyPrefix)+8)
	copy(seekFrom, historyPrefix)
	for i := len(historyPrefix); i < len(seekFrom); i++ {
		seekFrom[i] = 0xff
	}

	it.Seek(seekFrom)
	if it.ValidForPrefix(historyPrefix) {
		key := it.Item().KeyCopy(nil)
		last := binary.BigEndian.Uint64(key[len(historyPrefix):])
		return last + 1, nil
	}
	return 0, nil
}

// evictOverflow deletes the oldest entries once the log exceeds maxLen,
// enforcing spec.md §4.A's "bounded retention (last N results)".
func (h *History) evictOverflow() error {
	return h.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Seek(historyPrefix); it.ValidForPrefix(historyPrefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}

		if len(keys) <= h.maxLen {
			return nil
		}
		for _, key := range keys[:len(keys)-h.maxLen] {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
