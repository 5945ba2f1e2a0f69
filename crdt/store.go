// Package crdt implements the in-memory, last-writer-wins key-value state
// that the write-ahead log mutates. Replay (package replay) reconstructs
// this state from the log; live callers update it directly after a
// successful wal.Log.Append, so the two code paths must fold identically.
package crdt

import (
	"errors"
	"time"

	"github.com/pluresdb/corelog/wal"
)

// ErrNotFound is returned by Delete when the key is absent.
var ErrNotFound = errors.New("crdt: key not found")

// Record is the value a Store holds per key: the data payload, the
// per-actor vector clock, and the wall-clock time of the last write.
//
// Clock is maintained for observability and future conflict detection; it
// is NOT consulted to resolve fold conflicts. Merge semantics are pure
// last-writer-wins by log order (see Store.Put).
type Record struct {
	ID        string
	Data      any
	Clock     map[string]uint64
	Timestamp int64
}

func (r Record) clone() Record {
	clock := make(map[string]uint64, len(r.Clock))
	for k, v := range r.Clock {
		clock[k] = v
	}
	r.Clock = clock
	return r
}

// Store is a concurrent key→Record map. Put, Delete, Get and List are each
// individually atomic with respect to each other. It is sharded internally
// so that operations on unrelated keys do not contend.
type Store struct {
	shards *shardedMap
}

// New creates an empty Store.
func New() *Store {
	return &Store{shards: newShardedMap()}
}

// Put inserts or updates id's record using last-writer-wins CRDT semantics:
// if id is absent, a new record is created with clock {actor: 1}; if
// present, clock[actor] is incremented (created at 0+1 if missing) and Data
// is replaced. Returns id.
func (s *Store) Put(id, actor string, data any) string {
	s.shards.withLock(id, func(m map[string]Record) {
		rec, ok := m[id]
		if !ok {
			m[id] = Record{
				ID:        id,
				Data:      data,
				Clock:     map[string]uint64{actor: 1},
				Timestamp: time.Now().Unix(),
			}
			return
		}

		rec = rec.clone()
		rec.Clock[actor]++
		rec.Data = data
		rec.Timestamp = time.Now().Unix()
		m[id] = rec
	})
	return id
}

// Delete removes id from the store. Returns ErrNotFound if absent.
func (s *Store) Delete(id string) error {
	var found bool
	s.shards.withLock(id, func(m map[string]Record) {
		if _, ok := m[id]; ok {
			delete(m, id)
			found = true
		}
	})
	if !found {
		return ErrNotFound
	}
	return nil
}

// Get returns a cloned snapshot of id's record, if present.
func (s *Store) Get(id string) (Record, bool) {
	var (
		rec   Record
		found bool
	)
	s.shards.withLock(id, func(m map[string]Record) {
		if r, ok := m[id]; ok {
			rec = r.clone()
			found = true
		}
	})
	return rec, found
}

// List returns cloned snapshots of every record currently stored. The
// order is unspecified.
func (s *Store) List() []Record {
	var out []Record
	s.shards.forEach(func(m map[string]Record) {
		for _, r := range m {
			out = append(out, r.clone())
		}
	})
	return out
}

// Len returns the number of keys currently stored.
func (s *Store) Len() int {
	n := 0
	s.shards.forEach(func(m map[string]Record) { n += len(m) })
	return n
}

// Apply dispatches a wal.Operation onto the store. Put and Delete mutate
// state; Checkpoint and Compact are log-level markers with no effect on
// key-value state and are ignored here.
func (s *Store) Apply(actor string, op wal.Operation) error {
	switch op.Kind {
	case wal.OpPut:
		s.Put(op.ID, actor, op.Data)
		return nil
	case wal.OpDelete:
		return s.Delete(op.ID)
	case wal.OpCheckpoint, wal.OpCompact:
		return nil
	default:
		return nil
	}
}
