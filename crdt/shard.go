package crdt

import (
	"hash/fnv"
	"sync"
)

// shardCount is the number of independent lock domains the store is split
// across. A fixed power of two keeps the modulo a cheap mask.
const shardCount = 16

type shard struct {
	mu sync.RWMutex
	m  map[string]Record
}

// shardedMap is a key→Record map partitioned into shardCount independent
// locks, so Put/Delete/Get/List on unrelated keys don't contend. This
// generalizes a single-mutex-guarded map into something closer to a
// lock-free concurrent map's behavior without adding a new dependency for
// it.
type shardedMap struct {
	shards [shardCount]*shard
}

func newShardedMap() *shardedMap {
	sm := &shardedMap{}
	for i := range sm.shards {
		sm.shards[i] = &shard{m: make(map[string]Record)}
	}
	return sm
}

func (sm *shardedMap) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return sm.shards[h.Sum32()%shardCount]
}

// withLock runs fn under the write lock of the shard owning key, giving fn
// direct mutable access to that shard's map.
func (sm *shardedMap) withLock(key string, fn func(m map[string]Record)) {
	sh := sm.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(sh.m)
}

// forEach runs fn once per shard under that shard's read lock, for
// read-only full scans (List, Len).
func (sm *shardedMap) forEach(fn func(m map[string]Record)) {
	for _, sh := range sm.shards {
		sh.mu.RLock()
		fn(sh.m)
		sh.mu.RUnlock()
	}
}
