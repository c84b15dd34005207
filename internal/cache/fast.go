package cache

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// fastTier is the first cache level: a striped hash map where independent
// keys land on independent shards and never contend. Entries are published
// by pointer swap under the shard lock; readers take the shard read lock
// only long enough to copy the pointer.
type fastTier struct {
	shards []*fastShard
	mask   uint64
	count  atomic.Int64
	bytes  atomic.Int64
}

type fastShard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// newFastTier builds a tier with the requested shard count rounded up to a
// power of two. Zero picks 2×GOMAXPROCS, clamped to [1, 256].
func newFastTier(shardCount int) *fastTier {
	if shardCount <= 0 {
		shardCount = runtime.GOMAXPROCS(0) * 2
	}
	shardCount = nextPow2(shardCount)
	if shardCount > 256 {
		shardCount = 256
	}

	t := &fastTier{
		shards: make([]*fastShard, shardCount),
		mask:   uint64(shardCount - 1),
	}
	for i := range t.shards {
		t.shards[i] = &fastShard{entries: make(map[string]*Entry)}
	}
	return t
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fnv64a is FNV-1a over the key bytes; allocation free, unlike hash/fnv.
func fnv64a(key string) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= prime64
	}
	return h
}

func (t *fastTier) shard(key string) *fastShard {
	return t.shards[fnv64a(key)&t.mask]
}

func (t *fastTier) get(key string) *Entry {
	s := t.shard(key)
	s.mu.RLock()
	e := s.entries[key]
	s.mu.RUnlock()
	return e
}

// put publishes entry under key, replacing any previous entry.
func (t *fastTier) put(key string, e *Entry) {
	s := t.shard(key)
	s.mu.Lock()
	prev := s.entries[key]
	s.entries[key] = e
	s.mu.Unlock()

	if prev == nil {
		t.count.Add(1)
		t.bytes.Add(e.memoryFootprint())
	} else {
		t.bytes.Add(e.memoryFootprint() - prev.memoryFootprint())
	}
}

// replace publishes next under key only while the published entry is still
// expected. A nil expected means insert-if-absent. Readers republishing an
// accessed copy and promotions from lower tiers both go through here: a
// writer that swapped the pointer in between keeps its value, so the last
// writer wins.
func (t *fastTier) replace(key string, expected, next *Entry) bool {
	s := t.shard(key)
	s.mu.Lock()
	current, ok := s.entries[key]
	if expected == nil {
		if ok {
			s.mu.Unlock()
			return false
		}
	} else if current != expected {
		s.mu.Unlock()
		return false
	}
	s.entries[key] = next
	s.mu.Unlock()

	if expected == nil {
		t.count.Add(1)
		t.bytes.Add(next.memoryFootprint())
	} else {
		t.bytes.Add(next.memoryFootprint() - expected.memoryFootprint())
	}
	return true
}

// remove deletes key only if the published entry is still the expected
// pointer. A concurrent promotion replaces the pointer, making the eviction
// pass that observed the old entry skip it, so the promotion wins the race.
func (t *fastTier) remove(key string, expected *Entry) bool {
	s := t.shard(key)
	s.mu.Lock()
	current, ok := s.entries[key]
	if !ok || (expected != nil && current != expected) {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, key)
	s.mu.Unlock()

	t.count.Add(-1)
	t.bytes.Add(-current.memoryFootprint())
	return true
}

// snapshot copies the current key/pointer pairs shard by shard. The result
// is a consistent view per shard, not across shards, which is sufficient
// for eviction scanning.
func (t *fastTier) snapshot() []candidate {
	out := make([]candidate, 0, t.count.Load())
	for _, s := range t.shards {
		s.mu.RLock()
		for k, e := range s.entries {
			out = append(out, candidate{key: k, entry: e})
		}
		s.mu.RUnlock()
	}
	return out
}

func (t *fastTier) len() int {
	return int(t.count.Load())
}

func (t *fastTier) memoryBytes() int64 {
	return t.bytes.Load()
}
