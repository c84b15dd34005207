package cache

import (
	"sort"
	"sync"
)

// secondaryTier is the second cache level. It keeps a sorted key index next
// to the entry map so range scans over key prefixes stay cheap; a single
// mutex is enough because every entry here has already fallen out of the
// contended fast path.
type secondaryTier struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	sortedKeys []string
	maxEntries int
	bytes      int64
}

func newSecondaryTier(maxEntries int) *secondaryTier {
	return &secondaryTier{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

func (t *secondaryTier) get(key string) *Entry {
	t.mu.Lock()
	e := t.entries[key]
	t.mu.Unlock()
	return e
}

// put inserts or replaces an entry. It reports false when the tier is full
// and the key is not already present; the caller then pushes the entry one
// level further down.
func (t *secondaryTier) put(key string, e *Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, exists := t.entries[key]
	if !exists {
		if t.maxEntries > 0 && len(t.entries) >= t.maxEntries {
			return false
		}
		i := sort.SearchStrings(t.sortedKeys, key)
		t.sortedKeys = append(t.sortedKeys, "")
		copy(t.sortedKeys[i+1:], t.sortedKeys[i:])
		t.sortedKeys[i] = key
		t.bytes += e.memoryFootprint()
	} else {
		t.bytes += e.memoryFootprint() - prev.memoryFootprint()
	}
	t.entries[key] = e
	return true
}

func (t *secondaryTier) remove(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false
	}
	delete(t.entries, key)
	t.bytes -= e.memoryFootprint()

	i := sort.SearchStrings(t.sortedKeys, key)
	if i < len(t.sortedKeys) && t.sortedKeys[i] == key {
		t.sortedKeys = append(t.sortedKeys[:i], t.sortedKeys[i+1:]...)
	}
	return true
}

// scanPrefix returns the keys in [prefix, prefixEnd) in sorted order.
func (t *secondaryTier) scanPrefix(prefix string, limit int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.SearchStrings(t.sortedKeys, prefix)
	var out []string
	for ; i < len(t.sortedKeys); i++ {
		k := t.sortedKeys[i]
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			break
		}
		out = append(out, k)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (t *secondaryTier) snapshot() []candidate {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]candidate, 0, len(t.entries))
	for k, e := range t.entries {
		out = append(out, candidate{key: k, entry: e})
	}
	return out
}

func (t *secondaryTier) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *secondaryTier) memoryBytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}
