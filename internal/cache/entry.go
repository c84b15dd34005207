package cache

import (
	"strings"
	"time"
)

// Entry is the atomic unit of cached data. Entries are immutable after
// publication: readers and writers exchange them by pointer swap, so a
// concurrent reader sees either the old or the new entry, never a torn one.
type Entry struct {
	Value        []byte
	Compressed   bool
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  uint64
	Priority     uint8
	OriginalSize int64
	StoredSize   int64
}

// accessed returns a copy with the access bookkeeping advanced. Priority is
// deliberately left untouched: it is recomputed only on write.
func (e *Entry) accessed(now time.Time) *Entry {
	cp := *e
	cp.AccessCount++
	cp.LastAccessed = now
	return &cp
}

// expired reports whether the entry has outlived maxAge. Zero maxAge means
// entries never expire.
func (e *Entry) expired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(e.CreatedAt) > maxAge
}

// memoryFootprint estimates the bytes an entry pins in a memory tier.
// The constant covers struct, map slot, and key overhead.
const entryOverhead = 96

func (e *Entry) memoryFootprint() int64 {
	return e.StoredSize + entryOverhead
}

// PriorityFunc computes an entry's retention priority from the shape of its
// key and the value sizes. It must be pure: same inputs, same priority.
type PriorityFunc func(key string, originalSize, storedSize int64) uint8

// DefaultPriority favors technical-terminology segments (they are re-used
// across documents far more than free text), small values, and values that
// compressed well, since all three are cheap to retain.
func DefaultPriority(key string, originalSize, storedSize int64) uint8 {
	var priority uint8

	if strings.HasPrefix(key, "term:") || strings.Contains(key, "technical_") {
		priority += 2
	}
	if originalSize < 1024 {
		priority++
	}
	if originalSize > 0 && storedSize*2 <= originalSize {
		priority++
	}

	return priority
}
