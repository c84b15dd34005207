package cache

import (
	"context"
	"encoding/binary"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lingvolabs/optilayer/internal/circuit"
	"github.com/lingvolabs/optilayer/internal/store"
	"github.com/lingvolabs/optilayer/pkg/errors"
)

// bulkTier is the last cache level, backed by a pluggable store (memory,
// disk, or S3). Entries are serialized into a small binary envelope so the
// access bookkeeping survives the round trip.
//
// A backend failure trips a circuit breaker; while open every operation
// short-circuits and the backend is re-probed at most once per
// healthInterval, so a dead store cannot add latency to each cache call.
type bulkTier struct {
	backend    store.Store
	maxEntries int
	breaker    *circuit.Breaker

	mu sync.Mutex
	// keys indexes what this process has written, mapping each key to its
	// entry's creation time; the backends store hashed names, so prefix
	// scans and age-based eviction are only possible here.
	keys map[string]time.Time
}

func newBulkTier(backend store.Store, maxEntries int, healthInterval time.Duration, nowFn func() time.Time) *bulkTier {
	if healthInterval <= 0 {
		healthInterval = 30 * time.Second
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &bulkTier{
		backend:    backend,
		maxEntries: maxEntries,
		breaker:    circuit.New(healthInterval, circuit.WithClock(nowFn)),
		keys:       make(map[string]time.Time),
	}
}

// available reports whether the tier may be used. A tripped breaker admits
// one probe per interval, and the probe must pass a backend health check
// before the tier is trusted again.
func (t *bulkTier) available(ctx context.Context) bool {
	if !t.breaker.Allow() {
		return false
	}
	if !t.breaker.Tripped() {
		return true
	}
	if err := t.backend.HealthCheck(ctx); err != nil {
		t.breaker.Failure()
		return false
	}
	t.breaker.Success()
	return true
}

func (t *bulkTier) markDegraded() {
	t.breaker.Failure()
}

func (t *bulkTier) isDegraded() bool {
	return t.breaker.Tripped()
}

// get fetches and decodes an entry. A missing key returns (nil, nil); a
// backend failure degrades the tier and returns the error.
func (t *bulkTier) get(ctx context.Context, key string) (*Entry, error) {
	if !t.available(ctx) {
		return nil, nil
	}
	data, err := t.backend.Get(ctx, key)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		t.markDegraded()
		return nil, errors.New(errors.ErrCodeBackingStoreUnavailable, "bulk tier backend failed").WithCause(err)
	}
	e, err := decodeEnvelope(data)
	if err != nil {
		// A corrupt envelope is treated as a miss; the value will be
		// recomputed and rewritten.
		_ = t.backend.Delete(ctx, key)
		return nil, nil
	}
	return e, nil
}

// put encodes and stores an entry. A degraded tier silently drops the
// entry; a full tier returns CAPACITY_EXCEEDED so the caller can decide
// whether the drop is worth a warning.
func (t *bulkTier) put(ctx context.Context, key string, e *Entry) error {
	if !t.available(ctx) {
		return nil
	}
	if t.maxEntries > 0 {
		n, err := t.backend.Len(ctx)
		if err != nil {
			t.markDegraded()
			return errors.New(errors.ErrCodeBackingStoreUnavailable, "bulk tier backend failed").WithCause(err)
		}
		if n >= t.maxEntries {
			return errors.Newf(errors.ErrCodeCapacityExceeded,
				"bulk tier full (%d entries)", n)
		}
	}
	if err := t.backend.Put(ctx, key, encodeEnvelope(e)); err != nil {
		t.markDegraded()
		return errors.New(errors.ErrCodeBackingStoreUnavailable, "bulk tier backend failed").WithCause(err)
	}
	t.mu.Lock()
	t.keys[key] = e.CreatedAt
	t.mu.Unlock()
	return nil
}

// evictOldest deletes up to batch of the oldest indexed entries from the
// backend, freeing room for a new insert after a CAPACITY_EXCEEDED put.
// Returns the number of entries removed.
func (t *bulkTier) evictOldest(ctx context.Context, batch int) int {
	if batch <= 0 {
		batch = 1
	}
	type aged struct {
		key       string
		createdAt time.Time
	}
	t.mu.Lock()
	all := make([]aged, 0, len(t.keys))
	for k, created := range t.keys {
		all = append(all, aged{key: k, createdAt: created})
	}
	t.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].createdAt.Equal(all[j].createdAt) {
			return all[i].key < all[j].key
		}
		return all[i].createdAt.Before(all[j].createdAt)
	})
	if len(all) > batch {
		all = all[:batch]
	}
	for _, a := range all {
		t.remove(ctx, a.key)
	}
	return len(all)
}

func (t *bulkTier) remove(ctx context.Context, key string) {
	t.mu.Lock()
	delete(t.keys, key)
	t.mu.Unlock()

	if !t.available(ctx) {
		return
	}
	if err := t.backend.Delete(ctx, key); err != nil && err != store.ErrNotFound {
		t.markDegraded()
	}
}

// keysWithPrefix returns the indexed keys that start with prefix.
func (t *bulkTier) keysWithPrefix(prefix string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for k := range t.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func (t *bulkTier) len(ctx context.Context) int {
	if !t.available(ctx) {
		return 0
	}
	n, err := t.backend.Len(ctx)
	if err != nil {
		t.markDegraded()
		return 0
	}
	return n
}

// Envelope layout, all integers big endian:
//
//	[0]     version (1)
//	[1]     flags (bit 0: compressed)
//	[2:10]  access count
//	[10]    priority
//	[11:19] original size
//	[19:27] created at, unix nanoseconds
//	[27:35] last accessed, unix nanoseconds
//	[35:]   payload
const (
	envelopeVersion = 1
	envelopeHeader  = 35
	flagCompressed  = 1 << 0
)

func encodeEnvelope(e *Entry) []byte {
	buf := make([]byte, envelopeHeader+len(e.Value))
	buf[0] = envelopeVersion
	if e.Compressed {
		buf[1] |= flagCompressed
	}
	binary.BigEndian.PutUint64(buf[2:10], e.AccessCount)
	buf[10] = e.Priority
	binary.BigEndian.PutUint64(buf[11:19], uint64(e.OriginalSize))
	binary.BigEndian.PutUint64(buf[19:27], uint64(e.CreatedAt.UnixNano()))
	binary.BigEndian.PutUint64(buf[27:35], uint64(e.LastAccessed.UnixNano()))
	copy(buf[envelopeHeader:], e.Value)
	return buf
}

func decodeEnvelope(data []byte) (*Entry, error) {
	if len(data) < envelopeHeader {
		return nil, errors.New(errors.ErrCodeSerializationFailure, "envelope too short")
	}
	if data[0] != envelopeVersion {
		return nil, errors.Newf(errors.ErrCodeSerializationFailure, "unknown envelope version %d", data[0])
	}
	value := make([]byte, len(data)-envelopeHeader)
	copy(value, data[envelopeHeader:])

	return &Entry{
		Value:        value,
		Compressed:   data[1]&flagCompressed != 0,
		AccessCount:  binary.BigEndian.Uint64(data[2:10]),
		Priority:     data[10],
		OriginalSize: int64(binary.BigEndian.Uint64(data[11:19])),
		CreatedAt:    time.Unix(0, int64(binary.BigEndian.Uint64(data[19:27]))),
		LastAccessed: time.Unix(0, int64(binary.BigEndian.Uint64(data[27:35]))),
		StoredSize:   int64(len(value)),
	}, nil
}
