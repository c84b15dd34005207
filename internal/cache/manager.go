// Package cache implements the three-level cache hierarchy: a sharded
// in-memory fast tier, an ordered in-memory secondary tier, and a bulk tier
// on a pluggable backing store. Lookups walk the tiers in order; a hit below
// the fast tier promotes the entry back up, and eviction demotes entries
// down instead of dropping them.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lingvolabs/optilayer/internal/codec"
	"github.com/lingvolabs/optilayer/internal/config"
	"github.com/lingvolabs/optilayer/internal/store"
	"github.com/lingvolabs/optilayer/pkg/errors"
	"github.com/lingvolabs/optilayer/pkg/types"
)

// Tier names used in stats, metrics labels, and log fields.
const (
	TierFast      = "fast"
	TierSecondary = "secondary"
	TierBulk      = "bulk"
)

// Manager coordinates the cache hierarchy.
type Manager struct {
	fast      *fastTier
	secondary *secondaryTier
	bulk      *bulkTier

	codec      codec.Codec
	priorityFn PriorityFunc
	nowFn      func() time.Time

	strategy          Strategy
	maxAge            time.Duration
	maxEntries        int
	evictionBatch     int
	pressureThreshold float64
	fastCapacity      int64
	compressEnabled   bool
	compressMin       int64

	logger   *zap.Logger
	recorder types.Recorder

	// evictMu serializes eviction passes; lookups and writes never block
	// on it.
	evictMu sync.Mutex

	fastHits      atomic.Uint64
	secondaryHits atomic.Uint64
	bulkHits      atomic.Uint64
	misses        atomic.Uint64
	evictions     atomic.Uint64
	promotions    atomic.Uint64
	demotions     atomic.Uint64
	expirations   atomic.Uint64
}

// Option tweaks a Manager, mainly for tests.
type Option func(*Manager)

// WithClock replaces the manager's time source.
func WithClock(nowFn func() time.Time) Option {
	return func(m *Manager) { m.nowFn = nowFn }
}

// WithPriorityFunc replaces the retention priority heuristic.
func WithPriorityFunc(fn PriorityFunc) Option {
	return func(m *Manager) { m.priorityFn = fn }
}

// NewManager builds the hierarchy from configuration. The backend serves
// the bulk tier; cdc compresses values when compression is enabled.
func NewManager(cfg config.CacheConfig, backend store.Store, cdc codec.Codec, logger *zap.Logger, recorder types.Recorder, opts ...Option) (*Manager, error) {
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, err.Error())
	}
	fastCapacity, err := config.ParseSize(cfg.FastCapacity)
	if err != nil {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "fast_capacity: %v", err)
	}
	var compressMin int64
	if cfg.Compression.MinSize != "" {
		if compressMin, err = config.ParseSize(cfg.Compression.MinSize); err != nil {
			return nil, errors.Newf(errors.ErrCodeInvalidConfig, "compression.min_size: %v", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = types.NopRecorder{}
	}
	if cdc == nil {
		cdc = codec.NewNoop()
	}

	m := &Manager{
		secondary:         newSecondaryTier(cfg.SecondaryMaxEntries),
		codec:             cdc,
		priorityFn:        DefaultPriority,
		nowFn:             time.Now,
		strategy:          strategy,
		maxAge:            cfg.MaxAge,
		maxEntries:        cfg.MaxEntries,
		evictionBatch:     cfg.EvictionBatchSize,
		pressureThreshold: cfg.MemoryPressureThreshold,
		fastCapacity:      fastCapacity,
		compressEnabled:   cfg.Compression.Enabled && cdc.Name() != "none",
		compressMin:       compressMin,
		logger:            logger,
		recorder:          recorder,
	}
	m.fast = newFastTier(cfg.FastShards)
	for _, opt := range opts {
		opt(m)
	}
	m.bulk = newBulkTier(backend, cfg.BulkStore.MaxEntries, cfg.BulkStore.HealthInterval, m.nowFn)
	return m, nil
}

// Get looks the key up tier by tier. A hit below the fast tier promotes the
// entry into the fast tier with its access count advanced.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool, error) {
	now := m.nowFn()

	if e := m.fast.get(key); e != nil {
		if e.expired(now, m.maxAge) {
			m.fast.remove(key, e)
			m.expirations.Add(1)
			return m.miss()
		}
		// Republish the accessed copy only while our pointer is still the
		// published one; a concurrent Set keeps its newer value.
		m.fast.replace(key, e, e.accessed(now))
		m.fastHits.Add(1)
		m.recorder.RecordCacheHit(TierFast)
		return m.materialize(ctx, key, e)
	}

	if e := m.secondary.get(key); e != nil {
		if e.expired(now, m.maxAge) {
			m.secondary.remove(key)
			m.expirations.Add(1)
			return m.miss()
		}
		m.promote(key, e, now, TierSecondary)
		m.secondary.remove(key)
		m.secondaryHits.Add(1)
		m.recorder.RecordCacheHit(TierSecondary)
		m.maybeEvict(ctx)
		return m.materialize(ctx, key, e)
	}

	e, err := m.bulk.get(ctx, key)
	if err != nil {
		// The bulk tier is best effort: a degraded backend turns the
		// lookup into a miss rather than an error.
		m.logger.Warn("bulk tier lookup failed", zap.String("key", key), zap.Error(err))
		return m.miss()
	}
	if e != nil {
		if e.expired(now, m.maxAge) {
			m.bulk.remove(ctx, key)
			m.expirations.Add(1)
			return m.miss()
		}
		// Promotion copies; the bulk copy stays and is overwritten by a
		// later demotion, saving a backend round trip here.
		m.promote(key, e, now, TierBulk)
		m.bulkHits.Add(1)
		m.recorder.RecordCacheHit(TierBulk)
		m.maybeEvict(ctx)
		return m.materialize(ctx, key, e)
	}

	return m.miss()
}

func (m *Manager) miss() ([]byte, bool, error) {
	m.misses.Add(1)
	m.recorder.RecordCacheMiss()
	return nil, false, nil
}

// promote copies the entry into the fast tier with its access count
// advanced. The insert is conditional on the key being absent: a value
// written after the lower-tier read supersedes the stale copy.
func (m *Manager) promote(key string, e *Entry, now time.Time, fromTier string) {
	if !m.fast.replace(key, nil, e.accessed(now)) {
		return
	}
	m.promotions.Add(1)
	m.recorder.RecordPromotion(fromTier, TierFast)
}

// materialize returns the entry's value decompressed. A decode failure
// removes the entry so the caller recomputes the value.
func (m *Manager) materialize(ctx context.Context, key string, e *Entry) ([]byte, bool, error) {
	if !e.Compressed {
		out := make([]byte, len(e.Value))
		copy(out, e.Value)
		return out, true, nil
	}
	decoded, err := m.codec.Decode(e.Value)
	if err != nil {
		m.logger.Error("cached value failed to decode",
			zap.String("key", key), zap.String("codec", m.codec.Name()), zap.Error(err))
		m.Delete(ctx, key)
		return nil, false, errors.Newf(errors.ErrCodeSerializationFailure,
			"decode %s value: %v", m.codec.Name(), err).WithComponent("cache").WithOperation("get")
	}
	return decoded, true, nil
}

// Set stores a value under key in the fast tier, compressing it when that
// pays off, and runs an eviction pass if the write pushed the hierarchy
// over its limits.
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	now := m.nowFn()
	originalSize := int64(len(value))

	stored := make([]byte, len(value))
	copy(stored, value)
	compressed := false
	if m.compressEnabled && originalSize >= m.compressMin {
		encoded, err := m.codec.Encode(value)
		if err != nil {
			return errors.Newf(errors.ErrCodeSerializationFailure,
				"encode %s value: %v", m.codec.Name(), err).WithComponent("cache").WithOperation("set")
		}
		// Keep the raw bytes when compression does not shrink them.
		if int64(len(encoded)) < originalSize {
			stored = encoded
			compressed = true
		}
	}

	e := &Entry{
		Value:        stored,
		Compressed:   compressed,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
		Priority:     m.priorityFn(key, originalSize, int64(len(stored))),
		OriginalSize: originalSize,
		StoredSize:   int64(len(stored)),
	}
	m.fast.put(key, e)
	m.maybeEvict(ctx)
	m.recorder.UpdateCacheBytes(TierFast, m.fast.memoryBytes())
	return nil
}

// Delete removes the key from every tier.
func (m *Manager) Delete(ctx context.Context, key string) {
	m.fast.remove(key, nil)
	m.secondary.remove(key)
	m.bulk.remove(ctx, key)
}

// overLimits reports which budget the hierarchy currently exceeds.
func (m *Manager) overLimits() (memoryPressure, entryOverflow bool) {
	if m.fastCapacity > 0 {
		memoryPressure = float64(m.fast.memoryBytes()) >= m.pressureThreshold*float64(m.fastCapacity)
	}
	entryOverflow = m.fast.len()+m.secondary.len() > m.maxEntries
	return memoryPressure, entryOverflow
}

func (m *Manager) maybeEvict(ctx context.Context) {
	memoryPressure, entryOverflow := m.overLimits()
	if !memoryPressure && !entryOverflow {
		return
	}
	m.evictMu.Lock()
	defer m.evictMu.Unlock()

	// Re-check under the lock; a concurrent pass may already have brought
	// the hierarchy back under budget.
	memoryPressure, entryOverflow = m.overLimits()
	if memoryPressure {
		m.demoteFromFast(ctx)
		_, entryOverflow = m.overLimits()
	}
	for entryOverflow {
		if m.demoteFromSecondary(ctx) == 0 {
			// Secondary is empty; shed directly from the fast tier.
			if m.demoteFromFast(ctx) == 0 {
				break
			}
		}
		_, entryOverflow = m.overLimits()
	}
	m.recorder.UpdateCacheBytes(TierFast, m.fast.memoryBytes())
	m.recorder.UpdateCacheBytes(TierSecondary, m.secondary.memoryBytes())
}

// demoteFromFast moves one batch of the lowest-scored fast entries down to
// the secondary tier, or to the bulk tier when the secondary is full. An
// entry replaced by a concurrent promotion is skipped.
func (m *Manager) demoteFromFast(ctx context.Context) int {
	now := m.nowFn()
	candidates := m.fast.snapshot()
	for i := range candidates {
		candidates[i].score = m.strategy.Score(candidates[i].entry, now)
	}

	moved := 0
	for _, v := range selectVictims(candidates, m.evictionBatch) {
		if !m.fast.remove(v.key, v.entry) {
			continue
		}
		moved++
		if m.secondary.put(v.key, v.entry) {
			m.demotions.Add(1)
			m.recorder.RecordDemotion(TierFast, TierSecondary)
			continue
		}
		m.demoteToBulk(ctx, v.key, v.entry, TierFast)
	}
	if moved > 0 {
		m.evictions.Add(uint64(moved))
		m.recorder.RecordEviction(TierFast, moved)
		m.logger.Debug("fast tier eviction pass",
			zap.Int("moved", moved),
			zap.String("strategy", string(m.strategy)),
			zap.Int64("fast_bytes", m.fast.memoryBytes()))
	}
	return moved
}

// demoteFromSecondary moves one batch of the lowest-scored secondary entries
// to the bulk tier, freeing in-memory entry slots.
func (m *Manager) demoteFromSecondary(ctx context.Context) int {
	now := m.nowFn()
	candidates := m.secondary.snapshot()
	for i := range candidates {
		candidates[i].score = m.strategy.Score(candidates[i].entry, now)
	}

	moved := 0
	for _, v := range selectVictims(candidates, m.evictionBatch) {
		if !m.secondary.remove(v.key) {
			continue
		}
		moved++
		m.demoteToBulk(ctx, v.key, v.entry, TierSecondary)
	}
	if moved > 0 {
		m.evictions.Add(uint64(moved))
		m.recorder.RecordEviction(TierSecondary, moved)
	}
	return moved
}

func (m *Manager) demoteToBulk(ctx context.Context, key string, e *Entry, fromTier string) {
	err := m.bulk.put(ctx, key, e)
	if errors.HasCode(err, errors.ErrCodeCapacityExceeded) {
		// Recoverable: shed one batch of the oldest bulk entries and retry
		// the insert exactly once.
		if shed := m.bulk.evictOldest(ctx, m.evictionBatch); shed > 0 {
			m.evictions.Add(uint64(shed))
			m.recorder.RecordEviction(TierBulk, shed)
			m.logger.Debug("bulk tier eviction pass",
				zap.Int("shed", shed), zap.String("key", key))
			err = m.bulk.put(ctx, key, e)
		}
	}
	if err != nil {
		// The entry is dropped; the value is recomputable by contract. A
		// still-full bulk tier is expected churn, a backend failure is not.
		if errors.HasCode(err, errors.ErrCodeCapacityExceeded) {
			m.logger.Debug("bulk tier full, dropping entry", zap.String("key", key))
		} else {
			m.logger.Warn("bulk tier demotion failed, dropping entry",
				zap.String("key", key), zap.Error(err))
		}
		return
	}
	m.demotions.Add(1)
	m.recorder.RecordDemotion(fromTier, TierBulk)
}

// InvalidatePrefix removes every entry whose key starts with prefix, across
// all tiers. Translation pipelines use this to drop a whole document's
// segments after a glossary change. Returns the number of keys removed.
func (m *Manager) InvalidatePrefix(ctx context.Context, prefix string) int {
	seen := make(map[string]struct{})
	for _, c := range m.fast.snapshot() {
		if strings.HasPrefix(c.key, prefix) && m.fast.remove(c.key, c.entry) {
			seen[c.key] = struct{}{}
		}
	}
	// The secondary tier's sorted index makes the prefix scan cheap.
	for _, key := range m.secondary.scanPrefix(prefix, 0) {
		if m.secondary.remove(key) {
			seen[key] = struct{}{}
		}
	}
	for _, key := range m.bulk.keysWithPrefix(prefix) {
		seen[key] = struct{}{}
	}
	for key := range seen {
		m.bulk.remove(ctx, key)
	}
	return len(seen)
}

// SweepExpired removes expired entries from the in-memory tiers. Bulk
// entries are checked lazily on read instead. Returns the number removed.
func (m *Manager) SweepExpired(ctx context.Context) int {
	if m.maxAge <= 0 {
		return 0
	}
	now := m.nowFn()
	removed := 0
	for _, c := range m.fast.snapshot() {
		if c.entry.expired(now, m.maxAge) && m.fast.remove(c.key, c.entry) {
			removed++
		}
	}
	for _, c := range m.secondary.snapshot() {
		if c.entry.expired(now, m.maxAge) && m.secondary.remove(c.key) {
			removed++
		}
	}
	if removed > 0 {
		m.expirations.Add(uint64(removed))
		m.recorder.UpdateCacheBytes(TierFast, m.fast.memoryBytes())
		m.recorder.UpdateCacheBytes(TierSecondary, m.secondary.memoryBytes())
		m.logger.Debug("expired entries swept", zap.Int("removed", removed))
	}
	return removed
}

// BulkDegraded reports whether the bulk tier is currently bypassed.
func (m *Manager) BulkDegraded() bool {
	return m.bulk.isDegraded()
}

// Stats returns per-tier and combined statistics.
func (m *Manager) Stats(ctx context.Context) types.TierBreakdown {
	fastStats := types.CacheStats{
		Hits:     m.fastHits.Load(),
		Entries:  m.fast.len(),
		Bytes:    m.fast.memoryBytes(),
		Capacity: m.fastCapacity,
	}
	if m.fastCapacity > 0 {
		fastStats.Utilization = float64(fastStats.Bytes) / float64(m.fastCapacity)
	}
	secondaryStats := types.CacheStats{
		Hits:    m.secondaryHits.Load(),
		Entries: m.secondary.len(),
		Bytes:   m.secondary.memoryBytes(),
	}
	bulkStats := types.CacheStats{
		Hits:    m.bulkHits.Load(),
		Entries: m.bulk.len(ctx),
	}

	combined := types.CacheStats{
		Hits:       fastStats.Hits + secondaryStats.Hits + bulkStats.Hits,
		Misses:     m.misses.Load(),
		Evictions:  m.evictions.Load(),
		Promotions: m.promotions.Load(),
		Demotions:  m.demotions.Load(),
		Entries:    fastStats.Entries + secondaryStats.Entries + bulkStats.Entries,
		Bytes:      fastStats.Bytes + secondaryStats.Bytes,
		Capacity:   m.fastCapacity,
	}
	if total := combined.Hits + combined.Misses; total > 0 {
		combined.HitRate = float64(combined.Hits) / float64(total)
	}
	if m.fastCapacity > 0 {
		combined.Utilization = float64(combined.Bytes) / float64(m.fastCapacity)
	}

	return types.TierBreakdown{
		Tiers: map[string]types.CacheStats{
			TierFast:      fastStats,
			TierSecondary: secondaryStats,
			TierBulk:      bulkStats,
		},
		Combined: combined,
	}
}
