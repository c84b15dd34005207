package optimizer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/lingvolabs/optilayer/internal/config"
	"github.com/lingvolabs/optilayer/pkg/errors"
	"github.com/lingvolabs/optilayer/pkg/types"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func newTestOptimizer(t *testing.T, mutate func(*config.Configuration)) *Optimizer {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Metrics.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	o, err := New(cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithClock(newFakeClock().Now))
	require.NoError(t, err)
	return o
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefault()
	cfg.Cache.MaxEntries = -1
	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigValidation))
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t, nil)
	ctx := context.Background()

	require.NoError(t, o.CacheSet(ctx, "seg:doc1:1", []byte("Hallo Welt")))
	got, ok := o.CacheGet(ctx, "seg:doc1:1")
	require.True(t, ok)
	assert.Equal(t, []byte("Hallo Welt"), got)

	_, ok = o.CacheGet(ctx, "seg:doc1:2")
	assert.False(t, ok)
}

func TestCacheGetOrComputeSharesComputation(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t, nil)
	ctx := context.Background()

	var calls atomic.Int64
	compute := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond) // widen the overlap window
		return []byte("computed"), nil
	}

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			got, err := o.CacheGetOrCompute(ctx, "seg:doc1:1", compute)
			if err != nil {
				return err
			}
			if string(got) != "computed" {
				return fmt.Errorf("unexpected value %q", got)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), calls.Load(), "concurrent misses share one computation")

	// The computed value is cached for later callers.
	got, ok := o.CacheGet(ctx, "seg:doc1:1")
	require.True(t, ok)
	assert.Equal(t, []byte("computed"), got)
}

func TestCacheGetOrComputePropagatesFailure(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t, nil)
	_, err := o.CacheGetOrCompute(context.Background(), "k", func(context.Context) ([]byte, error) {
		return nil, fmt.Errorf("upstream translation failed")
	})
	require.Error(t, err)

	_, ok := o.CacheGet(context.Background(), "k")
	assert.False(t, ok, "failed computations are not cached")
}

func TestSelectObserveAndStats(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t, func(cfg *config.Configuration) {
		cfg.Balancer.Policy = "least_connections"
	})

	o.RegisterServer("worker-a:9000")
	o.RegisterServer("worker-b:9000")

	addr, err := o.SelectServer(types.Request{Kind: "translation", SizeBytes: 2048})
	require.NoError(t, err)
	o.RecordSample(addr, 0.4, 120, nil)

	// The first pick still holds its slot, so least-connections goes to
	// the other worker.
	addr2, err := o.SelectServer(types.Request{Kind: "ocr"})
	require.NoError(t, err)
	require.NotEqual(t, addr, addr2)
	o.RecordSample(addr2, 0.6, 300, fmt.Errorf("worker crashed"))

	o.Release(addr)
	o.Release(addr2)

	stats := o.Stats(context.Background())
	assert.Equal(t, "least_connections", stats.Policy)
	assert.Len(t, stats.Servers, 2)
	require.Contains(t, stats.Metrics, addr)
	assert.Equal(t, 1, stats.Metrics[addr].Samples)
}

func TestSelectServerEmptySet(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t, nil)
	_, err := o.SelectServer(types.Request{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNoServersAvailable))
}

func TestInvalidatePrefix(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t, nil)
	ctx := context.Background()

	require.NoError(t, o.CacheSet(ctx, "doc1:s1", []byte("v")))
	require.NoError(t, o.CacheSet(ctx, "doc1:s2", []byte("v")))
	require.NoError(t, o.CacheSet(ctx, "doc2:s1", []byte("v")))

	assert.Equal(t, 2, o.InvalidatePrefix(ctx, "doc1:"))
	_, ok := o.CacheGet(ctx, "doc2:s1")
	assert.True(t, ok)
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	o := newTestOptimizer(t, nil)
	ctx := context.Background()

	require.NoError(t, o.Start(ctx))
	err := o.Start(ctx)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyStarted))

	require.NoError(t, o.Stop(ctx))
	require.NoError(t, o.Stop(ctx), "stop is idempotent")

	// A stopped optimizer can be started again.
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Stop(ctx))
}

func TestWithPriorityOverride(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefault()
	cfg.Metrics.Enabled = false
	cfg.Cache.MaxEntries = 2
	cfg.Cache.EvictionBatchSize = 1

	pinned := map[string]uint8{"keep-a": 5, "keep-b": 5}
	o, err := New(cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithPriority(func(key string, _, _ int64) uint8 { return pinned[key] }))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, o.CacheSet(ctx, "keep-a", []byte("v")))
	require.NoError(t, o.CacheSet(ctx, "keep-b", []byte("v")))
	require.NoError(t, o.CacheSet(ctx, "churn", []byte("v")))

	stats := o.Stats(ctx)
	assert.Equal(t, 2, stats.Cache.Tiers["fast"].Entries)
	assert.Equal(t, 1, stats.Cache.Tiers["bulk"].Entries, "unpinned key demoted")
}
