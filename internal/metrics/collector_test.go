package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lingvolabs/optilayer/internal/config"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	cfg := config.NewDefault().Metrics
	c, err := NewCollector(cfg, prometheus.NewRegistry(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestCollectorCounts(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	c.RecordCacheHit("fast")
	c.RecordCacheHit("fast")
	c.RecordCacheHit("bulk")
	c.RecordCacheMiss()
	c.RecordEviction("fast", 7)
	c.RecordPromotion("bulk", "fast")
	c.RecordDemotion("fast", "secondary")
	c.RecordSelection("weighted_round_robin")
	c.RecordServerError("worker-a:9000")
	c.UpdateCacheBytes("fast", 4096)
	c.UpdateActiveRequests("worker-a:9000", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("fast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("bulk")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheMisses))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.evictions.WithLabelValues("fast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.promotions.WithLabelValues("bulk", "fast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.demotions.WithLabelValues("fast", "secondary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.selections.WithLabelValues("weighted_round_robin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.serverErrors.WithLabelValues("worker-a:9000")))
	assert.Equal(t, 4096.0, testutil.ToFloat64(c.cacheBytes.WithLabelValues("fast")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.activeRequests.WithLabelValues("worker-a:9000")))
}

func TestCollectorDisabledIsNoop(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefault().Metrics
	cfg.Enabled = false
	c, err := NewCollector(cfg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, c.Registry())

	// None of these may panic with metrics disabled.
	c.RecordCacheHit("fast")
	c.RecordCacheMiss()
	c.RecordEviction("fast", 1)
	c.RecordPromotion("bulk", "fast")
	c.RecordDemotion("fast", "bulk")
	c.RecordSelection("predictive")
	c.RecordServerError("worker-a:9000")
	c.UpdateCacheBytes("fast", 1)
	c.UpdateActiveRequests("worker-a:9000", 1)

	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
}

func TestCollectorRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	cfg := config.NewDefault().Metrics
	_, err := NewCollector(cfg, registry, nil)
	require.NoError(t, err)
	_, err = NewCollector(cfg, registry, nil)
	assert.Error(t, err)
}
