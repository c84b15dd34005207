package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestSamplerPercentiles(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewSampler(1024, clock.Now)
	for i := 1; i <= 100; i++ {
		s.Record("worker-a:9000", float64(i), i%10 == 0)
	}

	m, ok := s.Summary("worker-a:9000")
	require.True(t, ok)
	assert.Equal(t, 100, m.Samples)
	assert.InDelta(t, 1.0, m.Latency.Min, 1e-9)
	assert.InDelta(t, 100.0, m.Latency.Max, 1e-9)
	assert.InDelta(t, 50.0, m.Latency.P50, 1e-9)
	assert.InDelta(t, 90.0, m.Latency.P90, 1e-9)
	assert.InDelta(t, 99.0, m.Latency.P99, 1e-9)
	assert.InDelta(t, 0.1, m.ErrorRate, 1e-9)
}

func TestSamplerThroughput(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := NewSampler(1024, clock.Now)
	for i := 0; i < 100; i++ {
		s.Record("worker-a:9000", 10, false)
		clock.Advance(100 * time.Millisecond)
	}

	m, ok := s.Summary("worker-a:9000")
	require.True(t, ok)
	// 100 samples over 10 seconds.
	assert.InDelta(t, 10.0, m.Throughput, 0.2)
}

func TestSamplerWindowWraps(t *testing.T) {
	t.Parallel()

	s := NewSampler(4, newFakeClock().Now)
	for i := 1; i <= 6; i++ {
		s.Record("worker-a:9000", float64(i), false)
	}

	m, ok := s.Summary("worker-a:9000")
	require.True(t, ok)
	assert.Equal(t, 4, m.Samples)
	assert.InDelta(t, 3.0, m.Latency.Min, 1e-9, "oldest samples displaced")
	assert.InDelta(t, 6.0, m.Latency.Max, 1e-9)
}

func TestSamplerUnknownServer(t *testing.T) {
	t.Parallel()

	s := NewSampler(16, nil)
	_, ok := s.Summary("nobody:9000")
	assert.False(t, ok)
	assert.Empty(t, s.Servers())
}

func TestSamplerServers(t *testing.T) {
	t.Parallel()

	s := NewSampler(16, nil)
	s.Record("worker-b:9000", 1, false)
	s.Record("worker-a:9000", 1, false)
	assert.Equal(t, []string{"worker-a:9000", "worker-b:9000"}, s.Servers())
}
