package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lingvolabs/optilayer/pkg/types"
)

// sample is one observed dispatch outcome.
type sample struct {
	at        time.Time
	latencyMs float64
	errored   bool
}

// ringBuffer keeps the last N samples for one server.
type ringBuffer struct {
	buf  []sample
	next int
	full bool
}

func (r *ringBuffer) add(s sample) {
	r.buf[r.next] = s
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// samples returns the stored samples in insertion order.
func (r *ringBuffer) samples() []sample {
	if !r.full {
		out := make([]sample, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]sample, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Sampler aggregates per-server latency and error observations over a
// bounded window of recent samples.
type Sampler struct {
	window int
	nowFn  func() time.Time

	mu      sync.Mutex
	servers map[string]*ringBuffer
}

// NewSampler keeps the last window samples per server.
func NewSampler(window int, nowFn func() time.Time) *Sampler {
	if window <= 0 {
		window = 1024
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Sampler{
		window:  window,
		nowFn:   nowFn,
		servers: make(map[string]*ringBuffer),
	}
}

// Record stores one dispatch outcome for the server.
func (s *Sampler) Record(serverID string, latencyMs float64, errored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.servers[serverID]
	if !ok {
		r = &ringBuffer{buf: make([]sample, s.window)}
		s.servers[serverID] = r
	}
	r.add(sample{at: s.nowFn(), latencyMs: latencyMs, errored: errored})
}

// Summary computes latency percentiles, throughput, and error rate over the
// retained samples. The second return is false for an unknown server.
func (s *Sampler) Summary(serverID string) (types.ServerMetrics, bool) {
	s.mu.Lock()
	r, ok := s.servers[serverID]
	if !ok {
		s.mu.Unlock()
		return types.ServerMetrics{}, false
	}
	samples := r.samples()
	s.mu.Unlock()

	if len(samples) == 0 {
		return types.ServerMetrics{}, false
	}

	latencies := make([]float64, len(samples))
	errorCount := 0
	oldest := samples[0].at
	for i, smp := range samples {
		latencies[i] = smp.latencyMs
		if smp.errored {
			errorCount++
		}
		if smp.at.Before(oldest) {
			oldest = smp.at
		}
	}
	sort.Float64s(latencies)

	span := s.nowFn().Sub(oldest)
	if span < time.Second {
		span = time.Second
	}

	return types.ServerMetrics{
		Latency: types.LatencySummary{
			Min: latencies[0],
			Max: latencies[len(latencies)-1],
			P50: percentile(latencies, 0.50),
			P90: percentile(latencies, 0.90),
			P99: percentile(latencies, 0.99),
		},
		Throughput: float64(len(samples)) / span.Seconds(),
		ErrorRate:  float64(errorCount) / float64(len(samples)),
		Samples:    len(samples),
	}, true
}

// Servers returns the IDs with at least one recorded sample.
func (s *Sampler) Servers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.servers))
	for id := range s.servers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
