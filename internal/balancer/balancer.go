// Package balancer distributes work across translation workers. It keeps a
// live record per server, a sliding window of load samples, and a pluggable
// selection strategy chosen at construction.
package balancer

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lingvolabs/optilayer/internal/config"
	"github.com/lingvolabs/optilayer/internal/predictor"
	"github.com/lingvolabs/optilayer/pkg/errors"
	"github.com/lingvolabs/optilayer/pkg/types"
)

// Balancer owns the server map and the sample history. Server records are
// created on first sight and never deleted; a dead server ages out through
// its availability instead.
type Balancer struct {
	strategy  strategy
	retention time.Duration
	logger    *zap.Logger
	recorder  types.Recorder
	nowFn     func() time.Time

	mu      sync.RWMutex
	servers map[string]*ServerRecord
	order   []string // sorted addresses, maintained on insert

	histMu  sync.Mutex
	history []types.LoadSample
}

// Option tweaks a Balancer, mainly for tests.
type Option func(*Balancer)

// WithClock replaces the balancer's time source.
func WithClock(nowFn func() time.Time) Option {
	return func(b *Balancer) { b.nowFn = nowFn }
}

// New builds a balancer for the configured policy.
func New(cfg config.BalancerConfig, logger *zap.Logger, recorder types.Recorder, opts ...Option) (*Balancer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = types.NopRecorder{}
	}

	b := &Balancer{
		retention: cfg.HistoryRetention,
		logger:    logger,
		recorder:  recorder,
		nowFn:     time.Now,
		servers:   make(map[string]*ServerRecord),
	}
	for _, opt := range opts {
		opt(b)
	}

	switch cfg.Policy {
	case PolicyWeightedRoundRobin, "":
		b.strategy = newWeightedRoundRobin(cfg.Weights)
	case PolicyLeastConnections:
		b.strategy = &leastConnections{maxConnections: cfg.MaxConnections}
	case PolicyResourceBased:
		b.strategy = &resourceBased{
			cpuWeight:      cfg.CPUWeight,
			memoryWeight:   cfg.MemoryWeight,
			responseWeight: cfg.ResponseWeight,
		}
	case PolicyPredictive:
		b.strategy = &predictive{
			predictor: predictor.New(cfg.PredictionWindow),
			series:    b.loadSeries,
			fallback:  newWeightedRoundRobin(cfg.Weights),
		}
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown balancing policy %q", cfg.Policy)
	}
	return b, nil
}

// Policy returns the active policy name.
func (b *Balancer) Policy() string {
	return b.strategy.Name()
}

// Register ensures a server record exists for the address.
func (b *Balancer) Register(address string) {
	b.record(address)
}

func (b *Balancer) record(address string) *ServerRecord {
	b.mu.RLock()
	r, ok := b.servers[address]
	b.mu.RUnlock()
	if ok {
		return r
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.servers[address]; ok {
		return r
	}
	r = newServerRecord(address)
	b.servers[address] = r
	i := sort.SearchStrings(b.order, address)
	b.order = append(b.order, "")
	copy(b.order[i+1:], b.order[i:])
	b.order[i] = address
	b.logger.Info("server registered", zap.String("server", address))
	return r
}

// candidates returns the records in address order.
func (b *Balancer) candidates() []*ServerRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*ServerRecord, len(b.order))
	for i, addr := range b.order {
		out[i] = b.servers[addr]
	}
	return out
}

// Select picks a worker for the request under the active policy, counts the
// dispatch against it, and appends a load sample to the history.
func (b *Balancer) Select(req types.Request) (string, error) {
	servers := b.candidates()
	if len(servers) == 0 {
		return "", errNoServers("server set is empty")
	}

	chosen, err := b.strategy.Select(servers, req)
	if err != nil {
		return "", err
	}

	active := chosen.acquire()
	b.recorder.UpdateActiveRequests(chosen.Address(), active)
	b.recorder.RecordSelection(b.strategy.Name())
	b.appendSample(servers)

	return chosen.Address(), nil
}

// Release returns a dispatch slot for the server. Callers that abandon a
// request must call it or the connection count drifts.
func (b *Balancer) Release(address string) {
	b.mu.RLock()
	r, ok := b.servers[address]
	b.mu.RUnlock()
	if !ok {
		return
	}
	b.recorder.UpdateActiveRequests(address, r.release())
}

// Observe folds a dispatch outcome into the server's record, creating the
// record on first observation.
func (b *Balancer) Observe(address string, load, responseTimeMs float64, errored bool) {
	r := b.record(address)
	r.observe(b.nowFn(), load, responseTimeMs, errored)
	if errored {
		b.recorder.RecordServerError(address)
	}
}

// UpdateResources records a worker's reported resource utilization for the
// resource-based policy.
func (b *Balancer) UpdateResources(address string, res types.ServerResources) {
	b.record(address).setResources(res)
}

// appendSample stores a snapshot of every server's current load and prunes
// history beyond the retention window, both under the history lock.
func (b *Balancer) appendSample(servers []*ServerRecord) {
	now := b.nowFn()
	loads := make(map[string]float64, len(servers))
	for _, r := range servers {
		loads[r.Address()] = r.Load()
	}

	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = append(b.history, types.LoadSample{Timestamp: now, Loads: loads})

	cutoff := now.Add(-b.retention)
	i := 0
	for ; i < len(b.history); i++ {
		if b.history[i].Timestamp.After(cutoff) {
			break
		}
	}
	b.history = b.history[i:]
}

// History returns a copy of the retained load samples, oldest first.
func (b *Balancer) History() []types.LoadSample {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]types.LoadSample, len(b.history))
	copy(out, b.history)
	return out
}

// loadSeries rearranges the history into one chronological series per
// server for the predictor.
func (b *Balancer) loadSeries() map[string][]float64 {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	out := make(map[string][]float64)
	for _, sample := range b.history {
		for addr, load := range sample.Loads {
			out[addr] = append(out[addr], load)
		}
	}
	return out
}

// Snapshots returns a point-in-time copy of every server record, sorted by
// address.
func (b *Balancer) Snapshots() []types.ServerSnapshot {
	now := b.nowFn()
	servers := b.candidates()
	out := make([]types.ServerSnapshot, len(servers))
	for i, r := range servers {
		out[i] = r.Snapshot(now)
	}
	return out
}
