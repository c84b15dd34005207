// Package optimizer is the coordination façade of the resource-optimization
// layer. One Optimizer instance owns the cache hierarchy, the load balancer,
// the metrics sampler, and the Prometheus collector; collaborators hold a
// handle to it and never touch the subsystems directly.
package optimizer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lingvolabs/optilayer/internal/balancer"
	"github.com/lingvolabs/optilayer/internal/cache"
	"github.com/lingvolabs/optilayer/internal/codec"
	"github.com/lingvolabs/optilayer/internal/config"
	"github.com/lingvolabs/optilayer/internal/metrics"
	"github.com/lingvolabs/optilayer/internal/store"
	"github.com/lingvolabs/optilayer/pkg/errors"
	"github.com/lingvolabs/optilayer/pkg/types"
)

// Optimizer wires the subsystems together. Construct it once at process
// start; all methods are safe for concurrent use.
type Optimizer struct {
	cfg       *config.Configuration
	logger    *zap.Logger
	cache     *cache.Manager
	balancer  *balancer.Balancer
	sampler   *metrics.Sampler
	collector *metrics.Collector
	nowFn     func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	started     bool
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New builds an Optimizer from validated configuration.
func New(cfg *config.Configuration, opts ...Option) (*Optimizer, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.New(errors.ErrCodeConfigValidation, err.Error())
	}

	o := &options{nowFn: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	collector, err := metrics.NewCollector(cfg.Metrics, o.registry, logger)
	if err != nil {
		return nil, err
	}
	var recorder types.Recorder = collector
	if !cfg.Metrics.Enabled {
		recorder = types.NopRecorder{}
	}

	cdc, err := codec.ForAlgorithm(cfg.Cache.Compression.Algorithm)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, err.Error())
	}

	backend := o.bulkStore
	if backend == nil {
		if backend, err = buildStore(cfg.Cache.BulkStore); err != nil {
			return nil, err
		}
	}

	cacheOpts := []cache.Option{cache.WithClock(o.nowFn)}
	if o.priorityFn != nil {
		cacheOpts = append(cacheOpts, cache.WithPriorityFunc(o.priorityFn))
	}
	mgr, err := cache.NewManager(cfg.Cache, backend, cdc, logger.Named("cache"), recorder, cacheOpts...)
	if err != nil {
		return nil, err
	}

	bal, err := balancer.New(cfg.Balancer, logger.Named("balancer"), recorder, balancer.WithClock(o.nowFn))
	if err != nil {
		return nil, err
	}

	return &Optimizer{
		cfg:       cfg,
		logger:    logger,
		cache:     mgr,
		balancer:  bal,
		sampler:   metrics.NewSampler(cfg.Metrics.SampleWindow, o.nowFn),
		collector: collector,
		nowFn:     o.nowFn,
	}, nil
}

func buildStore(cfg config.BulkStoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemStore(), nil
	case "disk":
		return store.NewDiskStore(cfg.Directory)
	case "s3":
		return store.NewS3Store(context.Background(), store.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown bulk store backend %q", cfg.Backend)
	}
}

// Start brings up the metrics endpoint and the expiry sweeper.
func (o *Optimizer) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New(errors.ErrCodeAlreadyStarted, "optimizer already started")
	}
	if err := o.collector.Start(ctx); err != nil {
		return err
	}

	sweepCtx, cancel := context.WithCancel(context.Background())
	o.sweepCancel = cancel
	o.sweepDone = make(chan struct{})
	go o.sweepLoop(sweepCtx)

	o.started = true
	o.logger.Info("optimizer started",
		zap.String("policy", o.balancer.Policy()),
		zap.String("strategy", o.cfg.Cache.Strategy))
	return nil
}

// Stop shuts the sweeper and the metrics endpoint down. Safe to call more
// than once.
func (o *Optimizer) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.started {
		return nil
	}
	o.sweepCancel()
	<-o.sweepDone
	o.started = false
	return o.collector.Stop(ctx)
}

// sweepInterval derives the expiry sweep period from the entry lifetime,
// clamped to [30s, 5m].
func (o *Optimizer) sweepInterval() time.Duration {
	interval := o.cfg.Cache.MaxAge / 10
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	return interval
}

func (o *Optimizer) sweepLoop(ctx context.Context) {
	defer close(o.sweepDone)
	if o.cfg.Cache.MaxAge <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(o.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.cache.SweepExpired(ctx)
		}
	}
}

// CacheGet returns the cached value for key. Any per-key failure degrades
// to a miss; callers never see cache errors.
func (o *Optimizer) CacheGet(ctx context.Context, key string) ([]byte, bool) {
	value, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.Warn("cache lookup degraded to miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return value, ok
}

// CacheSet stores a value under key.
func (o *Optimizer) CacheSet(ctx context.Context, key string, value []byte) error {
	return o.cache.Set(ctx, key, value)
}

// CacheGetOrCompute returns the cached value or computes and caches it.
// Concurrent callers for the same key share one computation.
func (o *Optimizer) CacheGetOrCompute(ctx context.Context, key string, compute func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if value, ok := o.CacheGet(ctx, key); ok {
		return value, nil
	}
	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		// Re-check: another caller may have stored the value while this
		// one waited for the flight slot.
		if value, ok := o.CacheGet(ctx, key); ok {
			return value, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := o.CacheSet(ctx, key, value); err != nil {
			o.logger.Warn("computed value not cached", zap.String("key", key), zap.Error(err))
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// InvalidatePrefix drops every cached entry whose key starts with prefix.
func (o *Optimizer) InvalidatePrefix(ctx context.Context, prefix string) int {
	return o.cache.InvalidatePrefix(ctx, prefix)
}

// RegisterServer makes a worker known to the balancer before its first
// observation.
func (o *Optimizer) RegisterServer(address string) {
	o.balancer.Register(address)
}

// SelectServer picks a worker for the request under the configured policy.
func (o *Optimizer) SelectServer(req types.Request) (string, error) {
	return o.balancer.Select(req)
}

// Release returns the dispatch slot taken by SelectServer.
func (o *Optimizer) Release(serverID string) {
	o.balancer.Release(serverID)
}

// RecordSample feeds a dispatch outcome back into the balancer and the
// sampler. A nil err marks the dispatch successful.
func (o *Optimizer) RecordSample(serverID string, load, responseTimeMs float64, err error) {
	o.balancer.Observe(serverID, load, responseTimeMs, err != nil)
	o.sampler.Record(serverID, responseTimeMs, err != nil)
}

// UpdateServerResources records a worker's reported resource utilization.
func (o *Optimizer) UpdateServerResources(serverID string, res types.ServerResources) {
	o.balancer.UpdateResources(serverID, res)
}

// Stats is the aggregate view of the optimizer's state.
type Stats struct {
	Cache   types.TierBreakdown            `json:"cache"`
	Servers []types.ServerSnapshot         `json:"servers"`
	Metrics map[string]types.ServerMetrics `json:"metrics"`
	Policy  string                         `json:"policy"`
}

// Stats returns cache, server, and sampler statistics.
func (o *Optimizer) Stats(ctx context.Context) Stats {
	serverMetrics := make(map[string]types.ServerMetrics)
	for _, id := range o.sampler.Servers() {
		if m, ok := o.sampler.Summary(id); ok {
			serverMetrics[id] = m
		}
	}
	return Stats{
		Cache:   o.cache.Stats(ctx),
		Servers: o.balancer.Snapshots(),
		Metrics: serverMetrics,
		Policy:  o.balancer.Policy(),
	}
}
