package optimizer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lingvolabs/optilayer/internal/cache"
	"github.com/lingvolabs/optilayer/internal/store"
)

type options struct {
	logger     *zap.Logger
	registry   *prometheus.Registry
	bulkStore  store.Store
	priorityFn cache.PriorityFunc
	nowFn      func() time.Time
}

// Option customizes an Optimizer at construction.
type Option func(*options)

// WithLogger sets the logger; subsystems log under named children of it.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegistry registers the collector's metrics on an existing registry
// instead of a private one.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(o *options) { o.registry = registry }
}

// WithBulkStore overrides the configured bulk tier backend.
func WithBulkStore(s store.Store) Option {
	return func(o *options) { o.bulkStore = s }
}

// WithPriority overrides the cache retention priority heuristic. The
// function must be pure.
func WithPriority(fn func(key string, originalSize, storedSize int64) uint8) Option {
	return func(o *options) { o.priorityFn = fn }
}

// WithClock replaces the time source of every subsystem, for tests.
func WithClock(nowFn func() time.Time) Option {
	return func(o *options) { o.nowFn = nowFn }
}
