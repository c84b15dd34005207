// Package metrics exposes the optimization layer's observability surface: a
// Prometheus collector implementing types.Recorder and a latency sampler
// that aggregates per-server percentiles for the balancer.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lingvolabs/optilayer/internal/config"
	"github.com/lingvolabs/optilayer/pkg/types"
)

// Compile-time check that Collector implements types.Recorder.
var _ types.Recorder = (*Collector)(nil)

// Collector translates cache and balancer events into Prometheus metrics
// and serves them over HTTP. With metrics disabled every method is a no-op.
type Collector struct {
	cfg      config.MetricsConfig
	registry *prometheus.Registry
	logger   *zap.Logger

	cacheHits      *prometheus.CounterVec
	cacheMisses    prometheus.Counter
	evictions      *prometheus.CounterVec
	promotions     *prometheus.CounterVec
	demotions      *prometheus.CounterVec
	selections     *prometheus.CounterVec
	serverErrors   *prometheus.CounterVec
	cacheBytes     *prometheus.GaugeVec
	activeRequests *prometheus.GaugeVec

	server *http.Server
}

// NewCollector creates a collector registered on the given registry. A nil
// registry creates a private one.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry, logger *zap.Logger) (*Collector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{cfg: cfg, logger: logger}
	if !cfg.Enabled {
		return c, nil
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	c.registry = registry

	ns := cfg.Namespace
	c.cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_hits_total",
		Help: "Cache hits by tier.",
	}, []string{"tier"})
	c.cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_misses_total",
		Help: "Cache lookups that missed every tier.",
	})
	c.evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_evictions_total",
		Help: "Entries evicted from a tier.",
	}, []string{"tier"})
	c.promotions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_promotions_total",
		Help: "Entries promoted between tiers.",
	}, []string{"from", "to"})
	c.demotions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "cache_demotions_total",
		Help: "Entries demoted between tiers.",
	}, []string{"from", "to"})
	c.selections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "balancer_selections_total",
		Help: "Server selections by balancing strategy.",
	}, []string{"strategy"})
	c.serverErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "server_errors_total",
		Help: "Dispatch errors by server.",
	}, []string{"server"})
	c.cacheBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "cache_bytes",
		Help: "Estimated memory held by a cache tier.",
	}, []string{"tier"})
	c.activeRequests = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "active_requests",
		Help: "In-flight requests by server.",
	}, []string{"server"})

	for _, col := range []prometheus.Collector{
		c.cacheHits, c.cacheMisses, c.evictions, c.promotions, c.demotions,
		c.selections, c.serverErrors, c.cacheBytes, c.activeRequests,
	} {
		if err := registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return c, nil
}

// Registry returns the underlying registry, nil when metrics are disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.cfg.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	c.logger.Info("metrics endpoint started",
		zap.Int("port", c.cfg.Port), zap.String("path", c.cfg.Path))
	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

func (c *Collector) RecordCacheHit(tier string) {
	if !c.cfg.Enabled {
		return
	}
	c.cacheHits.WithLabelValues(tier).Inc()
}

func (c *Collector) RecordCacheMiss() {
	if !c.cfg.Enabled {
		return
	}
	c.cacheMisses.Inc()
}

func (c *Collector) RecordEviction(tier string, count int) {
	if !c.cfg.Enabled {
		return
	}
	c.evictions.WithLabelValues(tier).Add(float64(count))
}

func (c *Collector) RecordPromotion(fromTier, toTier string) {
	if !c.cfg.Enabled {
		return
	}
	c.promotions.WithLabelValues(fromTier, toTier).Inc()
}

func (c *Collector) RecordDemotion(fromTier, toTier string) {
	if !c.cfg.Enabled {
		return
	}
	c.demotions.WithLabelValues(fromTier, toTier).Inc()
}

func (c *Collector) RecordSelection(strategy string) {
	if !c.cfg.Enabled {
		return
	}
	c.selections.WithLabelValues(strategy).Inc()
}

func (c *Collector) RecordServerError(serverID string) {
	if !c.cfg.Enabled {
		return
	}
	c.serverErrors.WithLabelValues(serverID).Inc()
}

func (c *Collector) UpdateCacheBytes(tier string, bytes int64) {
	if !c.cfg.Enabled {
		return
	}
	c.cacheBytes.WithLabelValues(tier).Set(float64(bytes))
}

func (c *Collector) UpdateActiveRequests(serverID string, count int64) {
	if !c.cfg.Enabled {
		return
	}
	c.activeRequests.WithLabelValues(serverID).Set(float64(count))
}
