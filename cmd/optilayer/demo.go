package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lingvolabs/optilayer/pkg/optimizer"
	"github.com/lingvolabs/optilayer/pkg/retry"
	"github.com/lingvolabs/optilayer/pkg/types"
)

var (
	demoServers   int
	demoDocuments int
	demoSegments  int
	demoWorkers   int
	demoServe     bool
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a synthetic translation workload through the optimizer",
	Long: `Demo drives a synthetic document-translation workload through the
coordinator: segments are translated through CacheGetOrCompute so repeated
segments hit the cache, and every translation is dispatched to a worker
picked by the configured balancing policy.

Afterwards it prints per-tier cache statistics, server snapshots, and
latency percentiles as JSON. With --serve it keeps the Prometheus endpoint
up until interrupted.`,
	RunE: runDemo,
}

func init() {
	demoCmd.Flags().IntVar(&demoServers, "servers", 3, "number of synthetic workers")
	demoCmd.Flags().IntVar(&demoDocuments, "documents", 5, "number of synthetic documents")
	demoCmd.Flags().IntVar(&demoSegments, "segments", 400, "segments per document")
	demoCmd.Flags().IntVar(&demoWorkers, "concurrency", 8, "concurrent translation goroutines")
	demoCmd.Flags().BoolVar(&demoServe, "serve", false, "keep the metrics endpoint running after the workload")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Global.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opt, err := optimizer.New(cfg, optimizer.WithLogger(logger))
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := opt.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = opt.Stop(context.Background()) }()

	servers := make([]string, demoServers)
	for i := range servers {
		servers[i] = fmt.Sprintf("worker-%d:9000", i)
		opt.RegisterServer(servers[i])
		opt.UpdateServerResources(servers[i], types.ServerResources{
			CPU:    rand.Float64() * 0.5,
			Memory: rand.Float64() * 0.5,
		})
	}

	logger.Info("starting synthetic workload",
		zap.Int("servers", demoServers),
		zap.Int("documents", demoDocuments),
		zap.Int("segments", demoSegments))

	retryCfg := retry.DefaultConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Debug("retrying dispatch",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	retryer := retry.New(retryCfg)

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(demoWorkers)
	for doc := 0; doc < demoDocuments; doc++ {
		for seg := 0; seg < demoSegments; seg++ {
			// Segments repeat across documents, so later documents mostly
			// hit the cache the way shared terminology does in practice.
			key := fmt.Sprintf("seg:en-de:%d", seg%(demoSegments/2+1))
			g.Go(func() error {
				_, err := opt.CacheGetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
					return translateSegment(ctx, opt, retryer, key)
				})
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	stats := opt.Stats(ctx)
	out, err := json.MarshalIndent(struct {
		Elapsed string          `json:"elapsed"`
		Stats   optimizer.Stats `json:"stats"`
	}{elapsed.String(), stats}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if demoServe {
		logger.Info("serving metrics until interrupted",
			zap.Int("port", cfg.Metrics.Port), zap.String("path", cfg.Metrics.Path))
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
	}
	return nil
}

// translateSegment dispatches one synthetic translation to a worker and
// feeds the observed outcome back. Selection is retried with backoff when
// every worker is saturated.
func translateSegment(ctx context.Context, opt *optimizer.Optimizer, retryer *retry.Retryer, key string) ([]byte, error) {
	var addr string
	err := retryer.Do(ctx, func(context.Context) error {
		var selErr error
		addr, selErr = opt.SelectServer(types.Request{
			Kind:       "translation",
			SourceLang: "en",
			TargetLang: "de",
			SizeBytes:  int64(64 + rand.Intn(2048)),
		})
		return selErr
	})
	if err != nil {
		return nil, err
	}
	defer opt.Release(addr)

	latency := 20 + rand.Float64()*80
	load := rand.Float64() * 0.8
	var dispatchErr error
	if rand.Intn(100) == 0 {
		dispatchErr = fmt.Errorf("synthetic worker error")
	}
	opt.RecordSample(addr, load, latency, dispatchErr)
	if dispatchErr != nil {
		return nil, dispatchErr
	}

	return []byte(fmt.Sprintf("übersetzt(%s @ %s)", key, addr)), nil
}
