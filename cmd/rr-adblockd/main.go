package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/config"
	"github.com/haukened/rr-adblock/internal/adblock/gateways/fetch"
	"github.com/haukened/rr-adblock/internal/adblock/gateways/httpapi"
	"github.com/haukened/rr-adblock/internal/adblock/metrics"
	"github.com/haukened/rr-adblock/internal/adblock/repos/filterlist"
	"github.com/haukened/rr-adblock/internal/adblock/repos/resultcache"
	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset"
	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset/bloom"
	"github.com/haukened/rr-adblock/internal/adblock/repos/snapshot"
	"github.com/haukened/rr-adblock/internal/adblock/services/cosmetic"
	"github.com/haukened/rr-adblock/internal/adblock/services/engine"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-adblockd"

	bloomFPRate = 0.01
)

// Application holds all the components of the filtering daemon
type Application struct {
	config    *config.AppConfig
	engine    *engine.Engine
	api       *httpapi.Server
	snapshots *snapshot.Store
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"app":       appName,
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.LogLevel,
		"cache_dir": cfg.CacheDir,
		"lists":     len(cfg.Lists),
		"listen":    cfg.Listen,
	}, "adblock_starting")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "adblock_build_failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "adblock_shutdown_signal")
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "adblock_failed")
	}

	log.Info(nil, "adblock_stopped")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()
	m := metrics.New()

	lists, err := cfg.Descriptors()
	if err != nil {
		return nil, fmt.Errorf("failed to parse filter lists: %w", err)
	}

	rsOpts := ruleset.Options{Bloom: bloom.NewFactory(), FPRate: bloomFPRate}

	listCache, err := filterlist.New(filterlist.Options{
		Dir: filepath.Join(cfg.CacheDir, "lists"),
		TTL: cfg.ListTTL,
		Fetcher: fetch.New(fetch.Options{
			Timeout: cfg.FetchTimeout,
			MaxSize: cfg.ListSizeLimit(),
		}),
		Concurrency: cfg.FetchConcurrency,
		Clock:       clk,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create list cache: %w", err)
	}

	snapshots, err := snapshot.Open(snapshot.Options{
		Dir:     cfg.CacheDir,
		TTL:     cfg.SnapshotTTL,
		Clock:   clk,
		Logger:  logger,
		RuleSet: rsOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}

	library := cosmetic.NewLibrary()
	n, err := library.LoadDir(cfg.ScriptletDir)
	if err != nil {
		_ = snapshots.Close()
		return nil, fmt.Errorf("failed to load scriptlets: %w", err)
	}
	if n > 0 {
		log.Info(map[string]any{"dir": cfg.ScriptletDir, "count": n}, "scriptlets_loaded")
	}

	eng, err := engine.New(engine.Options{
		Lists:     lists,
		Source:    listCache,
		Snapshots: snapshots,
		Cache: resultcache.New(resultcache.Options{
			TTL:       cfg.ResultCacheTTL,
			HighWater: cfg.ResultCacheHighWater,
			Floor:     cfg.ResultCacheFloor,
			Clock:     clk,
			Observer:  m,
		}),
		Library:         library,
		RuleSet:         rsOpts,
		AllowList:       cfg.AllowList,
		InternalSchemes: cfg.InternalSchemes,
		RefreshInterval: cfg.RefreshInterval,
		Recorder:        m,
		Logger:          logger,
		Clock:           clk,
	})
	if err != nil {
		_ = snapshots.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	api := httpapi.New(httpapi.Options{
		Engine:  eng,
		Metrics: m.Handler(),
		Logger:  logger,
	})

	return &Application{
		config:    cfg,
		engine:    eng,
		api:       api,
		snapshots: snapshots,
	}, nil
}

// Run starts the engine and the control API and blocks until ctx is
// cancelled. The engine starts answering once its first rule set is
// installed; the API is up before that and reports readiness.
func (app *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.engine.Start(ctx)

	err := app.api.ListenAndServe(ctx, app.config.Listen)

	log.Info(nil, "adblock_shutdown_initiated")
	cancel()
	app.engine.Wait()
	if cerr := app.snapshots.Close(); cerr != nil {
		log.Warn(map[string]any{"error": cerr}, "snapshot_close_failed")
	}
	return err
}
