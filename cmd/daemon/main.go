// SPDX-License-Identifier: MIT

// The rentmesh daemon: one process serving the broker API over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rentmesh/rentmesh/internal/adapter"
	"github.com/rentmesh/rentmesh/internal/agreement"
	"github.com/rentmesh/rentmesh/internal/api"
	"github.com/rentmesh/rentmesh/internal/availability"
	"github.com/rentmesh/rentmesh/internal/booking"
	"github.com/rentmesh/rentmesh/internal/cache"
	"github.com/rentmesh/rentmesh/internal/config"
	"github.com/rentmesh/rentmesh/internal/coverage"
	"github.com/rentmesh/rentmesh/internal/domain"
	"github.com/rentmesh/rentmesh/internal/fanout"
	"github.com/rentmesh/rentmesh/internal/health"
	"github.com/rentmesh/rentmesh/internal/log"
	"github.com/rentmesh/rentmesh/internal/ota"
	"github.com/rentmesh/rentmesh/internal/persistence/sqlite"
	"github.com/rentmesh/rentmesh/internal/registry"
	"github.com/rentmesh/rentmesh/internal/sourcehealth"
	"github.com/rentmesh/rentmesh/internal/telemetry"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Printf("rentmesh %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	if err := run(); err != nil {
		log.WithComponent("daemon").Error().Err(err).Msg("daemon exited")
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "rentmesh", Version: version})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTLPEndpoint != "",
		ServiceName:    "rentmesh",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// Relational store. An existing file is integrity-checked before the
	// pool opens so corruption surfaces at startup, not mid-request.
	if _, statErr := os.Stat(cfg.DBPath); statErr == nil {
		problems, err := sqlite.VerifyIntegrity(cfg.DBPath, "quick")
		if err != nil {
			return fmt.Errorf("integrity check: %w", err)
		}
		if len(problems) > 0 {
			return fmt.Errorf("database %s failed integrity check: %s", cfg.DBPath, problems[0])
		}
	}
	db, err := sqlite.Open(cfg.DBPath, sqlite.DefaultConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := sqlite.Migrate(ctx, db); err != nil {
		return err
	}

	companies := sqlite.NewCompanyStore(db)
	agreements := sqlite.NewAgreementStore(db)
	locations := sqlite.NewLocationStore(db)
	bookings := sqlite.NewBookingStore(db)
	healthRows := sqlite.NewHealthStore(db)

	// Availability job store
	jobStore, err := availability.OpenStore(cfg.AvailStoreBackend, cfg.AvailStorePath, cfg.JobTTL, availability.Options{
		PollBatch:   cfg.PollBatch,
		PollStep:    cfg.PollStep,
		PollWaitMax: cfg.PollWaitMax,
	})
	if err != nil {
		return fmt.Errorf("availability store: %w", err)
	}
	defer func() { _ = jobStore.Close() }()

	// Cache
	cacheBackend := "memory"
	if cfg.RedisAddr != "" {
		cacheBackend = "redis"
	}
	appCache, err := cache.Open(cacheBackend, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if m, ok := appCache.(*cache.Memory); ok {
		defer m.Stop()
	}

	// Source endpoint configs, file first then company registration row.
	sources, err := config.NewSourceConfigStore(cfg.SourcesConfigPath)
	if err != nil {
		return fmt.Errorf("source configs: %w", err)
	}
	resolve := func(ctx context.Context, sourceID string) (*domain.SourceEndpoint, error) {
		if ep, ok := sources.Get(sourceID); ok {
			return &ep, nil
		}
		c, err := companies.Get(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		return c.Endpoint, nil
	}
	adapters := registry.New(resolve, adapter.New)
	defer func() { _ = adapters.Close() }()
	sources.OnChange(adapters.Invalidate)
	if err := sources.Watch(ctx.Done()); err != nil {
		return fmt.Errorf("source config watcher: %w", err)
	}

	// Cores
	monitor := sourcehealth.NewMonitor(healthRows, sourcehealth.Options{
		SlowThreshold: cfg.SlowThreshold,
		SlowRate:      cfg.SlowRateThreshold,
		MinSamples:    int64(cfg.MinSamplesForBackoff),
		MaxBackoff:    cfg.MaxBackoff,
	})
	var tracker fanout.HealthTracker = monitor
	if !cfg.HealthEnabled {
		tracker = noopHealth{}
	}

	resolver := coverage.NewResolver(locations, agreements)
	engine := fanout.NewEngine(agreements, resolver, tracker, adapters, jobStore, fanout.Options{
		CallTimeout:   cfg.FanoutTimeout,
		SLA:           cfg.FanoutSLA,
		SLAHardCancel: cfg.FanoutSLAHardCancel,
		Concurrency:   cfg.FanoutConcurrency,
	})
	bookingCore := booking.NewCore(bookings, agreements, adapters, cfg.FanoutTimeout)
	manager := agreement.NewManager(companies, agreements)

	// Probes
	probes := health.NewManager(version)
	probes.Register(health.NewPingChecker("sqlite", db.PingContext))
	if r, ok := appCache.(*cache.Redis); ok {
		probes.Register(health.NewPingChecker("redis", r.Ping))
	}

	srv := &api.Server{
		Fanout:            engine,
		Envelope:          ota.NewBuilder(companies),
		Bookings:          bookingCore,
		Agreements:        manager,
		Coverage:          resolver,
		Companies:         companies,
		Locations:         locations,
		Overrides:         agreements,
		Adapters:          registryLocations{adapters},
		Health:            monitor,
		Probes:            probes,
		Cache:             appCache,
		Integrity: func(ctx context.Context, mode string) ([]string, error) {
			return sqlite.VerifyIntegrity(cfg.DBPath, mode)
		},
		RecommendedPollMS: 1500,
		CoverageCacheTTL:  5 * time.Minute,
	}

	// Expired availability jobs are swept in the background.
	go purgeLoop(ctx, jobStore, cfg.JobTTL)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("version", version).Msg("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	return nil
}

// purgeLoop drops availability jobs past their TTL once a minute.
func purgeLoop(ctx context.Context, store availability.Store, ttl time.Duration) {
	logger := log.WithComponent("purge")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx, ttl)
			if err != nil {
				logger.Warn().Err(err).Msg("purge failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("jobs", n).Msg("expired jobs purged")
			}
		}
	}
}

// registryLocations narrows the adapter registry to the API's location-sync
// dependency.
type registryLocations struct {
	reg *registry.Registry
}

func (r registryLocations) Get(ctx context.Context, sourceID string) (api.LocationLister, error) {
	return r.reg.Get(ctx, sourceID)
}

// noopHealth keeps fan-out running with the monitor switched off.
type noopHealth struct{}

func (noopHealth) Excluded(ctx context.Context, sourceID string) (bool, error) { return false, nil }
func (noopHealth) Observe(ctx context.Context, sourceID string, latency time.Duration, timedOut bool) error {
	return nil
}
