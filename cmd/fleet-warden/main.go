package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardenstack/fleet-warden/internal/api"
	"github.com/wardenstack/fleet-warden/internal/cache"
	"github.com/wardenstack/fleet-warden/internal/config"
	"github.com/wardenstack/fleet-warden/internal/fleet"
	"github.com/wardenstack/fleet-warden/internal/healing"
	"github.com/wardenstack/fleet-warden/internal/metrics"
	"github.com/wardenstack/fleet-warden/internal/orchestrator"
	"github.com/wardenstack/fleet-warden/internal/store"
	"github.com/wardenstack/fleet-warden/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting fleet-warden", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	policies, err := healing.LoadPolicies(cfg.Policies.Path, logger)
	if err != nil {
		logger.Error("failed to load policy pack", slog.Any("error", err))
		os.Exit(1)
	}

	warehouse, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("failed to build store", slog.String("backend", cfg.Store.Backend), slog.Any("error", err))
		os.Exit(1)
	}
	defer warehouse.Close()

	pool := fleet.NewPool(fleet.SpecsForCounts(map[fleet.Kind]int{
		fleet.KindResearch:    cfg.Fleet.Research,
		fleet.KindData:        cfg.Fleet.Data,
		fleet.KindAnalytics:   cfg.Fleet.Analytics,
		fleet.KindCoordinator: cfg.Fleet.Coordinator,
	}), cfg.Fleet.Seed)

	agents := make([]orchestrator.Agent, 0, pool.Size())
	for _, agent := range pool.Agents() {
		agents = append(agents, agent)
	}

	warden := orchestrator.New(orchestrator.Config{
		TickInterval:     cfg.Warden.TickInterval,
		WarmupDelay:      cfg.Warden.WarmupDelay,
		WarmupSamples:    cfg.Warden.WarmupSamples,
		DetectionWindow:  cfg.Warden.DetectionWindow,
		ThresholdStdDev:  cfg.Warden.ThresholdStdDev,
		ApprovalSeverity: cfg.Warden.ApprovalSeverity,
		HealingStepDelay: cfg.Warden.HealingStepDelay,
		TelemetryCap:     cfg.Warden.TelemetryCap,
		ActionLogMax:     cfg.Warden.ActionLogMax,
		DrainTimeout:     cfg.Warden.DrainTimeout,
		DrainOnShutdown:  cfg.Warden.DrainOnShutdown,
	}, logger, agents, policies, warehouse, nil)

	injector := fleet.NewInjector(
		pool,
		fleet.DefaultWaves(pool, cfg.Fleet.ChaosStart, cfg.Fleet.ChaosSpacing),
		cfg.Fleet.ChaosInterval,
		cfg.Fleet.ChaosChance,
		cfg.Fleet.Seed,
		logger,
	)

	controlServer := api.NewServer(cfg.Server.Address, warden, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := controlServer.Start(); serveErr != nil {
			logger.Error("control server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go injector.Run(ctx)

	if err := warden.Run(ctx); err != nil {
		logger.Error("orchestrator exited", slog.Any("error", err))
	}

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := controlServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("fleet-warden stopped")
}

// buildStore selects the persistence backend from config.
func buildStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return store.NewMemory(), nil
	case "influx":
		return store.NewInflux(store.InfluxConfig{
			URL:     cfg.Store.Influx.URL,
			Token:   cfg.Store.Influx.Token,
			Org:     cfg.Store.Influx.Org,
			Bucket:  cfg.Store.Influx.Bucket,
			Timeout: cfg.Store.Influx.Timeout,
		})
	case "remote":
		var cacheProvider cache.Provider = cache.NoopProvider{}
		if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
			provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
				Addr:         cfg.Cache.Addr,
				Username:     cfg.Cache.Username,
				Password:     cfg.Cache.Password,
				DB:           cfg.Cache.DB,
				DialTimeout:  cfg.Cache.DialTimeout,
				ReadTimeout:  cfg.Cache.ReadTimeout,
				WriteTimeout: cfg.Cache.WriteTimeout,
				TLS:          cfg.Cache.TLS,
			})
			if err != nil {
				logger.Warn("valkey cache unavailable", slog.Any("error", err))
			} else {
				cacheProvider = provider
			}
		}
		return store.NewRemote(store.RemoteConfig{
			BaseURL:     cfg.Store.Remote.BaseURL,
			Timeout:     cfg.Store.Remote.Timeout,
			BaselineTTL: cfg.Store.Remote.BaselineTTL,
			PatternsTTL: cfg.Store.Remote.PatternsTTL,
		}, cacheProvider), nil
	default:
		return nil, errors.New("unknown store backend: " + cfg.Store.Backend)
	}
}
