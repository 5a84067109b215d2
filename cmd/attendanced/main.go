// SPDX-License-Identifier: MIT

// Command attendanced polls the SEQTA attendance feed on a schedule, keeps
// the local attendance store current and serves the absence report API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sirius-college/attendance-monitoring/internal/api"
	"github.com/sirius-college/attendance-monitoring/internal/cache"
	"github.com/sirius-college/attendance-monitoring/internal/config"
	"github.com/sirius-college/attendance-monitoring/internal/drive"
	"github.com/sirius-college/attendance-monitoring/internal/jobs"
	attlog "github.com/sirius-college/attendance-monitoring/internal/log"
	"github.com/sirius-college/attendance-monitoring/internal/seqta"
	"github.com/sirius-college/attendance-monitoring/internal/store"
	"github.com/sirius-college/attendance-monitoring/internal/telemetry"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "fetch" {
		os.Exit(runFetchCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("attendanced %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the real config is loaded.
	attlog.Configure(attlog.Config{
		Level:   "info",
		Service: "attendanced",
		Version: version,
	})
	logger := attlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(strings.TrimSpace(*configPath), version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	attlog.Configure(attlog.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Msg("starting attendanced")

	logger.Info().Msgf("→ Feed: %s (user: %s)", config.MaskURL(cfg.SEQTABase), cfg.SEQTAUsername)
	logger.Info().Msgf("→ Store: %s", cfg.DBPath)
	logger.Info().Msgf("→ Refresh: every %s, window %d weeks", cfg.RefreshInterval, cfg.WindowWeeks)
	if cfg.SyncOnRefresh {
		logger.Info().Msgf("→ Drive sync: %d reference tables", len(cfg.DriveTables))
	} else {
		logger.Info().Msg("→ Drive sync: disabled")
	}
	if cfg.APIToken != "" {
		logger.Info().Msg("→ API token: configured")
	} else {
		logger.Warn().
			Str("security", "weak").
			Msg("→ API token: NOT configured. Set ATTMON_API_TOKEN for security.")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("event", "startup.datadir_failed").Msg("cannot create data dir")
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: version,
		ExporterType:   cfg.OTELExporter,
		Endpoint:       cfg.OTELEndpoint,
		SamplingRate:   cfg.OTELSampleRate,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("tracing init failed")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	st, err := store.Open(cfg.DBPath, store.DefaultConfig(), attlog.WithComponent("store"))
	if err != nil {
		logger.Fatal().Err(err).Str("event", "startup.store_failed").Msg("cannot open attendance store")
	}
	defer st.Close()

	fetchCache := buildCache(cfg)

	feedClient := seqta.New(cfg.SEQTABase, seqta.Options{
		Username: cfg.SEQTAUsername,
		Password: cfg.SEQTAPassword,
	})

	var syncer jobs.ReferenceSyncer
	if cfg.SyncOnRefresh {
		driveClient, err := drive.New(ctx, drive.Options{
			CredentialsFile: cfg.ServiceAccountFile,
			FolderID:        cfg.DriveFolderID,
		}, attlog.WithComponent("drive"))
		if err != nil {
			logger.Fatal().Err(err).Str("event", "startup.drive_failed").Msg("drive client init failed")
		}
		syncer = drive.NewSyncer(driveClient, st, cfg.DataDir, cfg.DriveTables, attlog.WithComponent("drive"))
	}

	refresher := jobs.NewRefresher(jobs.Options{
		WindowWeeks:     cfg.WindowWeeks,
		CacheTTL:        cfg.CacheTTL,
		SnapshotEnabled: cfg.SnapshotEnabled,
		DataDir:         cfg.DataDir,
		SyncReference:   cfg.SyncOnRefresh,
	}, feedClient, st, fetchCache, syncer, attlog.WithComponent("refresh"))

	if cfg.InitialRefresh {
		logger.Info().Msg("performing initial refresh on startup")
		if err := refresher.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("initial refresh failed")
			logger.Warn().Msg("→ Store stays stale until the next cycle or POST /api/refresh")
		}
	} else {
		logger.Warn().Msg("initial refresh disabled, store serves existing data only")
	}

	server := api.New(api.Options{
		ListenAddr:     cfg.ListenAddr,
		APIToken:       cfg.APIToken,
		TrustedProxies: cfg.TrustedProxies,
		ReadyStrict:    cfg.ReadyStrict,
		Version:        version,
	}, api.Deps{
		Store:     st,
		Refresher: refresher,
		FeedPing:  feedClient.Ping,
	}, attlog.WithComponent("api"))

	// Hot reload: interval and window changes take effect without a restart.
	holder := config.NewHolder(cfg, loader, strings.TrimSpace(*configPath))
	if *configPath != "" {
		if err := holder.StartWatcher(ctx); err != nil {
			logger.Warn().Err(err).Msg("config watcher unavailable, reload disabled")
		}
		defer holder.Stop()
	}
	reloads := make(chan config.AppConfig, 1)
	holder.RegisterListener(reloads)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	if cfg.MetricsEnabled {
		g.Go(func() error {
			return runMetricsServer(gctx, cfg.MetricsAddr)
		})
	}

	g.Go(func() error {
		interval := cfg.RefreshInterval
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case newCfg := <-reloads:
				attlog.Configure(attlog.Config{
					Level:   newCfg.LogLevel,
					Service: newCfg.LogService,
					Version: newCfg.Version,
				})
				if newCfg.RefreshInterval != interval && newCfg.RefreshInterval > 0 {
					interval = newCfg.RefreshInterval
					ticker.Reset(interval)
					logger.Info().
						Str("event", "refresh.interval_changed").
						Dur("interval", interval).
						Msg("refresh interval updated from config reload")
				}
			case <-ticker.C:
				if err := refresher.Run(gctx); err != nil && !errors.Is(err, jobs.ErrRefreshInProgress) {
					logger.Error().Err(err).Msg("scheduled refresh failed")
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
	logger.Info().Str("event", "shutdown").Msg("attendanced stopped")
}

// buildCache selects the fetch cache backend. Redis failures fall back to
// memory so a cache outage never blocks startup.
func buildCache(cfg config.AppConfig) cache.Cache {
	logger := attlog.WithComponent("cache")
	if cfg.RedisAddr == "" {
		return cache.NewMemoryCache(5 * time.Minute)
	}
	rc, err := cache.NewRedisCache(cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("addr", cfg.RedisAddr).
			Msg("redis unavailable, using in-memory fetch cache")
		return cache.NewMemoryCache(5 * time.Minute)
	}
	return rc
}

func runMetricsServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
