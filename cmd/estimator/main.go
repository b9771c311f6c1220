package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carecost/carecost/internal/apiserver"
	"github.com/carecost/carecost/internal/config"
	"github.com/carecost/carecost/internal/engine"
	"github.com/carecost/carecost/internal/estimator"
	"github.com/carecost/carecost/internal/matcher"
	"github.com/carecost/carecost/internal/refdata"
	"github.com/carecost/carecost/internal/source"
	"github.com/carecost/carecost/internal/state"
	"github.com/carecost/carecost/internal/store"
)

func main() {
	var configFile string
	var logJSON bool

	flag.StringVar(&configFile, "config", "/etc/carecost/config.yaml", "Path to config file")
	flag.BoolVar(&logJSON, "log-json", true, "Emit JSON-formatted logs")
	flag.Parse()

	var handler slog.Handler
	if logJSON {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	cfg, err := config.LoadFromFile(configFile)
	if err != nil {
		logger.Warn("config file load failed, falling back to defaults/env",
			"path", configFile, "error", err)
		cfg = config.DefaultConfig()
	}

	if err := cfg.ValidateDetailed(); err != nil {
		logger.Error("invalid configuration", "configFile", configFile, "error", err)
		os.Exit(1)
	}

	logger.Info("starting carecost estimator",
		"address", cfg.Listen.Address,
		"port", cfg.Listen.Port,
		"providerWorkers", cfg.Estimator.ProviderWorkers,
	)

	// Open SQLite database (nil-safe: rates fall back to the memory cache
	// and auditing is disabled when it fails).
	var appDB *store.DB
	if cfg.Database.Path != "" {
		var dbErr error
		appDB, dbErr = store.Open(store.Config{
			Path:          cfg.Database.Path,
			RetentionDays: cfg.Database.RetentionDays,
		})
		if dbErr != nil {
			logger.Warn("database open failed, continuing without persistence", "error", dbErr)
		} else {
			logger.Info("database opened", "path", cfg.Database.Path)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Async writer absorbs audit inserts off the request path.
	var dbWriter *store.Writer
	var audit *store.AuditRecorder
	if appDB != nil {
		dbWriter = store.NewWriter(appDB.RawDB(), cfg.Database.AuditQueue)
		dbWriter.Run(ctx)
		audit = store.NewAuditRecorder(dbWriter)
	}

	var sqlRef *sql.DB
	if appDB != nil {
		sqlRef = appDB.RawDB()
	}
	rates := store.NewRateStore(sqlRef)

	refSvc := refdata.New(appDB, logger)
	if err := refSvc.Refresh(); err != nil {
		logger.Warn("initial reference data load failed", "error", err)
	}

	// Cron drives reference data refresh and database retention cleanup.
	scheduler := cron.New()
	scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Caches.PCPRefresh), func() {
		if err := refSvc.Refresh(); err != nil {
			logger.Warn("reference data refresh failed", "error", err)
		}
	})
	if appDB != nil {
		scheduler.AddFunc("@every 1h", func() {
			if err := appDB.Cleanup(); err != nil {
				logger.Warn("database cleanup failed", "error", err)
			}
			if dbWriter != nil {
				if n := dbWriter.DroppedCount(); n > 0 {
					logger.Warn("audit writer drops detected", "totalDropped", n)
				}
			}
		})
	}
	scheduler.Start()

	tokens := source.NewTokenManager(
		cfg.Sources.TokenURL,
		cfg.Sources.ClientID,
		cfg.Sources.ClientSecret,
		nil,
		cfg.Caches.TokenTTL,
	)
	breaker := state.NewCircuitBreaker(cfg.Breaker.ErrorThreshold, cfg.Breaker.Window)
	client := source.NewClient(tokens, breaker, source.ClientOptions{
		Timeout:    cfg.Sources.Timeout,
		MaxRetries: cfg.Sources.MaxRetries,
		BaseDelay:  cfg.Sources.RetryBaseDelay,
		MaxDelay:   cfg.Sources.RetryMaxDelay,
	})

	orch := estimator.New(estimator.Options{
		Benefits: source.NewBenefitSource(client, cfg.Sources.BenefitBaseURL),
		Accums:   source.NewAccumulatorSource(client, cfg.Sources.AccumulatorBaseURL),
		Rates:    rates,
		Matcher:  matcher.New(logger),
		Engine:   engine.New(cfg.Estimator.ProviderWorkers, logger),
		Refdata:  refSvc,
		Audit:    audit,
		Workers:  cfg.Estimator.ProviderWorkers,
		Logger:   logger,
	})

	srv := apiserver.NewServer(cfg, orch, appDB)
	go func() {
		logger.Info("api server listening", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api server shutdown incomplete", "error", err)
	}

	scheduler.Stop()

	// Drain pending audit writes before closing the database.
	if dbWriter != nil {
		dbWriter.Drain()
	}
	if appDB != nil {
		appDB.Close()
	}
	logger.Info("shutdown complete")
}
