package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/sitewatch/internal/config"
	"github.com/hamed0406/sitewatch/internal/httpapi"
	apimw "github.com/hamed0406/sitewatch/internal/httpapi/middleware"
	"github.com/hamed0406/sitewatch/internal/logging"
	"github.com/hamed0406/sitewatch/internal/monitor"
	"github.com/hamed0406/sitewatch/internal/notify"
	"github.com/hamed0406/sitewatch/internal/probe"
	"github.com/hamed0406/sitewatch/internal/repo"
	"github.com/hamed0406/sitewatch/internal/repo/memory"
	"github.com/hamed0406/sitewatch/internal/repo/postgres"
	"github.com/hamed0406/sitewatch/internal/repo/sqlite"
)

func main() {
	// .env is optional; real env vars win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("sitewatch_exit", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repo.Store, error) {
	switch {
	case cfg.DatabaseURL != "":
		logger.Info("store_selected", zap.String("backend", "postgres"))
		return postgres.New(ctx, cfg.DatabaseURL, logger)
	case cfg.UsesMemoryStore():
		logger.Warn("store_selected", zap.String("backend", "memory"))
		return memory.New(), nil
	default:
		logger.Info("store_selected", zap.String("backend", "sqlite"), zap.String("path", cfg.SQLitePath))
		return sqlite.New(ctx, cfg.SQLitePath, logger)
	}
}

func run(cfg config.Config, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := openStore(initCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	eng := monitor.New(logger, store, probe.NewHTTPChecker(cfg.RequestTimeout), notify.New(cfg.Notify()), monitor.Config{
		DefaultInterval:   cfg.CheckInterval,
		DefaultTimeout:    cfg.RequestTimeout,
		DefaultMaxRetries: cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		Cooldown:          cfg.ErrorCooldown,
		MaxConcurrent:     int64(cfg.MaxConcurrent),
		WriteTimeout:      cfg.WriteTimeout,
		ReportWindow:      cfg.ReportWindow,
		DiagnoseDNS:       cfg.DiagnoseDNS,
	})
	if _, err := eng.StartAll(ctx); err != nil {
		return err
	}
	defer eng.StopAll()

	reporter := eng.Reporter(cfg.ReportWeekday(), cfg.ReportHour)
	reportDone := make(chan struct{})
	go func() {
		defer close(reportDone)
		if err := reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("weekly_report_stopped", zap.Error(err))
		}
	}()

	api := httpapi.NewServer(logger, eng, store, eng.Stats())
	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: api.Router(
			apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys},
			cfg.AllowedOrigins,
			httpapi.Limits{
				PublicRPM: cfg.PublicRPM, PublicBurst: cfg.PublicBurst,
				AdminRPM: cfg.AdminRPM, AdminBurst: cfg.AdminBurst,
			},
		),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("api_listen", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_signal")
	case err = <-serveErr:
		stop()
	}

	shutCtx, cancelShut := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShut()
	err = multierr.Append(err, srv.Shutdown(shutCtx))
	<-reportDone
	return err
}
