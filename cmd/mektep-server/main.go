// Package main runs the report service: HTTP API, job supervisor and the
// startup recovery sweep.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aselbek/mektep-reports/internal/api"
	"github.com/aselbek/mektep-reports/internal/clock/system"
	"github.com/aselbek/mektep-reports/internal/collector"
	"github.com/aselbek/mektep-reports/internal/config"
	"github.com/aselbek/mektep-reports/internal/id/uuid"
	"github.com/aselbek/mektep-reports/internal/logging"
	"github.com/aselbek/mektep-reports/internal/recovery"
	"github.com/aselbek/mektep-reports/internal/scrape"
	"github.com/aselbek/mektep-reports/internal/storage/memory"
	"github.com/aselbek/mektep-reports/internal/storage/postgres"
	"github.com/aselbek/mektep-reports/internal/storage/sqlite"
	"github.com/aselbek/mektep-reports/internal/supervisor"
)

// stores groups the three persistence interfaces every driver provides.
type stores struct {
	jobs    scrape.JobStore
	reports scrape.ReportStore
	schools scrape.SchoolDirectory
	close   func()
}

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	st, err := openStores(ctx, cfg, clock, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer st.close()

	coll := collector.New(st.reports, st.schools, clock, logger.Named("collector"))

	// Reconcile jobs orphaned by a previous crash before accepting new work.
	sweeper := recovery.NewSweeper(st.jobs, coll, logger.Named("recovery"))
	if err := sweeper.Sweep(ctx); err != nil {
		logger.Error("recovery sweep failed", zap.Error(err))
	}

	sup := supervisor.New(
		supervisor.Config{
			MaxConcurrent: cfg.Jobs.MaxConcurrent,
			Timeout:       cfg.JobTimeout(),
			Tick:          cfg.MonitorTick(),
			Grace:         cfg.TerminateGrace(),
			UploadRoot:    cfg.Jobs.UploadRoot,
			ScraperBinary: cfg.Scraper.Binary,
			ScraperArgs:   scraperArgs(cfg),
		},
		st.jobs, st.schools, coll,
		supervisor.NewExecLauncher(), clock, logger.Named("supervisor"),
	)

	apiServer := api.NewServer(st.jobs, st.reports, sup, uuid.New(), cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func scraperArgs(cfg config.Config) []string {
	return []string{
		"-entry-url", cfg.Scraper.EntryURL,
		fmt.Sprintf("-headless=%t", cfg.Scraper.Headless),
		"-nav-timeout", fmt.Sprintf("%ds", cfg.Scraper.NavTimeoutSec),
		"-choice-wait", fmt.Sprintf("%ds", cfg.Scraper.ChoiceWaitSeconds),
		"-grade-five-min", strconv.Itoa(cfg.Grading.FiveMin),
		"-grade-four-min", strconv.Itoa(cfg.Grading.FourMin),
		"-grade-three-min", strconv.Itoa(cfg.Grading.ThreeMin),
	}
}

func openStores(ctx context.Context, cfg config.Config, clock scrape.Clock, logger *zap.Logger) (stores, error) {
	switch cfg.Storage.Driver {
	case "memory":
		s := memory.NewStore(clock)
		return stores{jobs: s, reports: s, schools: s, close: func() {}}, nil
	case "sqlite":
		s, err := sqlite.Open(cfg.Storage.SQLitePath, clock, logger.Named("sqlite"))
		if err != nil {
			return stores{}, err
		}
		return stores{jobs: s, reports: s, schools: s, close: func() { _ = s.Close() }}, nil
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{DSN: cfg.Storage.PostgresDSN}, clock)
		if err != nil {
			return stores{}, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return stores{}, err
		}
		return stores{jobs: s, reports: s, schools: s, close: s.Close}, nil
	default:
		return stores{}, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
