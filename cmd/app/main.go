// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"billing-saga/internal/application"
	"billing-saga/internal/config"
	"billing-saga/internal/infra/api"
	"billing-saga/internal/infra/api/apiv1"
	pg "billing-saga/internal/infra/db/postgres"
	"billing-saga/internal/infra/logging"
	"billing-saga/internal/infra/metrics"
	"billing-saga/internal/infra/sched"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (memory provider without a key, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] enabled")
	}

	// ---- Provider, ledger, redis, use cases ----
	billing, err := application.Build(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup")
	}
	defer billing.Close()

	var auth *api.AuthManager
	if cfg.API.JWTSecret != "" {
		auth = api.NewAuthManager(cfg.API.JWTSecret, 12*time.Hour)
	}
	router := api.NewRouter(cfg, api.Deps{
		API:   apiv1.NewServer(billing.Subscribe, billing.Prices, billing.Subscriptions, billing.Portal, logger),
		Redis: billing.Redis,
		Auth:  auth,
		Log:   logger,
	})
	server := api.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)

	// ---- HTTP ----
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Str("provider", billing.Provider.Name()).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		shCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shCtx)
	})

	// ---- Compensation sweeper ----
	sweeper := sched.NewCompensationSweeper(billing.Subscribe, billing.Runs, cfg.Scheduler.CompensationCron, cfg.Saga.StaleAfter, logger)
	g.Go(func() error { return sweeper.Start(gctx) })

	// ---- DB pool gauges ----
	if billing.Pool != nil {
		g.Go(func() error {
			pg.ReportPoolStats(gctx, billing.Pool, 15*time.Second, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("exited with error")
	}
}
