package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetledger/internal/analytics"
	"budgetledger/internal/cli"
	apphttp "budgetledger/internal/http"
)

func main() {
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	cli.LoadEnvFile()

	boot := cli.SetupLogger(os.Getenv("LOG_LEVEL"), "budget")
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg.LogLevel, "budget")

	stack, err := cli.BuildStack(context.Background(), cfg, logger, cli.StackOptions{Publish: true})
	if err != nil {
		logger.Error("Failed to initialize ledger", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Error("Failed to close ledger", "error", err)
		}
	}()

	stats := analytics.New(stack.Engine, stack.Ledger)
	srv := apphttp.NewServer(":"+cfg.Port, stack.Service, stats, apphttp.Options{
		Logger:          logger,
		RateLimitRPM:    cfg.RateLimitRPM,
		IdempotencyTTL:  cfg.IdempotencyTTL,
		Ready:           stack.Backend.Ready,
		DefaultCurrency: cfg.Reporting(),
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting budget server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"reporting_currency", cfg.ReportingCurrency,
			"broker", stack.Broker() != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if stack.Relay != nil {
		g.Go(func() error { return stack.Relay.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		exitCode = 1
		return
	}
	<-done
	logger.Info("Server stopped gracefully")
}
