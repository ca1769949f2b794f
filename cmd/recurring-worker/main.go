package main

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetledger/internal/cli"
	"budgetledger/internal/services"
)

func main() {
	cli.LoadEnvFile()

	boot := cli.SetupLogger(os.Getenv("LOG_LEVEL"), "recurring-worker")
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg.LogLevel, "recurring-worker")
	logger.Info("Starting recurring-worker")

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
	if stack.Relay == nil {
		logger.Info("AMQP disabled - generated transactions will not reach the ledger-worker")
	}

	processor := services.NewRecurringProcessor(stack.Service)
	interval := cfg.RecurringInterval
	logger.Info("Recurring transaction processor configured", "interval", interval, "backend", cfg.DataBackend)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	process := func(ctx context.Context, now time.Time) {
		count, err := processor.ProcessDue(ctx, now)
		if err != nil {
			logger.Error("Recurring processing failed", "error", err)
			return
		}
		logger.Info("Recurring processing complete",
			"transactions_created", count,
			"next_check", now.Add(interval).Format("15:04:05"))
	}

	g, gctx := errgroup.WithContext(ctx)
	if stack.Relay != nil {
		g.Go(func() error { return stack.Relay.Run(gctx) })
	}
	g.Go(func() error {
		process(gctx, time.Now())
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-ticker.C:
				process(gctx, now)
			}
		}
	})

	_ = g.Wait()
	cli.WaitForShutdown(ctx, done)
	logger.Info("Recurring-worker shutdown complete")
}
