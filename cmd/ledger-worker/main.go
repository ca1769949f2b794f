package main

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetledger/internal/analytics"
	"budgetledger/internal/cli"
	"budgetledger/internal/config"
	"budgetledger/internal/log"
	"budgetledger/internal/sheets"
	gsheet "budgetledger/internal/sheets/google"
	mem "budgetledger/internal/sheets/memory"
	"budgetledger/internal/worker"
)

func main() {
	exitCode := 0
	defer func() { os.Exit(exitCode) }()

	cli.LoadEnvFile()

	boot := cli.SetupLogger(os.Getenv("LOG_LEVEL"), "ledger-worker")
	cfg := cli.LoadAndValidateConfig(boot)
	logger := cli.SetupLogger(cfg.LogLevel, "ledger-worker")
	logger.Info("Starting ledger-worker")

	stack, err := cli.BuildStack(context.Background(), cfg, logger, cli.StackOptions{RequireBroker: true})
	if err != nil {
		logger.Error("Failed to initialize ledger", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := stack.Close(); err != nil {
			logger.Error("Failed to close ledger", "error", err)
		}
	}()

	writer, err := reportWriter(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize report writer", "error", err)
		exitCode = 1
		return
	}

	stats := analytics.New(stack.Engine, stack.Ledger)
	reportCfg := worker.DefaultReportProcessorConfig()
	reportCfg.BatchSize = cfg.WorkerBatchSize
	reports := worker.NewReportProcessor(stack.Service, stats, stack.Engine, writer, reportCfg)
	aggWorker := worker.NewAggregateWorker(stack.Engine, stack.Service, stack.Service, reports)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := reports.Stop(ctx); err != nil {
			logger.Warn("Report processor stop error", "error", err)
		}
	})

	logger.Info("Performing startup aggregate check...")
	if err := aggWorker.StartupCheck(ctx); err != nil {
		logger.Error("Startup aggregate check failed", "error", err)
	}
	if err := reports.Start(ctx); err != nil {
		logger.Error("Failed to start report processor", "error", err)
		exitCode = 1
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stack.Broker().Consume(gctx, aggWorker.HandleMessage)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := aggWorker.RefreshStale(gctx); err != nil {
					logger.Error("Periodic aggregate refresh failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Message consumption failed", "error", err)
		exitCode = 1
		return
	}
	<-done
	logger.Info("Ledger-worker stopped", "pending_reports", reports.Pending())
}

func reportWriter(cfg *config.Config, logger *log.Logger) (sheets.ReportWriter, error) {
	if cfg.GoogleSpreadsheetID == "" {
		logger.Info("Google Sheets disabled, keeping reports in memory")
		return mem.New(), nil
	}
	client, err := gsheet.New(context.Background(), gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		ReportSheet:     cfg.GoogleReportSheet,
		CredentialsJSON: cfg.GoogleCredentialsJSON,
		CredentialsFile: cfg.GoogleCredentialsFile,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("Google Sheets report export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	return client, nil
}
