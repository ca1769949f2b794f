// Package cli provides common CLI initialization utilities shared by
// cmd/budget, cmd/ledger-worker and cmd/recurring-worker.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"budgetledger/internal/aggregate"
	"budgetledger/internal/amqp"
	"budgetledger/internal/backend"
	"budgetledger/internal/cache"
	"budgetledger/internal/classifier"
	"budgetledger/internal/config"
	"budgetledger/internal/ledger"
	"budgetledger/internal/log"
	"budgetledger/internal/parser"
	"budgetledger/internal/rates"
	"budgetledger/internal/services"
)

// SetupLogger initializes structured logging at the given level and sets it
// as the default logger. An unknown level falls back to info.
func SetupLogger(level, component string) *log.Logger {
	lvl, err := log.ParseLevel(level)
	cfg := log.DefaultConfig()
	cfg.Level = lvl
	cfg.Component = component
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), string(log.FormatJSON)) {
		cfg.Format = log.FormatJSON
	}
	logger := log.New(cfg)
	log.SetDefault(logger)
	if err != nil && level != "" {
		logger.Warn("Falling back to info level", "error", err)
	}
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

const cacheCleanupInterval = 5 * time.Minute

// Stack is the ledger and everything that hangs off it in one process.
type Stack struct {
	Config     *config.Config
	Backend    *backend.BackendResult
	Ledger     *ledger.Ledger
	Rates      *rates.Table
	Classifier *classifier.Classifier
	Engine     *aggregate.Engine
	Caches     *cache.Manager
	Service    *services.LedgerService
	// Relay forwards ledger events to the broker; nil without one.
	Relay *services.EventRelay
}

// StackOptions tune BuildStack per binary.
type StackOptions struct {
	// RequireBroker fails startup when AMQP is not reachable.
	RequireBroker bool
	// Publish relays ledger changes to the broker.
	Publish bool
}

// BuildStack opens storage, restores rates and wires the ledger service.
func BuildStack(ctx context.Context, cfg *config.Config, logger *log.Logger, opts StackOptions) (*Stack, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	bcfg.RequireBroker = opts.RequireBroker
	be, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, err
	}

	vocab := classifier.DefaultVocabulary()
	if cfg.VocabularyFile != "" {
		extra, err := classifier.LoadFile(cfg.VocabularyFile)
		if err != nil {
			_ = be.Cleanup()
			return nil, err
		}
		vocab = vocab.Merge(extra)
	}

	l := ledger.New(be.Repository, nil, logger.Base())
	table := rates.NewTable(cfg.Pivots()...)
	engine := aggregate.New(be.Repository, table, l.Locks(), logger.Base())
	l.Subscribe(engine)
	cls := classifier.New(vocab, cfg.ClassifierThreshold)
	caches := cache.NewManager()
	caches.Register(cls.Memo())
	caches.StartCleanup(cacheCleanupInterval)

	s := &Stack{
		Config:     cfg,
		Backend:    be,
		Ledger:     l,
		Rates:      table,
		Classifier: cls,
		Engine:     engine,
		Caches:     caches,
	}
	var publisher services.Publisher
	if opts.Publish && be.Broker != nil {
		s.Relay = services.NewEventRelay(be.Broker, 0)
		l.Subscribe(s.Relay)
		publisher = s.Relay
	}
	s.Service = services.NewLedgerService(l, parser.New(cls, table), cls, table, engine, publisher)

	if err := s.loadRates(ctx, logger); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) loadRates(ctx context.Context, logger *log.Logger) error {
	restored, err := s.Service.RestoreRates(ctx)
	if err != nil {
		return fmt.Errorf("restore rates: %w", err)
	}
	seeded := 0
	if s.Config.RatesFile != "" {
		seed, err := rates.LoadFile(s.Config.RatesFile)
		if err != nil {
			return err
		}
		if seeded, err = s.Service.SeedRates(ctx, seed); err != nil {
			return fmt.Errorf("seed rates: %w", err)
		}
	}
	logger.Info("Exchange rates loaded", "restored", restored, "seeded", seeded, "pivots", s.Config.PivotCurrencies)
	return nil
}

// Broker returns the AMQP client, or nil when none is connected.
func (s *Stack) Broker() *amqp.Client {
	return s.Backend.Broker
}

// Close closes storage and the broker connection.
func (s *Stack) Close() error {
	s.Caches.Stop()
	err := s.Service.Close()
	if s.Backend.Broker != nil {
		err = errors.Join(err, s.Backend.Broker.Close())
	}
	return err
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func(ctx context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		cancel()
		if cleanup != nil {
			cleanup(shutdownCtx)
		}

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached")
		} else {
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
