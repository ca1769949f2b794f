package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"budgetledger/internal/amqp"
	"budgetledger/internal/ledger/memory"
	"budgetledger/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config)
	case MemoryBackend:
		result = f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	broker, err := f.connectBroker(config)
	if err != nil {
		_ = result.Cleanup()
		return nil, err
	}
	if broker != nil {
		result.Broker = broker
		closeRepo := result.Cleanup
		result.Cleanup = func() error {
			return errors.Join(broker.Close(), closeRepo())
		}
	}
	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	sqliteRepo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Repository: sqliteRepo,
		Ready:      sqliteRepo.Ping,
		Cleanup:    sqliteRepo.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() *BackendResult {
	store := memory.New()

	f.logger.Info("Initialized memory backend")

	return &BackendResult{
		Repository: store,
		Ready:      func(context.Context) error { return nil },
		Cleanup:    store.Close,
	}
}

// connectBroker dials AMQP when configured. Failure is fatal only when the
// broker is required; the API keeps serving without change notifications.
func (f *DefaultFactory) connectBroker(config Config) (*amqp.Client, error) {
	if config.AMQPURL == "" {
		return nil, nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		if config.RequireBroker {
			return nil, fmt.Errorf("connect to AMQP: %w", err)
		}
		f.logger.Warn("Failed to initialize AMQP client, continuing without change notifications", "error", err)
		return nil, nil
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client, nil
}
