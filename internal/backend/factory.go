package backend

import (
	"context"
	"errors"
	"fmt"

	"ledger/internal/amqp"
	applog "ledger/internal/log"
	gsheet "ledger/internal/sheets/google"
	"ledger/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.Nop()
	}
	return &DefaultFactory{logger: logger.WithComponent(applog.ComponentBackend)}
}

// CreateBackend implements Factory.CreateBackend. A publisher that cannot be
// set up is logged and left out; the ledger works without it.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.StorageKey == "" {
		config.StorageKey = storage.DefaultKey
	}

	var (
		res *BackendResult
		err error
	)
	switch config.Type {
	case MemoryBackend:
		res = f.createMemoryBackend()
	case JSONBackend:
		res = f.createJSONBackend(config)
	case SQLiteBackend:
		res, err = f.createSQLiteBackend(config)
	case SheetsBackend:
		res, err = f.createSheetsBackend(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	f.attachPublisher(res, config)
	return res, nil
}

func (f *DefaultFactory) createMemoryBackend() *BackendResult {
	f.logger.Warn("Using memory backend, the ledger will not survive a restart")
	return &BackendResult{Persister: storage.NewMemory(), Cleanup: noCleanup}
}

func (f *DefaultFactory) createJSONBackend(config Config) *BackendResult {
	file := storage.NewJSONFile(config.JSONPath)
	f.logger.Info("Initialized JSON file backend", "path", file.Path())
	return &BackendResult{Persister: file, Cleanup: noCleanup}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	store, err := storage.NewSQLiteStore(config.SQLiteDBPath, config.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}
	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"schema_version", store.SchemaVersion(),
		applog.FieldStorageKey, config.StorageKey)
	return &BackendResult{Persister: store, Cleanup: store.Close}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := gsheet.New(ctx, config.GoogleSpreadsheetID, config.GoogleSheetName, config.StorageKey,
		gsheet.WithLogger(f.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	f.logger.Info("Initialized Google Sheets backend",
		"sheet", config.GoogleSheetName,
		applog.FieldStorageKey, config.StorageKey)
	return &BackendResult{Persister: cli, Cleanup: noCleanup}, nil
}

func (f *DefaultFactory) attachPublisher(res *BackendResult, config Config) {
	if config.AMQPURL == "" {
		return
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
	if err != nil {
		f.logger.Warn("Failed to initialize AMQP client, continuing without events", applog.FieldError, err.Error())
		return
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)

	res.Publisher = client
	storeCleanup := res.Cleanup
	res.Cleanup = func() error {
		return errors.Join(client.Close(), storeCleanup())
	}
}

func noCleanup() error { return nil }
