package backend

import (
	"context"
	"fmt"

	"savings/internal/log"
	"savings/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateSlot implements Factory.CreateSlot
func (f *DefaultFactory) CreateSlot(ctx context.Context, config Config) (*Result, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteSlot(ctx, config)
	case FileBackend:
		return f.createFileSlot(ctx, config)
	case MemoryBackend:
		return f.createMemorySlot(ctx)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteSlot(ctx context.Context, config Config) (*Result, error) {
	slot, err := storage.NewSQLiteSlot(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite slot: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &Result{Slot: slot, Cleanup: slot.Close}, nil
}

func (f *DefaultFactory) createFileSlot(ctx context.Context, config Config) (*Result, error) {
	slot, err := storage.NewFileSlot(config.DataDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file slot: %w", err)
	}

	f.logger.InfoContext(ctx, "Initialized file backend", "data_directory", config.DataDirectory)

	return &Result{Slot: slot, Cleanup: slot.Close}, nil
}

func (f *DefaultFactory) createMemorySlot(ctx context.Context) (*Result, error) {
	f.logger.WarnContext(ctx, "Initialized memory backend, goals will not survive a restart")

	return &Result{Slot: storage.NewMemorySlot()}, nil
}
