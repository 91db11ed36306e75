package backend

import (
	"context"

	"savings/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Result carries the slot and the function that releases it.
type Result struct {
	Slot    storage.Slot
	Cleanup CleanupFunc
}

// Factory creates durable slots based on configuration
type Factory interface {
	CreateSlot(ctx context.Context, config Config) (*Result, error)
}

// Config holds configuration for slot creation
type Config struct {
	Type BackendType

	// File specific
	DataDirectory string

	// SQLite specific
	SQLiteDBPath string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	FileBackend   BackendType = "file"
	SQLiteBackend BackendType = "sqlite"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, FileBackend, SQLiteBackend:
		return true
	default:
		return false
	}
}
