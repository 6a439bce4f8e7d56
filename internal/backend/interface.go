// Package backend builds the persistence backend and optional event
// publisher a ledger session runs on.
package backend

import (
	"context"

	"ledger/internal/ledger"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult contains the persister, the optional publisher and a cleanup
// function that is always safe to call.
type BackendResult struct {
	Persister ledger.Persister
	// Publisher is nil when AMQP is not configured or unreachable.
	Publisher ledger.EventPublisher
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type       BackendType
	StorageKey string

	// JSON file specific
	JSONPath string

	// SQLite specific
	SQLiteDBPath string

	// Google Sheets specific
	GoogleSpreadsheetID string
	GoogleSheetName     string

	// Event publishing, disabled when AMQPURL is empty
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	JSONBackend   BackendType = "json"
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, JSONBackend, SQLiteBackend, SheetsBackend:
		return true
	default:
		return false
	}
}
