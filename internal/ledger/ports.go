package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// Ports the store depends on. Adapters live in storage, sheets and amqp.
type (
	// Persister reads and writes the serialized ledger as a single value.
	// Load returns storage.ErrNotFound when nothing was saved yet.
	Persister interface {
		Load(ctx context.Context) ([]byte, error)
		Save(ctx context.Context, data []byte) error
	}

	// Converter fixes the base-currency amount of a new entry.
	Converter interface {
		Convert(amount decimal.Decimal, code string) (decimal.Decimal, error)
	}

	// EventPublisher is told about ledger changes after they are applied.
	EventPublisher interface {
		PublishTransactionAdded(ctx context.Context, tx core.Transaction) error
		PublishTransactionRemoved(ctx context.Context, id string) error
	}
)
