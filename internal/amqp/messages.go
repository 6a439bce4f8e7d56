package amqp

import (
	"encoding/json"
	"time"

	"ledger/internal/core"
)

// Event types carried in TransactionEvent.Type.
const (
	EventTransactionAdded   = "transaction.added"
	EventTransactionRemoved = "transaction.removed"
)

// TransactionEvent announces a ledger change. Removal events carry only the ID.
type TransactionEvent struct {
	Type        string            `json:"type"`
	ID          string            `json:"id"`
	Transaction *core.Transaction `json:"transaction,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

func NewTransactionAdded(tx core.Transaction) *TransactionEvent {
	return &TransactionEvent{
		Type:        EventTransactionAdded,
		ID:          tx.ID,
		Transaction: &tx,
		Timestamp:   time.Now().UTC(),
	}
}

func NewTransactionRemoved(id string) *TransactionEvent {
	return &TransactionEvent{
		Type:      EventTransactionRemoved,
		ID:        id,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *TransactionEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// TransactionEventFromJSON decodes an event published by Client.
func TransactionEventFromJSON(data []byte) (*TransactionEvent, error) {
	var e TransactionEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
