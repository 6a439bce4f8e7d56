package amqp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

type fakeChannel struct {
	published []amqp091.Publishing
	keys      []string
	err       error
	closed    bool
	deadline  bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.err != nil {
		return f.err
	}
	_, f.deadline = ctx.Deadline()
	f.keys = append(f.keys, exchange+"/"+key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func sampleTx() core.Transaction {
	base := decimal.RequireFromString("1230000.00")
	return core.Transaction{
		ID:                   "tx-1",
		Type:                 core.Income,
		Amount:               decimal.NewFromInt(100),
		Category:             "Salary",
		Date:                 core.NewDate(2025, 3, 14),
		Currency:             "USD",
		AmountInBaseCurrency: &base,
	}
}

func TestClient_PublishTransactionAdded(t *testing.T) {
	ch := &fakeChannel{}
	c := newClient(ch, "ledger", "ledger_events", nil)

	if err := c.PublishTransactionAdded(context.Background(), sampleTx()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(ch.published) != 1 {
		t.Fatalf("expected one message, got %d", len(ch.published))
	}
	msg := ch.published[0]
	if ch.keys[0] != "ledger/ledger_events" {
		t.Errorf("unexpected exchange/key %s", ch.keys[0])
	}
	if msg.DeliveryMode != amqp091.Persistent || msg.ContentType != "application/json" {
		t.Errorf("unexpected publishing %+v", msg)
	}
	if !ch.deadline {
		t.Error("publish should run with a timeout")
	}

	ev, err := TransactionEventFromJSON(msg.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventTransactionAdded || ev.ID != "tx-1" || ev.Transaction == nil {
		t.Fatalf("unexpected event %+v", ev)
	}
	if !ev.Transaction.AmountInBaseCurrency.Equal(decimal.RequireFromString("1230000")) {
		t.Errorf("base amount lost: %v", ev.Transaction.AmountInBaseCurrency)
	}
}

func TestClient_PublishTransactionRemoved(t *testing.T) {
	ch := &fakeChannel{}
	c := newClient(ch, "ledger", "ledger_events", nil)
	if err := c.PublishTransactionRemoved(context.Background(), "tx-9"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev, err := TransactionEventFromJSON(ch.published[0].Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventTransactionRemoved || ev.ID != "tx-9" || ev.Transaction != nil {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ch.published[0].MessageId != "tx-9" || ch.published[0].Type != EventTransactionRemoved {
		t.Errorf("unexpected headers %+v", ch.published[0])
	}
}

func TestClient_PublishError(t *testing.T) {
	ch := &fakeChannel{err: errors.New("channel/connection is not open")}
	c := newClient(ch, "ledger", "q", nil)
	err := c.PublishTransactionRemoved(context.Background(), "x")
	if err == nil || !errors.Is(err, ch.err) {
		t.Fatalf("expected wrapped channel error, got %v", err)
	}
}

func TestClient_Close(t *testing.T) {
	ch := &fakeChannel{}
	c := newClient(ch, "ledger", "q", nil)
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ch.closed {
		t.Error("channel not closed")
	}
}

func TestTransactionEvent_JSON(t *testing.T) {
	ev := NewTransactionRemoved("abc")
	if time.Since(ev.Timestamp) > time.Minute {
		t.Errorf("timestamp not set: %v", ev.Timestamp)
	}
	b, err := ev.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := TransactionEventFromJSON(b)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ID != "abc" || !back.Timestamp.Equal(ev.Timestamp) {
		t.Fatalf("round trip mismatch %+v vs %+v", back, ev)
	}
	if _, err := TransactionEventFromJSON([]byte("{")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
