// Package ledger owns the ordered collection of transactions for a session
// and keeps the durable copy in step with it.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger/internal/core"
	applog "ledger/internal/log"
	"ledger/internal/rates"
	"ledger/internal/storage"
)

// Store is the in-memory ledger with write-through persistence.
//
// Add and Remove return only after the durable copy was written (or failed to
// be). A failed write is reported as *core.PersistenceError while the change
// stays applied in memory: the in-memory ledger is authoritative for the
// session and the next successful write catches the durable copy up.
type Store struct {
	mu      sync.Mutex
	items   []core.Transaction
	ids     map[string]struct{}
	unsaved bool

	persister    Persister
	converter    Converter
	publisher    EventPublisher
	entryCurr    string
	baseCurrency string
	newID        func() string
	logger       *applog.Logger
}

// AddResult describes a stored entry. RateErr is set when the entry was
// stored without a base-currency amount because no rate was known.
type AddResult struct {
	Transaction core.Transaction
	RateErr     error
}

type Option func(*Store)

func WithConverter(c Converter) Option {
	return func(s *Store) { s.converter = c }
}

// WithCurrencies sets the currency drafts are assumed to be in when they do
// not name one, and the base currency that needs no conversion.
func WithCurrencies(entry, base string) Option {
	return func(s *Store) {
		s.entryCurr = rates.NormalizeCode(entry)
		s.baseCurrency = rates.NormalizeCode(base)
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Store) { s.publisher = p }
}

func WithLogger(l *applog.Logger) Option {
	return func(s *Store) { s.logger = l.WithComponent(applog.ComponentLedger) }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(f func() string) Option {
	return func(s *Store) { s.newID = f }
}

func NewStore(p Persister, opts ...Option) *Store {
	s := &Store{
		items:     []core.Transaction{},
		ids:       map[string]struct{}{},
		persister: p,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = applog.OrNop(s.logger)
	return s
}

// Load replaces the ledger with the persisted collection. A missing value
// yields an empty ledger. An unreadable or malformed value also yields an
// empty ledger and is reported as *core.PersistenceError; the next write will
// overwrite whatever was stored. Records that fail validation or repeat an
// earlier ID are dropped.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = []core.Transaction{}
	s.ids = map[string]struct{}{}

	data, err := s.persister.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.InfoContext(ctx, "No saved ledger, starting empty")
		return nil
	}
	if err != nil {
		return s.loadFailed(ctx, err)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return s.loadFailed(ctx, fmt.Errorf("decode ledger: %w", err))
	}

	dropped := 0
	for _, r := range raw {
		var tx core.Transaction
		if err := json.Unmarshal(r, &tx); err != nil {
			dropped++
			continue
		}
		if _, dup := s.ids[tx.ID]; dup || tx.Validate() != nil {
			dropped++
			continue
		}
		s.ids[tx.ID] = struct{}{}
		s.items = append(s.items, tx)
	}
	if dropped > 0 {
		s.logger.WarnContext(ctx, "Dropped invalid ledger records on load", applog.FieldDropped, dropped)
	}
	s.logger.InfoContext(ctx, "Ledger loaded", applog.FieldCount, len(s.items))
	return nil
}

func (s *Store) loadFailed(ctx context.Context, err error) error {
	s.logger.LogError(ctx, "Ledger load failed, starting empty; saved data will be overwritten on next change",
		err, applog.OpLoad, applog.NewFields().WithErrorType(applog.ErrorTypePersistence))
	return &core.PersistenceError{Op: applog.OpLoad, Err: err}
}

// Add validates d, fixes its base-currency amount and appends it. A
// *core.ValidationError means nothing was stored. A *core.PersistenceError
// comes with a valid result: the entry is in the ledger but not yet durable.
func (s *Store) Add(ctx context.Context, d core.Draft) (AddResult, error) {
	if err := d.Validate(); err != nil {
		return AddResult{}, err
	}

	s.mu.Lock()
	id := strings.TrimSpace(d.ID)
	if id == "" {
		id = s.newID()
	}
	if _, dup := s.ids[id]; dup {
		s.mu.Unlock()
		return AddResult{}, &core.ValidationError{Field: core.FieldID, Err: core.ErrDuplicateID}
	}

	tx := core.Transaction{
		ID:       id,
		Type:     d.Type,
		Amount:   d.Amount,
		Category: d.Category,
		Date:     d.Date,
		Currency: s.currencyFor(d),
	}
	res := AddResult{Transaction: tx}
	if base, err := s.convert(tx); err != nil {
		res.RateErr = err
	} else {
		res.Transaction.AmountInBaseCurrency = &base
	}
	tx = res.Transaction

	s.items = append(s.items, tx)
	s.ids[id] = struct{}{}
	saveErr := s.persistLocked(ctx)
	s.mu.Unlock()

	fields := applog.NewFields().
		WithTransaction(tx.ID, tx.Type.String(), tx.Amount.String(), tx.Category, tx.Date.String()).
		WithCurrency(tx.Currency)
	fields[applog.FieldConverted] = tx.Converted()
	if res.RateErr != nil {
		s.logger.WarnContext(ctx, "Stored entry without base-currency amount", fields.WithError(res.RateErr).ToSlice()...)
	} else {
		s.logger.InfoContext(ctx, "Transaction added", fields.ToSlice()...)
	}

	s.publishAdded(ctx, tx)
	return res, saveErr
}

func (s *Store) currencyFor(d core.Draft) string {
	if c := rates.NormalizeCode(d.Currency); c != "" {
		return c
	}
	return s.entryCurr
}

func (s *Store) convert(tx core.Transaction) (decimal.Decimal, error) {
	if tx.Currency == "" || (s.baseCurrency != "" && tx.Currency == s.baseCurrency) {
		return core.RoundMoney(tx.Amount), nil
	}
	if s.converter == nil {
		return decimal.Zero, core.RateUnavailableError(tx.Currency)
	}
	return s.converter.Convert(tx.Amount, tx.Currency)
}

// Remove deletes the entry with id. An unknown id is not an error and causes
// no write; the bool reports whether anything was removed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	if _, ok := s.ids[id]; !ok {
		s.mu.Unlock()
		return false, nil
	}
	kept := make([]core.Transaction, 0, len(s.items)-1)
	for _, tx := range s.items {
		if tx.ID != id {
			kept = append(kept, tx)
		}
	}
	s.items = kept
	delete(s.ids, id)
	saveErr := s.persistLocked(ctx)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Transaction removed", applog.FieldTxID, id)
	s.publishRemoved(ctx, id)
	return true, saveErr
}

// All returns a copy of the ledger in insertion order.
func (s *Store) All() []core.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Transaction(nil), s.items...)
}

// Get returns the entry with id.
func (s *Store) Get(id string) (core.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range s.items {
		if tx.ID == id {
			return tx, true
		}
	}
	return core.Transaction{}, false
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Unsaved reports whether the last write failed, leaving changes that exist
// only in memory.
func (s *Store) Unsaved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsaved
}

// Flush writes the current ledger again, e.g. after an earlier write failed.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(s.items)
	if err != nil {
		s.unsaved = true
		return &core.PersistenceError{Op: applog.OpSave, Err: fmt.Errorf("encode ledger: %w", err)}
	}
	if err := s.persister.Save(ctx, data); err != nil {
		s.logger.LogError(ctx, "Ledger save failed, in-memory ledger remains authoritative",
			err, applog.OpSave, applog.NewFields().WithErrorType(applog.ErrorTypePersistence).WithCount(len(s.items)))
		s.unsaved = true
		return &core.PersistenceError{Op: applog.OpSave, Err: err}
	}
	s.unsaved = false
	return nil
}

func (s *Store) publishAdded(ctx context.Context, tx core.Transaction) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransactionAdded(ctx, tx); err != nil {
		s.logger.LogError(ctx, "Failed to publish transaction event", err, applog.OpPublish,
			applog.NewFields().WithTransaction(tx.ID, tx.Type.String(), tx.Amount.String(), tx.Category, tx.Date.String()))
	}
}

func (s *Store) publishRemoved(ctx context.Context, id string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransactionRemoved(ctx, id); err != nil {
		s.logger.LogError(ctx, "Failed to publish transaction event", err, applog.OpPublish,
			applog.LogFields{applog.FieldTxID: id})
	}
}
