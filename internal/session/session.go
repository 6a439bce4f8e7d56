// Package session wires one ledger session: the rate cache, the conversion
// engine and the transaction store over a persister.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"ledger/internal/convert"
	"ledger/internal/core"
	"ledger/internal/ledger"
	applog "ledger/internal/log"
	"ledger/internal/query"
	"ledger/internal/rates"
	"ledger/internal/summary"
)

// NoticeKind classifies a non-fatal problem shown to the user.
type NoticeKind string

const (
	NoticeRates       NoticeKind = "rates"
	NoticeUnconverted NoticeKind = "unconverted"
	NoticeLoad        NoticeKind = "load"
	NoticeSave        NoticeKind = "save"
)

// Notice is a problem the session recovered from.
type Notice struct {
	Kind NoticeKind
	Err  error
	At   time.Time
}

// View is what the summary screen renders for a filter.
type View struct {
	Transactions []core.Transaction
	Totals       summary.Totals
	BaseTotals   summary.BaseTotals
	ByCategory   []summary.CategoryTotal
}

type Session struct {
	rates  *rates.Cache
	engine *convert.Engine
	store  *ledger.Store
	logger *applog.Logger
	now    func() time.Time
	entry  string
	base   string

	mu      sync.Mutex
	notices []Notice
}

type options struct {
	logger    *applog.Logger
	publisher ledger.EventPublisher
	entry     string
	base      string
	source    string
	timeout   time.Duration
	newID     func() string
	clock     func() time.Time
}

type Option func(*options)

func WithLogger(l *applog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPublisher announces ledger changes through p.
func WithPublisher(p ledger.EventPublisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithCurrencies sets the entry and base currencies.
func WithCurrencies(entry, base string) Option {
	return func(o *options) {
		o.entry = entry
		o.base = base
	}
}

// WithRateSource names the rate provider in errors.
func WithRateSource(name string) Option {
	return func(o *options) { o.source = name }
}

// WithRateTimeout bounds each upstream rate fetch.
func WithRateTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithIDGenerator(f func() string) Option {
	return func(o *options) { o.newID = f }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New builds a session. Nothing is loaded or fetched until Start.
func New(p ledger.Persister, provider rates.Provider, opts ...Option) *Session {
	o := options{entry: "USD", base: "UZS", source: "cbu", clock: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	logger := applog.OrNop(o.logger)

	cache := rates.NewCache(provider,
		rates.WithSource(o.source),
		rates.WithLogger(logger),
		rates.WithClock(o.clock),
		rates.WithFetchTimeout(o.timeout))
	engine := convert.NewEngine(cache)

	storeOpts := []ledger.Option{
		ledger.WithConverter(engine),
		ledger.WithCurrencies(o.entry, o.base),
		ledger.WithLogger(logger),
	}
	if o.publisher != nil {
		storeOpts = append(storeOpts, ledger.WithPublisher(o.publisher))
	}
	if o.newID != nil {
		storeOpts = append(storeOpts, ledger.WithIDGenerator(o.newID))
	}

	return &Session{
		rates:  cache,
		engine: engine,
		store:  ledger.NewStore(p, storeOpts...),
		logger: logger.WithComponent(applog.ComponentSession),
		now:    o.clock,
		entry:  rates.NormalizeCode(o.entry),
		base:   rates.NormalizeCode(o.base),
	}
}

// Start refreshes rates and loads the ledger concurrently. A failed refresh
// never stops the load. Both failures are recorded as notices and returned
// joined; the session is usable either way.
func (s *Session) Start(ctx context.Context) error {
	var rateErr, loadErr error
	var g errgroup.Group
	g.Go(func() error {
		rateErr = s.rates.Refresh(ctx)
		return nil
	})
	g.Go(func() error {
		loadErr = s.store.Load(ctx)
		return nil
	})
	_ = g.Wait()

	if rateErr != nil {
		s.notify(NoticeRates, rateErr)
	}
	if loadErr != nil {
		s.notify(NoticeLoad, loadErr)
	}
	s.logger.InfoContext(ctx, "Session started",
		applog.FieldCount, s.store.Len(),
		"rates", s.rates.Snapshot().Len())
	return errors.Join(rateErr, loadErr)
}

// RefreshRates fetches a new snapshot from the upstream feed, bypassing any
// memoised payload. Existing entries keep their amounts.
func (s *Session) RefreshRates(ctx context.Context) error {
	s.rates.Invalidate()
	if err := s.rates.Refresh(ctx); err != nil {
		s.notify(NoticeRates, err)
		return err
	}
	return nil
}

// Add records an entry. Validation errors store nothing; an unconverted
// entry or a failed write is kept and reported as a notice.
func (s *Session) Add(ctx context.Context, d core.Draft) (ledger.AddResult, error) {
	res, err := s.store.Add(ctx, d)
	if res.RateErr != nil {
		s.notify(NoticeUnconverted, res.RateErr)
	}
	var perr *core.PersistenceError
	if errors.As(err, &perr) {
		s.notify(NoticeSave, err)
	}
	return res, err
}

func (s *Session) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := s.store.Remove(ctx, id)
	if err != nil {
		s.notify(NoticeSave, err)
	}
	return removed, err
}

// View filters the ledger and summarizes the matching entries.
func (s *Session) View(c query.Criteria) View {
	txs := query.Filter(s.store.All(), c)
	return View{
		Transactions: txs,
		Totals:       summary.Summarize(txs),
		BaseTotals:   summary.SummarizeBase(txs),
		ByCategory:   summary.ByCategory(txs),
	}
}

// Transactions returns every entry in insertion order.
func (s *Session) Transactions() []core.Transaction {
	return s.store.All()
}

// Categories lists the distinct categories in use, for filter pickers.
func (s *Session) Categories() []string {
	return query.Categories(s.store.All())
}

// Rates lists the current rate snapshot for the currency list view.
func (s *Session) Rates() []rates.Rate {
	return s.rates.Rates()
}

// Currencies reports the entry and base currency codes.
func (s *Session) Currencies() (entry, base string) {
	return s.entry, s.base
}

// RatesFetchedAt is zero until the first successful refresh.
func (s *Session) RatesFetchedAt() time.Time {
	return s.rates.Snapshot().FetchedAt()
}

// Preview returns the base-currency value amount in code would be stored
// with right now. Nothing is recorded.
func (s *Session) Preview(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	code = rates.NormalizeCode(code)
	if code == "" {
		code = s.entry
	}
	if code == s.base {
		return core.RoundMoney(amount), nil
	}
	return s.engine.Convert(amount, code)
}

// Notices returns and clears the recorded notices.
func (s *Session) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

// Unsaved reports whether changes exist only in memory after a failed save.
func (s *Session) Unsaved() bool {
	return s.store.Unsaved()
}

// Flush retries writing the ledger after a failed save. It does nothing when
// the durable copy is current.
func (s *Session) Flush(ctx context.Context) error {
	if !s.store.Unsaved() {
		return nil
	}
	err := s.store.Flush(ctx)
	if err != nil {
		s.notify(NoticeSave, err)
	}
	return err
}

func (s *Session) notify(kind NoticeKind, err error) {
	s.mu.Lock()
	s.notices = append(s.notices, Notice{Kind: kind, Err: err, At: s.now()})
	s.mu.Unlock()
}
