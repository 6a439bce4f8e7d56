package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/query"
	"ledger/internal/rates"
	"ledger/internal/storage"
)

func usdProvider(calls *int32) rates.Provider {
	return rates.ProviderFunc(func(ctx context.Context) ([]rates.Record, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return []rates.Record{
			{Code: "USD", DisplayName: "AQSH dollari", Rate: "12300.00"},
			{Code: "EUR", DisplayName: "EVRO", Rate: "13400.50"},
		}, nil
	})
}

func failingProvider() rates.Provider {
	return rates.ProviderFunc(func(ctx context.Context) ([]rates.Record, error) {
		return nil, errors.New("dial tcp: connection refused")
	})
}

func ids() func() string {
	var n int32
	return func() string { return fmt.Sprintf("id-%d", atomic.AddInt32(&n, 1)) }
}

func draft(typ core.TxType, amount, category string, day int) core.Draft {
	return core.Draft{
		Type:     typ,
		Amount:   decimal.RequireFromString(amount),
		Category: category,
		Date:     core.NewDate(2025, 3, day),
	}
}

func TestStart_LoadsAndRefreshes(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryWith([]byte(`[{"id":"a","type":"income","amount":"150","category":"Salary","date":"2025-03-01"}]`))
	s := New(mem, usdProvider(nil), WithIDGenerator(ids()))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(s.Transactions()) != 1 {
		t.Fatalf("expected loaded entry, got %d", len(s.Transactions()))
	}
	if got := s.Rates(); len(got) != 2 || got[0].Code != "EUR" {
		t.Fatalf("unexpected rates %+v", got)
	}
	if s.RatesFetchedAt().IsZero() {
		t.Error("fetch time should be set")
	}
	if n := s.Notices(); len(n) != 0 {
		t.Fatalf("unexpected notices %+v", n)
	}
}

func TestStart_RateFailureDoesNotBlockLoad(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryWith([]byte(`[{"id":"a","type":"expense","amount":"30","category":"Food","date":"2025-03-02"}]`))
	s := New(mem, failingProvider(), WithIDGenerator(ids()))

	err := s.Start(ctx)
	var fetchErr *core.RateFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected RateFetchError, got %v", err)
	}
	if len(s.Transactions()) != 1 {
		t.Fatal("load should complete despite the rate failure")
	}

	res, err := s.Add(ctx, draft(core.Income, "100", "Salary", 3))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.Transaction.Converted() || !errors.Is(res.RateErr, core.ErrRateUnavailable) {
		t.Fatalf("expected an unconverted entry before rates arrive, got %+v", res)
	}

	notices := s.Notices()
	if len(notices) != 2 || notices[0].Kind != NoticeRates || notices[1].Kind != NoticeUnconverted {
		t.Fatalf("unexpected notices %+v", notices)
	}
	if len(s.Notices()) != 0 {
		t.Error("notices should be cleared after reading")
	}
}

func TestStart_MalformedStorageIsWarning(t *testing.T) {
	s := New(storage.NewMemoryWith([]byte(`{broken`)), usdProvider(nil))
	err := s.Start(context.Background())
	var perr *core.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if len(s.Transactions()) != 0 {
		t.Fatal("expected empty ledger")
	}
	if n := s.Notices(); len(n) != 1 || n[0].Kind != NoticeLoad {
		t.Fatalf("unexpected notices %+v", n)
	}
}

func TestAddAndView(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory(), usdProvider(nil), WithIDGenerator(ids()))
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := s.Add(ctx, draft(core.Income, "100", "Salary", 14))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !first.Transaction.AmountInBaseCurrency.Equal(decimal.RequireFromString("1230000.00")) {
		t.Fatalf("unexpected conversion %v", first.Transaction.AmountInBaseCurrency)
	}
	s.Add(ctx, draft(core.Income, "50", "Salary", 15))
	s.Add(ctx, draft(core.Expense, "30", "Food", 15))

	all := s.View(query.Criteria{})
	if !all.Totals.Income.Equal(decimal.NewFromInt(150)) || !all.Totals.Expense.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected totals %+v", all.Totals)
	}
	if len(all.ByCategory) != 2 {
		t.Fatalf("unexpected category totals %+v", all.ByCategory)
	}

	c, err := query.ParseCriteria("Salary", "2025-03-15")
	if err != nil {
		t.Fatalf("criteria: %v", err)
	}
	v := s.View(c)
	if len(v.Transactions) != 1 || !v.Totals.Income.Equal(decimal.NewFromInt(50)) || !v.Totals.Expense.IsZero() {
		t.Fatalf("unexpected filtered view %+v", v)
	}
	if !v.BaseTotals.Income.Equal(decimal.NewFromInt(615000)) || v.BaseTotals.Unconverted != 0 {
		t.Fatalf("unexpected base totals %+v", v.BaseTotals)
	}

	if got := s.Categories(); len(got) != 2 {
		t.Fatalf("unexpected categories %v", got)
	}

	removed, err := s.Remove(ctx, first.Transaction.ID)
	if err != nil || !removed {
		t.Fatalf("remove: %v %v", removed, err)
	}
	if len(s.View(query.Criteria{}).Transactions) != 2 {
		t.Fatal("removed entry still visible")
	}
}

func TestAdd_ValidationStoresNothing(t *testing.T) {
	s := New(storage.NewMemory(), usdProvider(nil))
	_, err := s.Add(context.Background(), draft(core.Expense, "0", "Food", 1))
	var verr *core.ValidationError
	if !errors.As(err, &verr) || verr.Field != core.FieldAmount {
		t.Fatalf("expected amount ValidationError, got %v", err)
	}
	if len(s.Transactions()) != 0 || len(s.Notices()) != 0 {
		t.Fatal("nothing should be stored or noticed")
	}
}

func TestRefreshRates_KeepsExistingAmounts(t *testing.T) {
	ctx := context.Background()
	rate := "12300"
	provider := rates.ProviderFunc(func(context.Context) ([]rates.Record, error) {
		return []rates.Record{{Code: "USD", Rate: rate}}, nil
	})
	s := New(storage.NewMemory(), provider)
	s.Start(ctx)
	res, _ := s.Add(ctx, draft(core.Income, "1", "x", 1))

	rate = "13000"
	if err := s.RefreshRates(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got := s.Transactions()[0]
	if !got.AmountInBaseCurrency.Equal(*res.Transaction.AmountInBaseCurrency) {
		t.Fatalf("stored amount changed after refresh: %v", got.AmountInBaseCurrency)
	}
	if p, _ := s.Preview(decimal.NewFromInt(1), ""); !p.Equal(decimal.NewFromInt(13000)) {
		t.Fatalf("preview should use the new rate, got %v", p)
	}
}

func TestPreview(t *testing.T) {
	s := New(storage.NewMemory(), usdProvider(nil), WithCurrencies("usd", "uzs"))
	if _, err := s.Preview(decimal.NewFromInt(1), "USD"); !errors.Is(err, core.ErrRateUnavailable) {
		t.Fatalf("expected ErrRateUnavailable before the first refresh, got %v", err)
	}
	s.Start(context.Background())

	tests := []struct {
		code string
		want string
	}{
		{"", "123000"},
		{"eur", "134005"},
		{"UZS", "10.00"},
	}
	for _, tt := range tests {
		amount := decimal.NewFromInt(10)
		got, err := s.Preview(amount, tt.code)
		if err != nil || !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("Preview(10, %q) = %v, %v; want %s", tt.code, got, err, tt.want)
		}
	}
	if entry, base := s.Currencies(); entry != "USD" || base != "UZS" {
		t.Errorf("Currencies() = %s, %s", entry, base)
	}
}

func TestNoticeTimestamp(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	s := New(storage.NewMemory(), failingProvider(), WithClock(func() time.Time { return at }))
	s.Start(context.Background())
	n := s.Notices()
	if len(n) != 1 || !n[0].At.Equal(at) {
		t.Fatalf("unexpected notices %+v", n)
	}
}

func TestRefreshRates_BypassesMemoisedPayload(t *testing.T) {
	ctx := context.Background()
	var calls int32
	provider := rates.NewCachedProvider(usdProvider(&calls), "cbu", time.Hour)
	s := New(storage.NewMemory(), provider)

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.RefreshRates(ctx); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("every refresh should reach the feed, got %d calls", n)
	}
}

type flakyPersister struct {
	*storage.Memory
	saveErr error
}

func (f *flakyPersister) Save(ctx context.Context, data []byte) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Memory.Save(ctx, data)
}

func TestFlush_RetriesFailedSave(t *testing.T) {
	ctx := context.Background()
	p := &flakyPersister{Memory: storage.NewMemory()}
	s := New(p, usdProvider(nil), WithIDGenerator(ids()))
	s.Start(ctx)

	if err := s.Flush(ctx); err != nil || p.Saves() != 0 {
		t.Fatalf("flush without pending changes should not write: %v saves=%d", err, p.Saves())
	}

	p.saveErr = errors.New("disk full")
	if _, err := s.Add(ctx, draft(core.Expense, "5", "Food", 3)); err == nil {
		t.Fatal("expected save error")
	}
	if !s.Unsaved() {
		t.Fatal("session should report unsaved changes")
	}
	if err := s.Flush(ctx); err == nil {
		t.Fatal("flush should fail while the persister is down")
	}

	p.saveErr = nil
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if s.Unsaved() || p.Saves() != 1 {
		t.Fatalf("flush should write once, unsaved=%v saves=%d", s.Unsaved(), p.Saves())
	}
	kinds := map[NoticeKind]int{}
	for _, n := range s.Notices() {
		kinds[n.Kind]++
	}
	if kinds[NoticeSave] != 2 {
		t.Fatalf("expected two save notices, got %v", kinds)
	}
}
