package rates

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

func staticProvider(recs ...Record) Provider {
	return ProviderFunc(func(context.Context) ([]Record, error) {
		return recs, nil
	})
}

func TestCache_LookupBeforeRefresh(t *testing.T) {
	c := NewCache(staticProvider())
	if _, ok := c.Lookup("USD"); ok {
		t.Fatal("lookup before refresh must miss")
	}
	if c.Ready() {
		t.Fatal("cache should not be ready")
	}
}

func TestCache_Refresh(t *testing.T) {
	c := NewCache(staticProvider(
		Record{Code: "USD", DisplayName: "Dollar", Rate: "12300.00"},
		Record{Code: "EUR", DisplayName: "Euro", Rate: "13400.50"},
	))
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	rate, ok := c.Lookup("usd")
	if !ok || !rate.Equal(decimal.RequireFromString("12300")) {
		t.Fatalf("unexpected USD lookup %s %v", rate, ok)
	}
	if _, ok := c.Lookup("XYZ"); ok {
		t.Fatal("unknown code must miss")
	}
	if len(c.Rates()) != 2 || !c.Ready() {
		t.Fatalf("unexpected rates %+v", c.Rates())
	}
}

func TestCache_FailedRefreshKeepsSnapshot(t *testing.T) {
	var fail atomic.Bool
	p := ProviderFunc(func(context.Context) ([]Record, error) {
		if fail.Load() {
			return nil, errors.New("connection refused")
		}
		return []Record{{Code: "USD", Rate: "12300"}}, nil
	})
	c := NewCache(p, WithSource("test"))
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	before := c.Snapshot()

	fail.Store(true)
	err := c.Refresh(context.Background())
	var fetchErr *core.RateFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected RateFetchError, got %v", err)
	}
	if fetchErr.Source != "test" {
		t.Fatalf("unexpected source %q", fetchErr.Source)
	}
	if c.Snapshot() != before {
		t.Fatal("failed refresh must not replace the snapshot")
	}
	rate, ok := c.Lookup("USD")
	if !ok || !rate.Equal(decimal.NewFromInt(12300)) {
		t.Fatalf("lookup changed after failed refresh: %s %v", rate, ok)
	}
}

func TestCache_FirstRefreshFailureLeavesEmpty(t *testing.T) {
	c := NewCache(ProviderFunc(func(context.Context) ([]Record, error) {
		return nil, errors.New("unreachable")
	}))
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if c.Ready() || c.Snapshot().Len() != 0 {
		t.Fatal("snapshot should stay empty")
	}
}

func TestCache_AllRecordsMalformedIsFailure(t *testing.T) {
	c := NewCache(staticProvider(Record{Code: "USD", Rate: "abc"}, Record{Code: "EUR", Rate: ""}))
	err := c.Refresh(context.Background())
	if !errors.Is(err, errNoUsableRates) {
		t.Fatalf("expected errNoUsableRates, got %v", err)
	}
}

func TestCache_ReplacesWholesale(t *testing.T) {
	var calls atomic.Int32
	p := ProviderFunc(func(context.Context) ([]Record, error) {
		if calls.Add(1) == 1 {
			return []Record{{Code: "USD", Rate: "1"}, {Code: "EUR", Rate: "2"}}, nil
		}
		return []Record{{Code: "USD", Rate: "3"}}, nil
	})
	c := NewCache(p)
	_ = c.Refresh(context.Background())
	_ = c.Refresh(context.Background())

	if _, ok := c.Lookup("EUR"); ok {
		t.Fatal("EUR should be gone after a wholesale replacement")
	}
	rate, _ := c.Lookup("USD")
	if !rate.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected USD rate %s", rate)
	}
}

func TestCache_ConcurrentRefreshShareFetch(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	p := ProviderFunc(func(context.Context) ([]Record, error) {
		calls.Add(1)
		<-release
		return []Record{{Code: "USD", Rate: "1"}}, nil
	})
	c := NewCache(p)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Refresh(context.Background()); err != nil {
				t.Errorf("refresh: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n < 1 || n > 5 {
		t.Fatalf("unexpected fetch count %d", n)
	}
	if !c.Ready() {
		t.Fatal("cache should be ready")
	}
}

func TestCache_CancelledCallerDoesNotFailJoinedRefresh(t *testing.T) {
	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	p := ProviderFunc(func(ctx context.Context) ([]Record, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []Record{{Code: "USD", Rate: "1"}}, nil
	})
	c := NewCache(p)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- c.Refresh(first) }()
	<-started

	secondErr := make(chan error, 1)
	go func() { secondErr <- c.Refresh(context.Background()) }()

	cancel()
	var fetchErr *core.RateFetchError
	if err := <-firstErr; !errors.As(err, &fetchErr) || !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller should get its own error, got %v", err)
	}
	close(release)
	if err := <-secondErr; err != nil {
		t.Fatalf("joined refresh should succeed, got %v", err)
	}
	if !c.Ready() {
		t.Fatal("cache should be ready")
	}
}

func TestCache_FetchTimeout(t *testing.T) {
	p := ProviderFunc(func(ctx context.Context) ([]Record, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	c := NewCache(p, WithFetchTimeout(20*time.Millisecond))
	if err := c.Refresh(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
