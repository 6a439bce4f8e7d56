package rates

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"ledger/internal/core"
	applog "ledger/internal/log"
)

var errNoUsableRates = errors.New("payload contained no usable rates")

// DefaultFetchTimeout bounds a shared refresh once it no longer follows the
// context of the caller that started it.
const DefaultFetchTimeout = time.Minute

// Cache holds the latest rate snapshot. Readers never observe a partially
// built snapshot: a refresh builds a new one and swaps the pointer.
type Cache struct {
	provider Provider
	source   string
	logger   *applog.Logger
	now      func() time.Time
	timeout  time.Duration

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithSource names the provider in errors and logs.
func WithSource(source string) CacheOption {
	return func(c *Cache) { c.source = source }
}

func WithLogger(l *applog.Logger) CacheOption {
	return func(c *Cache) { c.logger = l.WithComponent(applog.ComponentRates) }
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithFetchTimeout bounds each upstream refresh. Non-positive values keep
// DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewCache(p Provider, opts ...CacheOption) *Cache {
	c := &Cache{provider: p, now: time.Now, timeout: DefaultFetchTimeout}
	for _, o := range opts {
		o(c)
	}
	c.logger = applog.OrNop(c.logger)
	c.snap.Store(NewSnapshot(nil, time.Time{}))
	return c
}

// Refresh fetches the full rate list and replaces the snapshot. Concurrent
// calls share a single fetch, which runs detached from any one caller's
// cancellation and is bounded by the fetch timeout. A caller whose ctx ends
// first gets its own error while the fetch carries on for the others. On
// failure the previous snapshot is kept and a *core.RateFetchError is
// returned.
func (c *Cache) Refresh(ctx context.Context) error {
	ch := c.group.DoChan("refresh", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return nil, c.refresh(fctx)
	})
	select {
	case <-ctx.Done():
		return &core.RateFetchError{Source: c.source, Err: ctx.Err()}
	case res := <-ch:
		if res.Shared {
			c.logger.DebugContext(ctx, "Joined in-flight rate refresh")
		}
		return res.Err
	}
}

// Invalidate drops any payload the provider memoised, so the next Refresh
// reaches the upstream feed.
func (c *Cache) Invalidate() {
	if inv, ok := c.provider.(Invalidator); ok {
		inv.Invalidate()
	}
}

func (c *Cache) fetch(ctx context.Context) ([]Record, time.Time, error) {
	if sp, ok := c.provider.(StampedProvider); ok {
		return sp.FetchStamped(ctx)
	}
	records, err := c.provider.Fetch(ctx)
	return records, c.now(), err
}

func (c *Cache) refresh(ctx context.Context) error {
	start := c.now()
	records, fetchedAt, err := c.fetch(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}

	parsed, dropped := ParseRecords(records)
	if dropped > 0 {
		c.logger.WarnContext(ctx, "Dropped malformed rate records",
			applog.FieldDropped, dropped,
			applog.FieldCount, len(records))
	}
	if len(parsed) == 0 {
		return c.fail(ctx, errNoUsableRates)
	}

	c.snap.Store(NewSnapshot(parsed, fetchedAt))
	c.logger.InfoContext(ctx, "Rate snapshot refreshed",
		applog.FieldCount, len(parsed),
		"fetched_at", fetchedAt,
		applog.FieldSource, c.source,
		applog.FieldDurationMs, c.now().Sub(start).Milliseconds())
	return nil
}

func (c *Cache) fail(ctx context.Context, err error) error {
	fetchErr := &core.RateFetchError{Source: c.source, Err: err}
	c.logger.WarnContext(ctx, "Rate refresh failed, keeping previous snapshot",
		applog.NewFields().
			WithError(err).
			WithErrorType(applog.ErrorTypeRate).
			WithOperation(applog.OpRefresh).
			WithCount(c.Snapshot().Len()).
			ToSlice()...)
	return fetchErr
}

// Lookup returns the rate for code. A missing code is a normal result.
func (c *Cache) Lookup(code string) (decimal.Decimal, bool) {
	r, ok := c.Snapshot().Lookup(code)
	if !ok {
		return decimal.Zero, false
	}
	return r.Rate, true
}

// Snapshot returns the current snapshot; it is empty until the first
// successful refresh.
func (c *Cache) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Ready reports whether at least one refresh has succeeded.
func (c *Cache) Ready() bool {
	return c.Snapshot().Len() > 0
}

// Rates lists the current snapshot sorted by code.
func (c *Cache) Rates() []Rate {
	return c.Snapshot().List()
}
