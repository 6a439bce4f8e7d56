package rates

import (
	"context"
	"time"

	"ledger/internal/cache"
)

// StampedProvider is a Provider that reports when its records were fetched
// from the upstream feed. A Cache stamps its snapshot with that time.
type StampedProvider interface {
	Provider
	FetchStamped(ctx context.Context) ([]Record, time.Time, error)
}

// Invalidator drops any memoised payload so the next fetch goes upstream.
type Invalidator interface {
	Invalidate()
}

var (
	_ StampedProvider = (*CachedProvider)(nil)
	_ Invalidator     = (*CachedProvider)(nil)
)

type payload struct {
	records   []Record
	fetchedAt time.Time
}

// CachedProvider memoises the records of an upstream provider for a TTL.
// A memoised payload keeps the time it was fetched upstream. Errors are not
// cached.
type CachedProvider struct {
	upstream Provider
	key      string
	now      cache.Clock
	cache    cache.Cache[payload]
}

func NewCachedProvider(upstream Provider, key string, ttl time.Duration) *CachedProvider {
	return NewCachedProviderWithClock(upstream, key, ttl, time.Now)
}

func NewCachedProviderWithClock(upstream Provider, key string, ttl time.Duration, now cache.Clock) *CachedProvider {
	if now == nil {
		now = time.Now
	}
	return &CachedProvider{
		upstream: upstream,
		key:      key,
		now:      now,
		cache:    cache.NewLRUCacheWithClock[payload](1, ttl, now),
	}
}

func (p *CachedProvider) Fetch(ctx context.Context) ([]Record, error) {
	recs, _, err := p.FetchStamped(ctx)
	return recs, err
}

func (p *CachedProvider) FetchStamped(ctx context.Context) ([]Record, time.Time, error) {
	if hit, ok := p.cache.Get(p.key); ok {
		return append([]Record(nil), hit.records...), hit.fetchedAt, nil
	}
	recs, err := p.upstream.Fetch(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	fetchedAt := p.now()
	p.cache.Set(p.key, payload{records: append([]Record(nil), recs...), fetchedAt: fetchedAt})
	return recs, fetchedAt, nil
}

// Invalidate drops the memoised payload.
func (p *CachedProvider) Invalidate() {
	p.cache.Delete(p.key)
}
