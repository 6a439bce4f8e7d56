// Package rates holds the point-in-time exchange rate snapshot and the
// providers that feed it.
package rates

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type (
	// Rate is base-currency units per one unit of Code.
	Rate struct {
		Code        string
		Rate        decimal.Decimal
		DisplayName string
	}

	// Record is one raw row returned by a provider, before validation.
	Record struct {
		Code        string
		DisplayName string
		Rate        string
		// Nominal is the number of foreign units Rate is quoted for; empty means 1.
		Nominal string
	}

	// Provider supplies the full list of current rates.
	Provider interface {
		Fetch(ctx context.Context) ([]Record, error)
	}

	// ProviderFunc adapts a function to Provider.
	ProviderFunc func(ctx context.Context) ([]Record, error)
)

func (f ProviderFunc) Fetch(ctx context.Context) ([]Record, error) {
	return f(ctx)
}

// NormalizeCode upper-cases and trims a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Snapshot is an immutable set of rates valid as of FetchedAt.
type Snapshot struct {
	rates     map[string]Rate
	fetchedAt time.Time
}

// NewSnapshot indexes rates by normalized code. Later duplicates win.
func NewSnapshot(list []Rate, fetchedAt time.Time) *Snapshot {
	m := make(map[string]Rate, len(list))
	for _, r := range list {
		r.Code = NormalizeCode(r.Code)
		m[r.Code] = r
	}
	return &Snapshot{rates: m, fetchedAt: fetchedAt}
}

func (s *Snapshot) Lookup(code string) (Rate, bool) {
	if s == nil {
		return Rate{}, false
	}
	r, ok := s.rates[NormalizeCode(code)]
	return r, ok
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rates)
}

func (s *Snapshot) FetchedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.fetchedAt
}

// List returns the rates sorted by code.
func (s *Snapshot) List() []Rate {
	if s == nil {
		return nil
	}
	out := make([]Rate, 0, len(s.rates))
	for _, r := range s.rates {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// ParseRecords validates raw provider rows. Rows with an empty code, a
// non-numeric or non-positive rate, or a bad nominal are dropped and counted.
func ParseRecords(records []Record) (parsed []Rate, dropped int) {
	parsed = make([]Rate, 0, len(records))
	for _, rec := range records {
		r, ok := parseRecord(rec)
		if !ok {
			dropped++
			continue
		}
		parsed = append(parsed, r)
	}
	return parsed, dropped
}

func parseRecord(rec Record) (Rate, bool) {
	code := NormalizeCode(rec.Code)
	if code == "" {
		return Rate{}, false
	}
	rate, err := decimal.NewFromString(strings.TrimSpace(rec.Rate))
	if err != nil || !rate.IsPositive() {
		return Rate{}, false
	}
	if n := strings.TrimSpace(rec.Nominal); n != "" {
		nominal, err := decimal.NewFromString(n)
		if err != nil || !nominal.IsPositive() {
			return Rate{}, false
		}
		if !nominal.Equal(decimal.NewFromInt(1)) {
			rate = rate.DivRound(nominal, 8)
		}
	}
	name := strings.TrimSpace(rec.DisplayName)
	if name == "" {
		name = code
	}
	return Rate{Code: code, Rate: rate, DisplayName: name}, true
}
