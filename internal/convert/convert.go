// Package convert turns native amounts into the base currency using the
// current rate snapshot. It performs no I/O.
package convert

import (
	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/rates"
)

// RateSource looks up base-currency units per one unit of code.
type RateSource interface {
	Lookup(code string) (decimal.Decimal, bool)
}

// Engine converts amounts with a RateSource.
type Engine struct {
	rates RateSource
}

func NewEngine(rates RateSource) *Engine {
	return &Engine{rates: rates}
}

// Convert returns amount*rate rounded half-up to two decimals. Codes are
// matched case-insensitively. When code has no rate the error wraps
// core.ErrRateUnavailable.
func (e *Engine) Convert(amount decimal.Decimal, code string) (decimal.Decimal, error) {
	code = rates.NormalizeCode(code)
	if e == nil || e.rates == nil {
		return decimal.Zero, core.RateUnavailableError(code)
	}
	rate, ok := e.rates.Lookup(code)
	if !ok || !rate.IsPositive() {
		return decimal.Zero, core.RateUnavailableError(code)
	}
	return core.RoundMoney(amount.Mul(rate)), nil
}

// Map is a fixed RateSource, handy for tests and offline sessions.
type Map map[string]decimal.Decimal

// Lookup matches code case-insensitively, like the rate cache. Keys are
// expected in upper case.
func (m Map) Lookup(code string) (decimal.Decimal, bool) {
	r, ok := m[rates.NormalizeCode(code)]
	return r, ok
}
