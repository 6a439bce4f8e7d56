// Package query selects ledger entries by category and date.
//
// Matching is exact: category is compared with plain string equality (no
// trimming, case folding or substring search) and date compares calendar days.
package query

import (
	"strings"

	"ledger/internal/core"
)

// Criteria holds optional predicates. A nil field matches everything.
type Criteria struct {
	Category *string
	Date     *core.Date
}

// ByCategory and ByDate build single-predicate criteria.
func ByCategory(c string) Criteria {
	return Criteria{Category: &c}
}

func ByDate(d core.Date) Criteria {
	return Criteria{Date: &d}
}

// ParseCriteria builds criteria from presentation input. Blank strings mean
// "no predicate"; a malformed date is reported as a date ValidationError.
func ParseCriteria(category, date string) (Criteria, error) {
	var c Criteria
	if category != "" {
		c.Category = &category
	}
	if strings.TrimSpace(date) != "" {
		d, err := core.ParseDate(date)
		if err != nil {
			return Criteria{}, &core.ValidationError{Field: core.FieldDate, Err: err}
		}
		c.Date = &d
	}
	return c, nil
}

// Empty reports whether no predicate is set.
func (c Criteria) Empty() bool {
	return c.Category == nil && c.Date == nil
}

// Match reports whether tx satisfies every present predicate.
func (c Criteria) Match(tx core.Transaction) bool {
	if c.Category != nil && tx.Category != *c.Category {
		return false
	}
	if c.Date != nil && !tx.Date.Equal(*c.Date) {
		return false
	}
	return true
}

// Filter returns the entries matching c in their original order. The input is
// not modified; the result never aliases it.
func Filter(txs []core.Transaction, c Criteria) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if c.Match(tx) {
			out = append(out, tx)
		}
	}
	return out
}

// Categories lists distinct categories in order of first appearance, for
// populating a filter picker.
func Categories(txs []core.Transaction) []string {
	seen := make(map[string]struct{}, len(txs))
	var out []string
	for _, tx := range txs {
		if _, ok := seen[tx.Category]; ok {
			continue
		}
		seen[tx.Category] = struct{}{}
		out = append(out, tx.Category)
	}
	return out
}
