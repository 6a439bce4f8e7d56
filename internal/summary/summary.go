// Package summary reduces ledger entries into totals for reports and charts.
// All sums use exact decimal arithmetic.
package summary

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
)

// Totals is the two-bucket summary consumed by the chart renderer.
type Totals struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
}

// CategoryTotal is an amount aggregated by category and type.
type CategoryTotal struct {
	Category string
	Type     core.TxType
	Amount   decimal.Decimal
	Count    int
}

// BaseTotals sums the amounts fixed in the base currency. Entries stored
// without a conversion are counted in Unconverted and left out of the sums.
type BaseTotals struct {
	Totals
	Unconverted int
}

// Summarize sums native amounts per type. Empty input yields zero buckets.
func Summarize(txs []core.Transaction) Totals {
	t := Totals{Income: decimal.Zero, Expense: decimal.Zero}
	for _, tx := range txs {
		t.add(tx.Type, tx.Amount)
	}
	return t
}

// SummarizeBase is Summarize over AmountInBaseCurrency.
func SummarizeBase(txs []core.Transaction) BaseTotals {
	bt := BaseTotals{Totals: Totals{Income: decimal.Zero, Expense: decimal.Zero}}
	for _, tx := range txs {
		if tx.AmountInBaseCurrency == nil {
			bt.Unconverted++
			continue
		}
		bt.add(tx.Type, *tx.AmountInBaseCurrency)
	}
	return bt
}

func (t *Totals) add(typ core.TxType, amount decimal.Decimal) {
	switch typ {
	case core.Income:
		t.Income = t.Income.Add(amount)
	case core.Expense:
		t.Expense = t.Expense.Add(amount)
	}
}

// ByType returns the totals keyed by entry type.
func (t Totals) ByType() map[core.TxType]decimal.Decimal {
	return map[core.TxType]decimal.Decimal{
		core.Income:  t.Income,
		core.Expense: t.Expense,
	}
}

// Balance is income minus expense.
func (t Totals) Balance() decimal.Decimal {
	return t.Income.Sub(t.Expense)
}

// Shares returns each bucket's fraction of the combined total, rounded to four
// decimals, for proportion charts. Both are zero when there is nothing to show.
func (t Totals) Shares() (income, expense decimal.Decimal) {
	sum := t.Income.Add(t.Expense)
	if sum.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	income = t.Income.DivRound(sum, 4)
	return income, decimal.NewFromInt(1).Sub(income)
}

// MarshalJSON renders both totals as exact JSON numbers with at least two
// decimals.
func (t Totals) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Income  json.Number `json:"income"`
		Expense json.Number `json:"expense"`
	}{
		Income:  json.Number(core.FormatExact(t.Income)),
		Expense: json.Number(core.FormatExact(t.Expense)),
	})
}

// ByCategory totals native amounts per (category, type) in order of first
// appearance.
func ByCategory(txs []core.Transaction) []CategoryTotal {
	type key struct {
		category string
		typ      core.TxType
	}
	index := make(map[key]int)
	var out []CategoryTotal
	for _, tx := range txs {
		k := key{tx.Category, tx.Type}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, CategoryTotal{Category: tx.Category, Type: tx.Type, Amount: decimal.Zero})
		}
		out[i].Amount = out[i].Amount.Add(tx.Amount)
		out[i].Count++
	}
	return out
}
