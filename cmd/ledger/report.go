package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/ledger"
	"ledger/internal/rates"
	"ledger/internal/session"
)

// report renders command output. Styling is dropped automatically when the
// writer is not a terminal.
type report struct {
	out, errOut io.Writer
	heading     lipgloss.Style
	income      lipgloss.Style
	expense     lipgloss.Style
	warn        lipgloss.Style
}

func newReport(out, errOut io.Writer) *report {
	r := lipgloss.NewRenderer(out)
	e := lipgloss.NewRenderer(errOut)
	return &report{
		out:     out,
		errOut:  errOut,
		heading: r.NewStyle().Bold(true).Underline(true),
		income:  r.NewStyle().Foreground(lipgloss.Color("2")),
		expense: r.NewStyle().Foreground(lipgloss.Color("1")),
		warn:    e.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
	}
}

func (r *report) Line(s string) {
	fmt.Fprintln(r.out, s)
}

func (r *report) Summary(v session.View, base string) {
	fmt.Fprintln(r.out, r.heading.Render("Summary"))
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	byType := v.Totals.ByType()
	for _, typ := range core.TxTypes() {
		fmt.Fprintf(tw, "%s\t%s\t\n", typeLabel(typ), r.typeStyle(typ).Render(core.FormatExact(byType[typ])))
	}
	fmt.Fprintf(tw, "Balance\t%s\t\n", core.FormatExact(v.Totals.Balance()))
	tw.Flush()

	in, ex := v.Totals.Shares()
	if !in.IsZero() || !ex.IsZero() {
		fmt.Fprintf(r.out, "Share: income %s%%, expense %s%%\n", percent(in), percent(ex))
	}

	bt := v.BaseTotals
	fmt.Fprintf(r.out, "In %s: income %s, expense %s", base,
		core.FormatMoney(bt.Income), core.FormatMoney(bt.Expense))
	if bt.Unconverted > 0 {
		fmt.Fprintf(r.out, " (%d entries without a rate left out)", bt.Unconverted)
	}
	fmt.Fprintln(r.out)

	if len(v.ByCategory) == 0 {
		return
	}
	fmt.Fprintln(r.out, r.heading.Render("By category"))
	tw = tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, c := range v.ByCategory {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", c.Category, c.Type, core.FormatExact(c.Amount), c.Count)
	}
	tw.Flush()
}

func (r *report) Transactions(txs []core.Transaction) {
	if len(txs) == 0 {
		fmt.Fprintln(r.out, "No entries")
		return
	}
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tTYPE\tCATEGORY\tAMOUNT\tBASE")
	for _, tx := range txs {
		base := "-"
		if tx.AmountInBaseCurrency != nil {
			base = core.FormatMoney(*tx.AmountInBaseCurrency)
		}
		amount := core.FormatMoney(tx.Amount)
		if tx.Currency != "" {
			amount += " " + tx.Currency
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", tx.ID, tx.Date, tx.Type, tx.Category, amount, base)
	}
	tw.Flush()
}

func (r *report) Added(res ledger.AddResult) {
	tx := res.Transaction
	if tx.AmountInBaseCurrency != nil {
		fmt.Fprintf(r.out, "Added %s: %s %s %s = %s\n", tx.ID, tx.Type, core.FormatMoney(tx.Amount), tx.Currency,
			core.FormatMoney(*tx.AmountInBaseCurrency))
		return
	}
	fmt.Fprintf(r.out, "Added %s: %s %s %s (not converted)\n", tx.ID, tx.Type, core.FormatMoney(tx.Amount), tx.Currency)
}

// Rates prints the snapshot. converted, when non-nil, adds a column with an
// amount expressed in the base currency for each code.
func (r *report) Rates(list []rates.Rate, fetchedAt time.Time, base string, converted map[string]decimal.Decimal) {
	if len(list) == 0 {
		fmt.Fprintln(r.out, "No exchange rates available")
		return
	}
	fmt.Fprintln(r.out, r.heading.Render(fmt.Sprintf("Rates in %s as of %s", base, fetchedAt.Format(time.DateTime))))
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, rt := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s", rt.Code, rt.DisplayName, rt.Rate.String())
		if v, ok := converted[rt.Code]; ok {
			fmt.Fprintf(tw, "\t%s", core.FormatMoney(v))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
}

func (r *report) Categories(names []string) {
	if len(names) == 0 {
		fmt.Fprintln(r.out, "No categories")
		return
	}
	for _, name := range names {
		fmt.Fprintln(r.out, name)
	}
}

func (r *report) typeStyle(typ core.TxType) lipgloss.Style {
	if typ == core.Income {
		return r.income
	}
	return r.expense
}

func typeLabel(typ core.TxType) string {
	switch typ {
	case core.Income:
		return "Income"
	case core.Expense:
		return "Expense"
	default:
		return typ.String()
	}
}

func (r *report) Notices(ns []session.Notice) {
	for _, n := range ns {
		fmt.Fprintf(r.errOut, "%s %v\n", r.warn.Render(noticeLabel(n.Kind)), n.Err)
	}
}

func noticeLabel(k session.NoticeKind) string {
	switch k {
	case session.NoticeRates:
		return "Rates unavailable:"
	case session.NoticeUnconverted:
		return "Stored without conversion:"
	case session.NoticeLoad:
		return "Saved ledger could not be read:"
	case session.NoticeSave:
		return "Ledger not saved:"
	default:
		return string(k) + ":"
	}
}

func percent(share decimal.Decimal) string {
	return share.Shift(2).StringFixed(2)
}
