package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ledger/internal/core"
	"ledger/internal/query"
)

type filterFlags struct {
	Category string `help:"Only entries with exactly this category."`
	Date     string `help:"Only entries on this date (YYYY-MM-DD)."`
}

func (f filterFlags) criteria() (query.Criteria, error) {
	return query.ParseCriteria(f.Category, f.Date)
}

type summaryCmd struct {
	Filter filterFlags `embed:""`
}

func (c *summaryCmd) Run(a *app) error {
	crit, err := c.Filter.criteria()
	if err != nil {
		return err
	}
	_, base := a.session.Currencies()
	a.out.Summary(a.session.View(crit), base)
	return nil
}

type listCmd struct {
	Filter filterFlags `embed:""`
}

func (c *listCmd) Run(a *app) error {
	crit, err := c.Filter.criteria()
	if err != nil {
		return err
	}
	a.out.Transactions(a.session.View(crit).Transactions)
	return nil
}

type addCmd struct {
	Type     string `required:"" help:"income or expense."`
	Amount   string `required:"" help:"Positive amount in the entry currency."`
	Category string `required:"" help:"Free-text category."`
	Date     string `help:"Entry date (YYYY-MM-DD), defaults to today."`
	Currency string `help:"Currency of the amount, defaults to ENTRY_CURRENCY."`
	ID       string `name:"id" help:"Explicit entry ID; generated when empty."`
}

func (c *addCmd) draft(today time.Time) (core.Draft, error) {
	typ, err := core.ParseTxType(c.Type)
	if err != nil {
		return core.Draft{}, err
	}
	amount, err := core.ParseAmount(c.Amount)
	if err != nil {
		return core.Draft{}, &core.ValidationError{Field: core.FieldAmount, Err: err}
	}
	date := core.NewDate(today.Year(), int(today.Month()), today.Day())
	if c.Date != "" {
		if date, err = core.ParseDate(c.Date); err != nil {
			return core.Draft{}, &core.ValidationError{Field: core.FieldDate, Err: err}
		}
	}
	return core.Draft{
		ID:       c.ID,
		Type:     typ,
		Amount:   amount,
		Category: c.Category,
		Date:     date,
		Currency: c.Currency,
	}, nil
}

func (c *addCmd) Run(a *app) error {
	d, err := c.draft(time.Now())
	if err != nil {
		return err
	}
	res, err := a.session.Add(a.ctx, d)
	var perr *core.PersistenceError
	if err != nil && !errors.As(err, &perr) {
		return err
	}
	a.out.Added(res)
	return nil
}

type removeCmd struct {
	ID string `arg:"" help:"ID of the entry to delete."`
}

func (c *removeCmd) Run(a *app) error {
	removed, err := a.session.Remove(a.ctx, c.ID)
	var perr *core.PersistenceError
	if err != nil && !errors.As(err, &perr) {
		return err
	}
	if !removed {
		a.out.Line(fmt.Sprintf("No entry with ID %s", c.ID))
		return nil
	}
	a.out.Line(fmt.Sprintf("Removed %s", c.ID))
	return nil
}

type ratesCmd struct {
	Amount string `help:"Also convert this amount from every listed currency."`
}

func (c *ratesCmd) Run(a *app) error {
	list := a.session.Rates()
	var converted map[string]decimal.Decimal
	if c.Amount != "" {
		amount, err := core.ParseAmount(c.Amount)
		if err != nil {
			return &core.ValidationError{Field: core.FieldAmount, Err: err}
		}
		converted = make(map[string]decimal.Decimal, len(list))
		for _, rt := range list {
			v, err := a.session.Preview(amount, rt.Code)
			if err != nil {
				return err
			}
			converted[rt.Code] = v
		}
	}
	_, base := a.session.Currencies()
	a.out.Rates(list, a.session.RatesFetchedAt(), base, converted)
	return nil
}

type categoriesCmd struct{}

func (c *categoriesCmd) Run(a *app) error {
	a.out.Categories(a.session.Categories())
	return nil
}

type watchCmd struct {
	Filter   filterFlags   `embed:""`
	Interval time.Duration `help:"Time between rate refreshes." default:"1h"`
}

func (c *watchCmd) Run(a *app) error {
	crit, err := c.Filter.criteria()
	if err != nil {
		return err
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval %v is too short", c.Interval)
	}
	_, base := a.session.Currencies()
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		a.out.Summary(a.session.View(crit), base)
		select {
		case <-a.ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.session.RefreshRates(a.ctx); err != nil {
				a.logger.WarnContext(a.ctx, "Rate refresh failed", "error", err.Error())
			}
			a.out.Notices(a.session.Notices())
		}
	}
}
