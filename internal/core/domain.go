package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO-8601 calendar date format used on the wire and in filters.
const DateLayout = "2006-01-02"

const (
	Income  TxType = "income"
	Expense TxType = "expense"
)

type (
	// TxType is the direction of a ledger entry.
	TxType string

	Date struct {
		time.Time
	}

	// Transaction is a single ledger entry. It is never mutated after creation.
	Transaction struct {
		ID       string          `json:"id"`
		Type     TxType          `json:"type"`
		Amount   decimal.Decimal `json:"amount"`
		Category string          `json:"category"`
		Date     Date            `json:"date"`
		Currency string          `json:"currency,omitempty"`
		// AmountInBaseCurrency is fixed at creation; nil means no rate was known then.
		AmountInBaseCurrency *decimal.Decimal `json:"amountInBaseCurrency,omitempty"`
	}

	// Draft is the user input for a new transaction.
	Draft struct {
		ID       string
		Type     TxType
		Amount   decimal.Decimal
		Category string
		Date     Date
		Currency string
	}
)

// TxTypes lists the supported entry types in presentation order.
func TxTypes() []TxType {
	return []TxType{Income, Expense}
}

// ParseTxType accepts the canonical names case-insensitively.
func ParseTxType(s string) (TxType, error) {
	switch TxType(strings.ToLower(strings.TrimSpace(s))) {
	case Income:
		return Income, nil
	case Expense:
		return Expense, nil
	}
	return "", &ValidationError{Field: FieldType, Err: fmt.Errorf("%w: %q", ErrInvalidType, s)}
}

func (t TxType) Valid() bool {
	return t == Income || t == Expense
}

func (t TxType) String() string {
	return string(t)
}

func (t *TxType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTxType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string. Calendar overflow such as 2025-02-30 is rejected.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Equal compares calendar days only.
func (d Date) Equal(o Date) bool {
	y1, m1, d1 := d.Date()
	y2, m2, d2 := o.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Validate checks every user-supplied field and reports the first one that fails.
func (d Draft) Validate() error {
	if !d.Type.Valid() {
		return &ValidationError{Field: FieldType, Err: ErrInvalidType}
	}
	if !d.Amount.IsPositive() {
		return &ValidationError{Field: FieldAmount, Err: ErrInvalidAmount}
	}
	if strings.TrimSpace(d.Category) == "" {
		return &ValidationError{Field: FieldCategory, Err: ErrEmptyCategory}
	}
	if len(d.Category) > 100 {
		return &ValidationError{Field: FieldCategory, Err: ErrCategoryTooLong}
	}
	if err := d.Date.Validate(); err != nil {
		return &ValidationError{Field: FieldDate, Err: err}
	}
	return nil
}

// Validate applies the draft rules to a stored transaction plus the ID requirement.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &ValidationError{Field: FieldID, Err: ErrEmptyID}
	}
	return Draft{Type: t.Type, Amount: t.Amount, Category: t.Category, Date: t.Date}.Validate()
}

// Converted reports whether a base-currency amount was fixed at creation.
func (t Transaction) Converted() bool {
	return t.AmountInBaseCurrency != nil
}
