package core

import (
	"errors"
	"fmt"
)

// Field names reported by ValidationError.
const (
	FieldID       = "id"
	FieldType     = "type"
	FieldAmount   = "amount"
	FieldCategory = "category"
	FieldDate     = "date"
)

var (
	ErrInvalidAmount   = errors.New("amount must be a positive number")
	ErrInvalidType     = errors.New("type must be income or expense")
	ErrEmptyCategory   = errors.New("empty category")
	ErrCategoryTooLong = errors.New("category too long (max 100 characters)")
	ErrInvalidDate     = errors.New("invalid date, expected YYYY-MM-DD")
	ErrEmptyID         = errors.New("empty id")
	ErrDuplicateID     = errors.New("id already exists")

	// ErrRateUnavailable means the rate snapshot has no entry for a currency code.
	ErrRateUnavailable = errors.New("rate unavailable")
)

// ValidationError names the input field that was rejected.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RateFetchError reports a failed refresh of the rate snapshot.
type RateFetchError struct {
	Source string
	Err    error
}

func (e *RateFetchError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("fetch rates: %v", e.Err)
	}
	return fmt.Sprintf("fetch rates from %s: %v", e.Source, e.Err)
}

func (e *RateFetchError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed read or write of the durable ledger copy.
type PersistenceError struct {
	Op  string // "load" or "save"
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RateUnavailableError wraps ErrRateUnavailable with the missing code.
func RateUnavailableError(code string) error {
	return fmt.Errorf("%w for %q", ErrRateUnavailable, code)
}
