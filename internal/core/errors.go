package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAmbiguousAmount    = errors.New("ambiguous amount")
	ErrAmbiguousField     = errors.New("ambiguous field")
	ErrRateNotFound       = errors.New("rate not found")
	ErrUnbalancedTransfer = errors.New("unbalanced transfer")
	ErrInvalidCurrency    = errors.New("invalid currency")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrCategoryCycle      = fmt.Errorf("%w: parent cycle", ErrInvalidCategory)
	ErrInvalidAccount     = errors.New("invalid account")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrInvalidDay         = errors.New("invalid day")
	ErrInvalidMonth       = errors.New("invalid month")
	ErrInvalidPeriod      = errors.New("invalid period")
	ErrInvalidRepetition  = errors.New("invalid repetition")
	ErrEmptyName          = errors.New("empty name")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrTextTooLong        = errors.New("text too long (max 2000 characters)")
	ErrNotFound           = errors.New("not found")
	ErrInUse              = errors.New("still referenced")
)

// RateNotFoundError reports a missing conversion path.
type RateNotFoundError struct {
	Base  Currency
	Quote Currency
	AsOf  time.Time
}

func (e *RateNotFoundError) Error() string {
	return fmt.Sprintf("rate not found: %s->%s as of %s", e.Base, e.Quote, e.AsOf.Format(time.RFC3339))
}

func (e *RateNotFoundError) Unwrap() error { return ErrRateNotFound }

// AmbiguousFieldError lists parsed fields that need confirmation.
type AmbiguousFieldError struct {
	Fields []string
}

func (e *AmbiguousFieldError) Error() string {
	return "ambiguous field: " + strings.Join(e.Fields, ", ")
}

func (e *AmbiguousFieldError) Unwrap() error { return ErrAmbiguousField }

// ValidationError ties a validation failure to the offending field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}
