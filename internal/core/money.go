// Package core provides the ledger's domain types and money handling.
//
// Monetary amounts are kept as integer minor units at a fixed per-currency
// scale. Decimal arithmetic (shopspring/decimal) is used only at the edges:
// parsing user input, applying exchange rates and formatting.
package core

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	GEL  Currency = "GEL"
	USD  Currency = "USD"
	EUR  Currency = "EUR"
	UAH  Currency = "UAH"
	USDT Currency = "USDT"
)

type (
	Currency string

	// Money is an amount in minor units of Currency.
	Money struct {
		Minor    int64
		Currency Currency
	}
)

// Currencies lists the supported currencies in display order.
var Currencies = []Currency{GEL, USD, EUR, UAH, USDT}

var scales = map[Currency]int32{
	GEL:  2,
	USD:  2,
	EUR:  2,
	UAH:  2,
	USDT: 6,
}

// Valid reports whether c is one of the enumerated currencies.
func (c Currency) Valid() bool {
	_, ok := scales[c]
	return ok
}

// Scale returns the number of minor-unit digits for c.
func (c Currency) Scale() int32 {
	return scales[c]
}

// ParseCurrency accepts a currency code in any letter case.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	return c, nil
}

// ParseAmount converts a decimal string to Money in currency c.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted. Digits
// beyond the currency scale are rounded half-up. Zero and negative values are
// rejected.
//
// Examples:
//
//	ParseAmount("12.34", EUR)  -> {1234 EUR}
//	ParseAmount("12,345", EUR) -> {1235 EUR}
//	ParseAmount("0.5", USDT)   -> {500000 USDT}
func ParseAmount(s string, c Currency) (Money, error) {
	if !c.Valid() {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	m, err := FromDecimal(d, c)
	if err != nil {
		return Money{}, err
	}
	if m.Minor <= 0 {
		return Money{}, ErrInvalidAmount
	}
	return m, nil
}

// FromDecimal rounds d half away from zero to the scale of c.
func FromDecimal(d decimal.Decimal, c Currency) (Money, error) {
	if !c.Valid() {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, c)
	}
	scaled := d.Round(c.Scale()).Shift(c.Scale())
	if !scaled.IsInteger() || scaled.Abs().GreaterThan(decimal.NewFromInt(maxMinor)) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Minor: scaled.IntPart(), Currency: c}, nil
}

const maxMinor = 1<<62 - 1

// NewMoney builds Money from minor units.
func NewMoney(minor int64, c Currency) Money {
	return Money{Minor: minor, Currency: c}
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, -m.Currency.Scale())
}

// String formats the amount with exactly the currency scale, e.g. "50.00".
func (m Money) String() string {
	return m.Decimal().StringFixed(m.Currency.Scale())
}

func (m Money) Neg() Money {
	return Money{Minor: -m.Minor, Currency: m.Currency}
}

func (m Money) Abs() Money {
	if m.Minor < 0 {
		return m.Neg()
	}
	return m
}

func (m Money) IsZero() bool { return m.Minor == 0 }

// Add sums two amounts of the same currency.
func (m Money) Add(o Money) (Money, error) {
	if m.Currency != o.Currency {
		return Money{}, fmt.Errorf("%w: cannot add %s to %s", ErrInvalidCurrency, o.Currency, m.Currency)
	}
	return Money{Minor: m.Minor + o.Minor, Currency: m.Currency}, nil
}

// Validate checks that the currency is known and the amount is positive.
func (m Money) Validate() error {
	if !m.Currency.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, m.Currency)
	}
	if m.Minor <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
