// Package http exposes the ledger over a JSON API.
//
// This file holds the helpers that turn request bodies, path values and
// query strings into domain values. Every failure is reported as a
// *core.ValidationError naming the offending field so that the response
// builder can map it to 422, or as errBadRequest for bodies that are not
// JSON at all.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"budgetledger/internal/core"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// decodeJSON reads a single JSON object into dst. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON object", errBadRequest)
	}
	return nil
}

// sanitizeInput drops control characters other than tab and newlines and
// trims surrounding whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s))
}

func invalidField(field string, err error) error {
	return &core.ValidationError{Field: field, Err: err}
}

func parseCurrencyField(field, s string) (core.Currency, error) {
	c, err := core.ParseCurrency(s)
	if err != nil {
		return "", invalidField(field, err)
	}
	return c, nil
}

// parseMoney reads a positive amount such as "12.50" in currency.
func parseMoney(amount, currency string) (core.Money, error) {
	c, err := parseCurrencyField("currency", currency)
	if err != nil {
		return core.Money{}, err
	}
	m, err := core.ParseAmount(amount, c)
	if err != nil {
		return core.Money{}, invalidField("amount", err)
	}
	return m, nil
}

// parseSignedMoney reads an amount that may be zero or negative.
func parseSignedMoney(field, amount string, c core.Currency) (core.Money, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return core.NewMoney(0, c), nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(amount, ",", "."))
	if err != nil {
		return core.Money{}, invalidField(field, core.ErrInvalidAmount)
	}
	m, err := core.FromDecimal(d, c)
	if err != nil {
		return core.Money{}, invalidField(field, err)
	}
	return m, nil
}

// parseDateField parses YYYY-MM-DD; an empty value yields def.
func parseDateField(field, s string, def core.Date) (core.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return core.Date{}, invalidField(field, core.ErrInvalidDay)
	}
	return d, nil
}

// parsePeriodParam reads a YYYY-MM query parameter, defaulting to def.
func parsePeriodParam(r *http.Request, name string, def core.Period) (core.Period, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, nil
	}
	p, err := core.ParsePeriod(v)
	if err != nil {
		return core.Period{}, invalidField(name, core.ErrInvalidPeriod)
	}
	return p, nil
}

// parseInstant accepts RFC 3339 or a bare date, read as the end of that day.
func parseInstant(field, s string, def time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := core.ParseDate(s)
	if err != nil {
		return time.Time{}, invalidField(field, core.ErrInvalidDay)
	}
	return d.EndOfDay(), nil
}

// parseRateValue reads a strictly positive decimal rate.
func parseRateValue(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, invalidField("rate", core.ErrInvalidAmount)
	}
	return d, nil
}

func parseTransactionType(field, s string, def core.TransactionType) (core.TransactionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def, nil
	}
	t := core.TransactionType(s)
	if !t.Valid() {
		return "", invalidField(field, core.ErrInvalidType)
	}
	return t, nil
}

// parseTransactionFilter reads from, to, category, account, type and limit.
func parseTransactionFilter(r *http.Request) (core.TransactionFilter, error) {
	q := r.URL.Query()
	var (
		f   core.TransactionFilter
		err error
	)
	if f.From, err = parseDateField("from", q.Get("from"), core.Date{}); err != nil {
		return f, err
	}
	if f.To, err = parseDateField("to", q.Get("to"), core.Date{}); err != nil {
		return f, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From.Time) {
		return f, invalidField("to", core.ErrInvalidPeriod)
	}
	if f.Type, err = parseTransactionType("type", q.Get("type"), ""); err != nil {
		return f, err
	}
	f.CategoryID = sanitizeInput(q.Get("category"))
	f.AccountID = sanitizeInput(q.Get("account"))
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, invalidField("limit", errors.New("must be a non-negative integer"))
		}
		f.Limit = n
	}
	return f, nil
}
