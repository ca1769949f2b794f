package rates

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"budgetledger/internal/core"
)

type seedRate struct {
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Rate  decimal.Decimal `json:"rate"`
	AsOf  string          `json:"as_of"`
}

// LoadFile reads a JSON array of rates such as
//
//	[{"base":"USD","quote":"GEL","rate":"2.70","as_of":"2024-01-01"}]
//
// as_of accepts a plain date or an RFC 3339 timestamp.
func LoadFile(path string) ([]core.ExchangeRate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rates file: %w", err)
	}
	return Decode(data)
}

// Decode parses the JSON seed format.
func Decode(data []byte) ([]core.ExchangeRate, error) {
	var raw []seedRate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode rates: %w", err)
	}
	out := make([]core.ExchangeRate, 0, len(raw))
	for i, r := range raw {
		base, err := core.ParseCurrency(r.Base)
		if err != nil {
			return nil, fmt.Errorf("rate %d: %w", i, err)
		}
		quote, err := core.ParseCurrency(r.Quote)
		if err != nil {
			return nil, fmt.Errorf("rate %d: %w", i, err)
		}
		asOf, err := ParseAsOf(r.AsOf)
		if err != nil {
			return nil, fmt.Errorf("rate %d: %w", i, err)
		}
		out = append(out, core.ExchangeRate{Base: base, Quote: quote, Rate: r.Rate, AsOf: asOf})
	}
	return out, nil
}

// ParseAsOf accepts YYYY-MM-DD (midnight UTC) or RFC 3339.
func ParseAsOf(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as_of %q", s)
	}
	return t.UTC(), nil
}
