// Package rates holds point-in-time exchange rates.
//
// The table is append-only. Readers load an immutable snapshot through an
// atomic pointer and never block; writers serialize on a mutex, copy the
// affected history and publish a new snapshot in one store.
package rates

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"budgetledger/internal/core"
)

// inversePrecision is the number of decimal places kept when inverting a rate.
const inversePrecision = 12

// ErrRateConflict is returned when a pair already has a different rate at the same instant.
var ErrRateConflict = errors.New("rate already recorded for this instant")

type (
	pair struct {
		base, quote core.Currency
	}

	entry struct {
		asOf time.Time
		rate decimal.Decimal
	}

	// snapshot is never mutated after publication.
	snapshot struct {
		history map[pair][]entry // sorted by asOf ascending
		count   int
	}

	// Table resolves rates as of a point in time, falling back to inverse
	// pairs and to cross rates through the pivot currencies.
	Table struct {
		mu     sync.Mutex
		snap   atomic.Pointer[snapshot]
		pivots []core.Currency
	}
)

// NewTable creates an empty table. Pivots are tried in order for cross rates.
func NewTable(pivots ...core.Currency) *Table {
	t := &Table{pivots: append([]core.Currency(nil), pivots...)}
	t.snap.Store(&snapshot{history: map[pair][]entry{}})
	return t
}

// SetRate appends a rate. Recording the same rate twice for one instant is a
// no-op; recording a different one fails with ErrRateConflict.
func (t *Table) SetRate(base, quote core.Currency, rate decimal.Decimal, asOf time.Time) error {
	return t.Restore([]core.ExchangeRate{{Base: base, Quote: quote, Rate: rate, AsOf: asOf}})
}

// Restore appends many rates and publishes them together.
func (t *Table) Restore(rates []core.ExchangeRate) error {
	for _, r := range rates {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rate %s->%s: %w", r.Base, r.Quote, err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snap.Load()
	next := &snapshot{history: make(map[pair][]entry, len(cur.history)+1), count: cur.count}
	for k, v := range cur.history {
		next.history[k] = v
	}

	copied := map[pair]bool{}
	for _, r := range rates {
		k := pair{r.Base, r.Quote}
		hist := next.history[k]
		if !copied[k] {
			hist = append([]entry(nil), hist...)
			copied[k] = true
		}
		asOf := r.AsOf.UTC()
		i := sort.Search(len(hist), func(i int) bool { return !hist[i].asOf.Before(asOf) })
		if i < len(hist) && hist[i].asOf.Equal(asOf) {
			if hist[i].rate.Equal(r.Rate) {
				continue
			}
			return fmt.Errorf("%w: %s->%s at %s", ErrRateConflict, r.Base, r.Quote, asOf.Format(time.RFC3339))
		}
		hist = append(hist, entry{})
		copy(hist[i+1:], hist[i:])
		hist[i] = entry{asOf: asOf, rate: r.Rate}
		next.history[k] = hist
		next.count++
	}

	t.snap.Store(next)
	return nil
}

// GetRate returns how many units of quote one unit of base buys at asOf.
func (t *Table) GetRate(base, quote core.Currency, asOf time.Time) (decimal.Decimal, error) {
	if !base.Valid() || !quote.Valid() {
		return decimal.Zero, core.ErrInvalidCurrency
	}
	if base == quote {
		return decimal.NewFromInt(1), nil
	}
	s := t.snap.Load()
	if r, ok := s.leg(base, quote, asOf); ok {
		return r, nil
	}
	for _, p := range t.pivots {
		if p == base || p == quote {
			continue
		}
		first, ok := s.leg(base, p, asOf)
		if !ok {
			continue
		}
		second, ok := s.leg(p, quote, asOf)
		if !ok {
			continue
		}
		return first.Mul(second), nil
	}
	return decimal.Zero, &core.RateNotFoundError{Base: base, Quote: quote, AsOf: asOf}
}

// Convert expresses m in currency to using the rate in force at asOf,
// rounded half away from zero to the target scale.
func (t *Table) Convert(m core.Money, to core.Currency, asOf time.Time) (core.Money, error) {
	if m.Currency == to {
		return m, nil
	}
	rate, err := t.GetRate(m.Currency, to, asOf)
	if err != nil {
		return core.Money{}, err
	}
	return core.FromDecimal(m.Decimal().Mul(rate), to)
}

// History returns every recorded rate for the pair, oldest first.
func (t *Table) History(base, quote core.Currency) []core.ExchangeRate {
	hist := t.snap.Load().history[pair{base, quote}]
	out := make([]core.ExchangeRate, len(hist))
	for i, e := range hist {
		out[i] = core.ExchangeRate{Base: base, Quote: quote, Rate: e.rate, AsOf: e.asOf}
	}
	return out
}

// Len returns the number of recorded rates.
func (t *Table) Len() int {
	return t.snap.Load().count
}

// leg resolves a single hop from the newest observation of either
// direction; the reverse pair is inverted. The direct pair wins a tie.
func (s *snapshot) leg(base, quote core.Currency, asOf time.Time) (decimal.Decimal, bool) {
	direct, dok := s.lookup(base, quote, asOf)
	reverse, rok := s.lookup(quote, base, asOf)
	switch {
	case dok && (!rok || !reverse.asOf.After(direct.asOf)):
		return direct.rate, true
	case rok:
		return decimal.NewFromInt(1).DivRound(reverse.rate, inversePrecision), true
	}
	return decimal.Zero, false
}

// lookup finds the latest entry whose asOf is not after the given instant.
func (s *snapshot) lookup(base, quote core.Currency, asOf time.Time) (entry, bool) {
	hist := s.history[pair{base, quote}]
	i := sort.Search(len(hist), func(i int) bool { return hist[i].asOf.After(asOf) })
	if i == 0 {
		return entry{}, false
	}
	return hist[i-1], true
}
