package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"budgetledger/internal/core"
)

// Converter normalizes money at a point in time.
type Converter interface {
	Convert(m core.Money, to core.Currency, asOf time.Time) (core.Money, error)
}

type CategoryTotal struct {
	CategoryID string // empty for uncategorized
	Income     core.Money
	Expense    core.Money
}

// MissingRate names a conversion that had no rate path on a given day.
type MissingRate struct {
	Base  core.Currency
	Quote core.Currency
	On    core.Date
}

func (m MissingRate) String() string {
	return fmt.Sprintf("%s->%s@%s", m.Base, m.Quote, m.On)
}

// Totals are income and expense in the reporting currency. Transfers never
// count. A transaction whose amount cannot be converted is left out of the
// sums but still counted; Unconverted says how many and the totals are
// marked Incomplete.
type Totals struct {
	Currency     core.Currency
	Income       core.Money
	Expense      core.Money
	ByCategory   []CategoryTotal // sorted by CategoryID
	Count        int
	Unconverted  int
	Incomplete   bool
	MissingRates []MissingRate
}

func (t Totals) Net() core.Money {
	return core.NewMoney(t.Income.Minor-t.Expense.Minor, t.Currency)
}

// Category returns the totals of one category, zero when absent.
func (t Totals) Category(id string) CategoryTotal {
	for _, c := range t.ByCategory {
		if c.CategoryID == id {
			return c
		}
	}
	return CategoryTotal{CategoryID: id, Income: core.NewMoney(0, t.Currency), Expense: core.NewMoney(0, t.Currency)}
}

type accumulator struct {
	currency        core.Currency
	income, expense int64
	count           int
	unconverted     int
	cats            map[string]*[2]int64
	missing         map[MissingRate]bool
}

func newAccumulator(c core.Currency) *accumulator {
	return &accumulator{currency: c, cats: map[string]*[2]int64{}, missing: map[MissingRate]bool{}}
}

func (a *accumulator) add(typ core.TransactionType, categoryID string, minor int64) {
	sums, ok := a.cats[categoryID]
	if !ok {
		sums = &[2]int64{}
		a.cats[categoryID] = sums
	}
	switch typ {
	case core.Income:
		a.income += minor
		sums[0] += minor
	case core.Expense:
		a.expense += minor
		sums[1] += minor
	}
	a.count++
}

func (a *accumulator) merge(t Totals) {
	a.income += t.Income.Minor
	a.expense += t.Expense.Minor
	a.count += t.Count
	a.unconverted += t.Unconverted
	for _, c := range t.ByCategory {
		sums, ok := a.cats[c.CategoryID]
		if !ok {
			sums = &[2]int64{}
			a.cats[c.CategoryID] = sums
		}
		sums[0] += c.Income.Minor
		sums[1] += c.Expense.Minor
	}
	for _, m := range t.MissingRates {
		a.missing[m] = true
	}
}

func (a *accumulator) totals() Totals {
	t := Totals{
		Currency:    a.currency,
		Income:      core.NewMoney(a.income, a.currency),
		Expense:     core.NewMoney(a.expense, a.currency),
		Count:       a.count,
		Unconverted: a.unconverted,
		Incomplete:  len(a.missing) > 0,
		ByCategory:  make([]CategoryTotal, 0, len(a.cats)),
	}
	for id, sums := range a.cats {
		t.ByCategory = append(t.ByCategory, CategoryTotal{
			CategoryID: id,
			Income:     core.NewMoney(sums[0], a.currency),
			Expense:    core.NewMoney(sums[1], a.currency),
		})
	}
	sort.Slice(t.ByCategory, func(i, j int) bool { return t.ByCategory[i].CategoryID < t.ByCategory[j].CategoryID })

	for m := range a.missing {
		t.MissingRates = append(t.MissingRates, m)
	}
	sort.Slice(t.MissingRates, func(i, j int) bool {
		a, b := t.MissingRates[i], t.MissingRates[j]
		if !a.On.Equal(b.On.Time) {
			return a.On.Before(b.On.Time)
		}
		if a.Base != b.Base {
			return a.Base < b.Base
		}
		return a.Quote < b.Quote
	})
	return t
}

// tally sums txs in currency, converting each at the end of its own day.
func tally(currency core.Currency, txs []core.Transaction, conv Converter) (Totals, error) {
	acc := newAccumulator(currency)
	for _, tx := range txs {
		if tx.Type == core.Transfer {
			continue
		}
		m, err := conv.Convert(tx.Amount, currency, tx.OccurredAt.EndOfDay())
		if errors.Is(err, core.ErrRateNotFound) {
			acc.missing[MissingRate{Base: tx.Amount.Currency, Quote: currency, On: tx.OccurredAt}] = true
			acc.count++
			acc.unconverted++
			continue
		}
		if err != nil {
			return Totals{}, fmt.Errorf("convert transaction %s: %w", tx.ID, err)
		}
		acc.add(tx.Type, tx.CategoryID, m.Minor)
	}
	return acc.totals(), nil
}
