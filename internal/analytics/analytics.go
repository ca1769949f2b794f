// Package analytics answers report queries from aggregation state. Every
// read recomputes the stale buckets it touches before returning.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"budgetledger/internal/aggregate"
	"budgetledger/internal/classifier"
	"budgetledger/internal/core"
)

// maxSeriesMonths bounds how many months a single query may span.
const maxSeriesMonths = 240

type Granularity string

const (
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
	Year    Granularity = "year"
)

func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return Month, nil
	case Month, Quarter, Year:
		return g, nil
	}
	return "", fmt.Errorf("%w: granularity %q", core.ErrInvalidPeriod, s)
}

// Engine is the aggregation state analytics reads from.
type Engine interface {
	Bucket(ctx context.Context, ledgerID string, p core.Period) (aggregate.Bucket, error)
	Summarize(ctx context.Context, ledgerID string, from, to core.Date) (aggregate.Totals, error)
	Balances(ctx context.Context, ledgerID string, asOf time.Time) (aggregate.Balances, error)
}

type CategoryLister interface {
	ListCategories(ctx context.Context, ledgerID string) ([]core.Category, error)
}

type Service struct {
	engine Engine
	cats   CategoryLister
	now    func() time.Time
}

func New(engine Engine, cats CategoryLister) *Service {
	return &Service{engine: engine, cats: cats, now: time.Now}
}

// WithClock replaces the clock used for "current month" queries.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type Dashboard struct {
	Currency       core.Currency
	Period         core.Period
	TotalBalance   core.Money
	MonthlyIncome  core.Money
	MonthlyExpense core.Money
	Accounts       []aggregate.AccountBalance
	Incomplete     bool
}

// Dashboard returns the total balance now and the current month's income
// and expense.
func (s *Service) Dashboard(ctx context.Context, ledgerID string) (Dashboard, error) {
	now := s.now().UTC()
	period := core.PeriodOf(core.DateOf(now))

	b, err := s.engine.Bucket(ctx, ledgerID, period)
	if err != nil {
		return Dashboard{}, err
	}
	bal, err := s.engine.Balances(ctx, ledgerID, now)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{
		Currency:       b.Currency,
		Period:         period,
		TotalBalance:   bal.Total,
		MonthlyIncome:  b.Income,
		MonthlyExpense: b.Expense,
		Accounts:       bal.Accounts,
		Incomplete:     b.Incomplete || bal.Incomplete,
	}, nil
}

// Balances returns every account's balance as of now.
func (s *Service) Balances(ctx context.Context, ledgerID string) (aggregate.Balances, error) {
	return s.engine.Balances(ctx, ledgerID, s.now().UTC())
}

type CategoryReport struct {
	Period     core.Period
	Type       core.TransactionType
	Currency   core.Currency
	Categories []core.CategoryAmount // largest first
	Total      core.Money
	Incomplete bool
}

// ByCategory lists the month's totals per category for one transaction
// type, largest first. Categories with nothing recorded are omitted.
func (s *Service) ByCategory(ctx context.Context, ledgerID string, p core.Period, typ core.TransactionType) (CategoryReport, error) {
	if typ == "" {
		typ = core.Expense
	}
	if typ != core.Income && typ != core.Expense {
		return CategoryReport{}, &core.ValidationError{Field: "type", Err: core.ErrInvalidType}
	}
	b, err := s.engine.Bucket(ctx, ledgerID, p)
	if err != nil {
		return CategoryReport{}, err
	}
	names, err := s.names(ctx, ledgerID)
	if err != nil {
		return CategoryReport{}, err
	}

	report := CategoryReport{Period: p, Type: typ, Currency: b.Currency, Incomplete: b.Incomplete}
	var total int64
	for _, c := range b.ByCategory {
		amount := c.Expense
		if typ == core.Income {
			amount = c.Income
		}
		if amount.Minor == 0 {
			continue
		}
		total += amount.Minor
		report.Categories = append(report.Categories, core.CategoryAmount{
			CategoryID: c.CategoryID,
			Name:       names.of(c.CategoryID),
			Amount:     amount,
		})
	}
	sort.SliceStable(report.Categories, func(i, j int) bool {
		a, b := report.Categories[i], report.Categories[j]
		if a.Amount.Minor != b.Amount.Minor {
			return a.Amount.Minor > b.Amount.Minor
		}
		return a.Name < b.Name
	})
	report.Total = core.NewMoney(total, b.Currency)
	return report, nil
}

// TimeSeries returns one overview per month, quarter or year between the
// two months inclusive. Groups at the edges are clipped to the range.
func (s *Service) TimeSeries(ctx context.Context, ledgerID string, from, to core.Period, g Granularity) ([]core.PeriodOverview, error) {
	months, err := span(from, to)
	if err != nil {
		return nil, err
	}
	names, err := s.names(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	var out []core.PeriodOverview
	for len(months) > 0 {
		label, n := group(months[0], g)
		if n > len(months) {
			n = len(months)
		}
		first, last := months[0], months[n-1]
		months = months[n:]

		t, err := s.engine.Summarize(ctx, ledgerID, first.Start(), last.End())
		if err != nil {
			return nil, err
		}
		out = append(out, overview(label, first.Start(), last.End(), t, names))
	}
	return out, nil
}

type IncomeVsExpenses struct {
	Currency   core.Currency
	Months     []core.PeriodOverview
	Income     core.Money
	Expense    core.Money
	Net        core.Money
	Incomplete bool
}

// IncomeVsExpenses returns monthly income, expense and net over the range
// together with the range totals.
func (s *Service) IncomeVsExpenses(ctx context.Context, ledgerID string, from, to core.Period) (IncomeVsExpenses, error) {
	months, err := span(from, to)
	if err != nil {
		return IncomeVsExpenses{}, err
	}
	var (
		out             IncomeVsExpenses
		income, expense int64
	)
	for _, p := range months {
		b, err := s.engine.Bucket(ctx, ledgerID, p)
		if err != nil {
			return IncomeVsExpenses{}, err
		}
		out.Currency = b.Currency
		income += b.Income.Minor
		expense += b.Expense.Minor
		out.Incomplete = out.Incomplete || b.Incomplete
		out.Months = append(out.Months, core.PeriodOverview{
			Label:      p.String(),
			From:       p.Start(),
			To:         p.End(),
			Income:     b.Income,
			Expense:    b.Expense,
			Incomplete: b.Incomplete,
		})
	}
	out.Income = core.NewMoney(income, out.Currency)
	out.Expense = core.NewMoney(expense, out.Currency)
	out.Net = core.NewMoney(income-expense, out.Currency)
	return out, nil
}

func span(from, to core.Period) ([]core.Period, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is before %s", core.ErrInvalidPeriod, to, from)
	}
	months := core.PeriodsBetween(from, to)
	if len(months) > maxSeriesMonths {
		return nil, fmt.Errorf("%w: range spans %d months", core.ErrInvalidPeriod, len(months))
	}
	return months, nil
}

// group returns the label of the group starting at p and how many months
// remain in it.
func group(p core.Period, g Granularity) (string, int) {
	switch g {
	case Quarter:
		q := (int(p.Month)-1)/3 + 1
		return fmt.Sprintf("%04d-Q%d", p.Year, q), 3 - (int(p.Month)-1)%3
	case Year:
		return fmt.Sprintf("%04d", p.Year), 13 - int(p.Month)
	}
	return p.String(), 1
}

func overview(label string, from, to core.Date, t aggregate.Totals, names categoryNames) core.PeriodOverview {
	o := core.PeriodOverview{
		Label:      label,
		From:       from,
		To:         to,
		Income:     t.Income,
		Expense:    t.Expense,
		Incomplete: t.Incomplete,
	}
	for _, c := range t.ByCategory {
		if c.Expense.Minor == 0 {
			continue
		}
		o.ByCategory = append(o.ByCategory, core.CategoryAmount{
			CategoryID: c.CategoryID,
			Name:       names.of(c.CategoryID),
			Amount:     c.Expense,
		})
	}
	return o
}

type categoryNames map[string]string

func (n categoryNames) of(id string) string {
	if id == "" {
		return classifier.Uncategorized
	}
	if name, ok := n[id]; ok {
		return name
	}
	return id
}

func (s *Service) names(ctx context.Context, ledgerID string) (categoryNames, error) {
	cats, err := s.cats.ListCategories(ctx, ledgerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make(categoryNames, len(cats))
	for _, c := range cats {
		out[c.ID] = c.Name
	}
	return out, nil
}
