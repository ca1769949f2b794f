package analytics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetledger/internal/aggregate"
	"budgetledger/internal/analytics"
	"budgetledger/internal/core"
	"budgetledger/internal/ledger"
	"budgetledger/internal/ledger/memory"
	"budgetledger/internal/rates"
)

type fixture struct {
	svc      *analytics.Service
	l        *ledger.Ledger
	budgetID string
	wallet   string
	cats     map[string]string
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	l := ledger.New(store, nil, nil)
	table := rates.NewTable()
	if err := table.SetRate(core.EUR, core.USD, decimal.RequireFromString("1.10"), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("rate: %v", err)
	}
	engine := aggregate.New(store, table, l.Locks(), nil)
	l.Subscribe(engine)

	b, err := l.CreateBudget(ctx, core.Budget{Name: "Home", ReportingCurrency: core.USD})
	if err != nil {
		t.Fatalf("budget: %v", err)
	}
	a, err := l.CreateAccount(ctx, core.Account{LedgerID: b.ID, Name: "Card", Type: core.Bank, DefaultCurrency: core.USD, InitialBalance: core.NewMoney(100000, core.USD)})
	if err != nil {
		t.Fatalf("account: %v", err)
	}
	cats := map[string]string{}
	for _, c := range []core.Category{
		{LedgerID: b.ID, Name: "Food", Type: core.Expense},
		{LedgerID: b.ID, Name: "Rent", Type: core.Expense},
		{LedgerID: b.ID, Name: "Salary", Type: core.Income},
	} {
		created, err := l.CreateCategory(ctx, c)
		if err != nil {
			t.Fatalf("category: %v", err)
		}
		cats[c.Name] = created.ID
	}

	svc := analytics.New(engine, l).WithClock(func() time.Time {
		return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	})
	return fixture{svc: svc, l: l, budgetID: b.ID, wallet: a.ID, cats: cats}
}

func (f fixture) add(t *testing.T, typ core.TransactionType, m core.Money, on core.Date, category string) {
	t.Helper()
	_, err := f.l.Append(context.Background(), core.Transaction{
		LedgerID: f.budgetID, AccountID: f.wallet, Amount: m, Type: typ,
		CategoryID: f.cats[category], OccurredAt: on,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
}

func seedQuarter(t *testing.T, f fixture) {
	f.add(t, core.Income, core.NewMoney(300000, core.USD), core.NewDate(2024, 1, 1), "Salary")
	f.add(t, core.Expense, core.NewMoney(120000, core.USD), core.NewDate(2024, 1, 2), "Rent")
	f.add(t, core.Expense, core.NewMoney(10000, core.EUR), core.NewDate(2024, 1, 15), "Food")
	f.add(t, core.Income, core.NewMoney(300000, core.USD), core.NewDate(2024, 2, 1), "Salary")
	f.add(t, core.Expense, core.NewMoney(120000, core.USD), core.NewDate(2024, 2, 2), "Rent")
	f.add(t, core.Expense, core.NewMoney(5000, core.USD), core.NewDate(2024, 3, 10), "Food")
	f.add(t, core.Expense, core.NewMoney(700, core.USD), core.NewDate(2024, 3, 11), "")
}

func TestDashboard(t *testing.T) {
	f := setup(t)
	seedQuarter(t, f)

	d, err := f.svc.Dashboard(context.Background(), f.budgetID)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if d.Period.String() != "2024-03" {
		t.Fatalf("want current month 2024-03, got %s", d.Period)
	}
	if d.MonthlyIncome.Minor != 0 || d.MonthlyExpense.Minor != 5700 {
		t.Fatalf("unexpected month totals: %s / %s", d.MonthlyIncome, d.MonthlyExpense)
	}
	// 1000 + 3000 - 1200 - 110 + 3000 - 1200 - 50 - 7
	if d.TotalBalance != core.NewMoney(443300, core.USD) {
		t.Fatalf("want 4433.00 USD, got %s", d.TotalBalance)
	}
}

func TestByCategory(t *testing.T) {
	f := setup(t)
	seedQuarter(t, f)
	ctx := context.Background()

	jan := core.Period{Year: 2024, Month: time.January}
	report, err := f.svc.ByCategory(ctx, f.budgetID, jan, "")
	if err != nil {
		t.Fatalf("by category: %v", err)
	}
	if len(report.Categories) != 2 {
		t.Fatalf("want Rent and Food, got %+v", report.Categories)
	}
	if report.Categories[0].Name != "Rent" || report.Categories[1].Name != "Food" {
		t.Fatalf("want largest first, got %+v", report.Categories)
	}
	if report.Categories[1].Amount.Minor != 11000 || report.Total.Minor != 131000 {
		t.Fatalf("unexpected amounts: %+v total %s", report.Categories, report.Total)
	}

	income, err := f.svc.ByCategory(ctx, f.budgetID, jan, core.Income)
	if err != nil {
		t.Fatalf("income by category: %v", err)
	}
	if len(income.Categories) != 1 || income.Categories[0].Name != "Salary" {
		t.Fatalf("unexpected income categories: %+v", income.Categories)
	}

	mar := core.Period{Year: 2024, Month: time.March}
	report, _ = f.svc.ByCategory(ctx, f.budgetID, mar, core.Expense)
	if report.Categories[len(report.Categories)-1].Name != "Uncategorized" {
		t.Fatalf("uncategorized spending must be listed, got %+v", report.Categories)
	}

	if _, err := f.svc.ByCategory(ctx, f.budgetID, mar, core.Transfer); !errors.Is(err, core.ErrInvalidType) {
		t.Fatalf("expected invalid type, got %v", err)
	}
}

func TestTimeSeriesGranularity(t *testing.T) {
	f := setup(t)
	seedQuarter(t, f)
	ctx := context.Background()
	from := core.Period{Year: 2024, Month: time.January}
	to := core.Period{Year: 2024, Month: time.April}

	tests := []struct {
		g      analytics.Granularity
		labels []string
	}{
		{analytics.Month, []string{"2024-01", "2024-02", "2024-03", "2024-04"}},
		{analytics.Quarter, []string{"2024-Q1", "2024-Q2"}},
		{analytics.Year, []string{"2024"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.g), func(t *testing.T) {
			series, err := f.svc.TimeSeries(ctx, f.budgetID, from, to, tt.g)
			if err != nil {
				t.Fatalf("time series: %v", err)
			}
			if len(series) != len(tt.labels) {
				t.Fatalf("want %v, got %d buckets", tt.labels, len(series))
			}
			var expense int64
			for i, o := range series {
				if o.Label != tt.labels[i] {
					t.Fatalf("bucket %d: want %s, got %s", i, tt.labels[i], o.Label)
				}
				expense += o.Expense.Minor
			}
			if expense != 256700 {
				t.Fatalf("series must cover every expense, got %d", expense)
			}
		})
	}

	if _, err := f.svc.TimeSeries(ctx, f.budgetID, to, from, analytics.Month); !errors.Is(err, core.ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
}

func TestIncomeVsExpenses(t *testing.T) {
	f := setup(t)
	seedQuarter(t, f)

	got, err := f.svc.IncomeVsExpenses(context.Background(), f.budgetID,
		core.Period{Year: 2024, Month: time.January}, core.Period{Year: 2024, Month: time.March})
	if err != nil {
		t.Fatalf("income vs expenses: %v", err)
	}
	if len(got.Months) != 3 {
		t.Fatalf("want 3 months, got %d", len(got.Months))
	}
	if got.Income.Minor != 600000 || got.Expense.Minor != 256700 || got.Net.Minor != 343300 {
		t.Fatalf("unexpected totals: %s %s %s", got.Income, got.Expense, got.Net)
	}
	if net := got.Months[0].Net(); net.Minor != 300000-131000 {
		t.Fatalf("unexpected January net %d", net.Minor)
	}
}

func TestParseGranularity(t *testing.T) {
	for in, want := range map[string]analytics.Granularity{"": analytics.Month, "Quarter": analytics.Quarter, " year ": analytics.Year} {
		got, err := analytics.ParseGranularity(in)
		if err != nil || got != want {
			t.Fatalf("%q: want %s, got %s (%v)", in, want, got, err)
		}
	}
	if _, err := analytics.ParseGranularity("week"); !errors.Is(err, core.ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
}
