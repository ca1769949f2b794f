package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetledger/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "ledger.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seed(t *testing.T, repo *SQLiteRepository) (core.Budget, core.Account, core.Category) {
	t.Helper()
	ctx := context.Background()
	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	b := core.Budget{ID: "b1", Name: "Home", ReportingCurrency: core.GEL, CreatedAt: created}
	a := core.Account{ID: "a1", LedgerID: b.ID, Name: "Wallet", Type: core.Cash, DefaultCurrency: core.GEL,
		InitialBalance: core.NewMoney(1000, core.GEL), IsActive: true, CreatedAt: created}
	c := core.Category{ID: "c1", LedgerID: b.ID, Name: "Food", Type: core.Expense}
	if err := repo.CreateBudget(ctx, b); err != nil {
		t.Fatalf("create budget: %v", err)
	}
	if err := repo.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := repo.CreateCategory(ctx, c); err != nil {
		t.Fatalf("create category: %v", err)
	}
	return b, a, c
}

func tx(id string, day int, minor int64) core.Transaction {
	at := time.Date(2024, 5, day, 12, 0, 0, 0, time.UTC)
	return core.Transaction{
		ID: id, LedgerID: "b1", AccountID: "a1", CategoryID: "c1",
		Amount: core.NewMoney(minor, core.GEL), Type: core.Expense,
		Description: "groceries", Merchant: "Carrefour", OriginalText: "50 GEL at Carrefour",
		OccurredAt: core.NewDate(2024, 5, day), CreatedAt: at, UpdatedAt: at, Source: core.SourceParsed,
	}
}

func TestRepositoryTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	want := tx("t1", 3, 5000)
	if err := repo.AppendTransactions(ctx, want); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := repo.GetTransaction(ctx, "b1", "t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount != want.Amount || got.Merchant != want.Merchant || got.Source != core.SourceParsed {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.OccurredAt.Equal(want.OccurredAt.Time) || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Fatalf("time mismatch: %+v", got)
	}

	if _, err := repo.GetTransaction(ctx, "other", "t1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("other ledger must not see the row, got %v", err)
	}
}

func TestRepositoryAppendIsAtomic(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	if err := repo.AppendTransactions(ctx, tx("t1", 1, 100)); err != nil {
		t.Fatalf("append: %v", err)
	}
	// The second row collides with t1, so t2 must not survive either.
	if err := repo.AppendTransactions(ctx, tx("t2", 2, 100), tx("t1", 3, 100)); err == nil {
		t.Fatal("expected duplicate id error")
	}
	list, err := repo.ListTransactions(ctx, "b1", core.TransactionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected only t1, got %d rows", len(list))
	}
}

func TestRepositoryListFilters(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	income := tx("t3", 20, 9000)
	income.Type = core.Income
	income.CategoryID = ""
	if err := repo.AppendTransactions(ctx, tx("t1", 10, 100), tx("t2", 5, 200), income); err != nil {
		t.Fatalf("append: %v", err)
	}

	tests := []struct {
		name   string
		filter core.TransactionFilter
		want   []string
	}{
		{"all ordered by date", core.TransactionFilter{}, []string{"t2", "t1", "t3"}},
		{"inclusive range", core.TransactionFilter{From: core.NewDate(2024, 5, 5), To: core.NewDate(2024, 5, 10)}, []string{"t2", "t1"}},
		{"by type", core.TransactionFilter{Type: core.Income}, []string{"t3"}},
		{"by category", core.TransactionFilter{CategoryID: "c1"}, []string{"t2", "t1"}},
		{"limit", core.TransactionFilter{Limit: 1}, []string{"t2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListTransactions(ctx, "b1", tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("want %v, got %d rows", tt.want, len(got))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Fatalf("position %d: want %s, got %s", i, tt.want[i], got[i].ID)
				}
			}
		})
	}
}

func TestRepositoryReplaceAndDelete(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	if err := repo.AppendTransactions(ctx, tx("t1", 1, 100)); err != nil {
		t.Fatalf("append: %v", err)
	}
	updated := tx("t1", 2, 250)
	updated.Notes = "split with Ana"
	if err := repo.ReplaceTransactions(ctx, updated); err != nil {
		t.Fatalf("replace: %v", err)
	}
	got, _ := repo.GetTransaction(ctx, "b1", "t1")
	if got.Amount.Minor != 250 || got.Notes != "split with Ana" || got.OccurredAt.Day() != 2 {
		t.Fatalf("replace not applied: %+v", got)
	}

	if err := repo.ReplaceTransactions(ctx, tx("missing", 1, 1)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.DeleteTransactions(ctx, "b1", "t1", "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.GetTransaction(ctx, "b1", "t1"); err != nil {
		t.Fatalf("failed delete must roll back: %v", err)
	}
	if err := repo.DeleteTransactions(ctx, "b1", "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestRepositoryTransferLegs(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	src := tx("l1", 1, -500)
	src.Type, src.CategoryID, src.TransferID, src.CounterAccountID = core.Transfer, "", "tr1", "a2"
	dst := src
	dst.ID, dst.Amount, dst.AccountID, dst.CounterAccountID = "l2", core.NewMoney(500, core.GEL), "a2", "a1"
	if err := repo.AppendTransactions(ctx, src, dst); err != nil {
		t.Fatalf("append: %v", err)
	}
	legs, err := repo.TransferLegs(ctx, "b1", "tr1")
	if err != nil {
		t.Fatalf("legs: %v", err)
	}
	if len(legs) != 2 || legs[0].Amount.Minor+legs[1].Amount.Minor != 0 {
		t.Fatalf("unexpected legs: %+v", legs)
	}
	if _, err := repo.TransferLegs(ctx, "b1", "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRepositoryAccountsAndCategories(t *testing.T) {
	repo := newTestRepo(t)
	_, account, category := seed(t, repo)
	ctx := context.Background()

	a, err := repo.GetAccount(ctx, "b1", account.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if a.InitialBalance != account.InitialBalance || !a.IsActive || a.Type != core.Cash {
		t.Fatalf("account mismatch: %+v", a)
	}

	dup := core.Category{ID: "c2", LedgerID: "b1", Name: category.Name}
	if err := repo.CreateCategory(ctx, dup); !errors.Is(err, core.ErrInUse) {
		t.Fatalf("duplicate name must be rejected, got %v", err)
	}

	category.Name = "Groceries"
	if err := repo.UpdateCategory(ctx, category); err != nil {
		t.Fatalf("update category: %v", err)
	}
	if err := repo.AppendTransactions(ctx, tx("t1", 1, 100)); err != nil {
		t.Fatalf("append: %v", err)
	}
	n, err := repo.CountByCategory(ctx, "b1", category.ID)
	if err != nil || n != 1 {
		t.Fatalf("count: n=%d err=%v", n, err)
	}
	if err := repo.DeleteCategory(ctx, "b1", "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRepositoryRates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	day1 := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	rates := []core.ExchangeRate{
		{Base: core.USD, Quote: core.GEL, Rate: decimal.RequireFromString("2.70"), AsOf: day2},
		{Base: core.USD, Quote: core.GEL, Rate: decimal.RequireFromString("2.65"), AsOf: day1},
	}
	for _, r := range rates {
		if err := repo.AppendRate(ctx, r); err != nil {
			t.Fatalf("append rate: %v", err)
		}
	}
	got, err := repo.ListRates(ctx)
	if err != nil {
		t.Fatalf("list rates: %v", err)
	}
	if len(got) != 2 || !got[0].AsOf.Equal(day1) || !got[0].Rate.Equal(decimal.RequireFromString("2.65")) {
		t.Fatalf("rates not ordered by as_of: %+v", got)
	}
}

func TestRepositoryRecurringRules(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo)
	ctx := context.Background()

	rule := core.RecurringRule{
		ID:        "r1",
		LedgerID:  "b1",
		Template:  tx("", 1, 120000),
		Every:     core.Monthly,
		StartDate: core.NewDate(2024, 1, 1),
	}
	if err := repo.CreateRecurringRule(ctx, rule); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	rule.LastRun = core.NewDate(2024, 5, 1)
	if err := repo.UpdateRecurringRule(ctx, rule); err != nil {
		t.Fatalf("update rule: %v", err)
	}

	for _, ledgerID := range []string{"b1", ""} {
		rules, err := repo.ListRecurringRules(ctx, ledgerID)
		if err != nil {
			t.Fatalf("list rules: %v", err)
		}
		if len(rules) != 1 || rules[0].LastRun.String() != "2024-05-01" || rules[0].Template.Amount.Minor != 120000 {
			t.Fatalf("unexpected rules for %q: %+v", ledgerID, rules)
		}
		if !rules[0].EndDate.IsZero() {
			t.Fatalf("open-ended rule should have zero end date")
		}
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	first, err := Migrate(path)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if first != 1 {
		t.Errorf("schema version = %d, want 1", first)
	}
	second, err := Migrate(path)
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if second != first {
		t.Errorf("second Migrate() version = %d, want %d", second, first)
	}
}
