package ledger

import (
	"context"

	"budgetledger/internal/core"
)

// Ports for storage backends. Lookups of missing records return an error
// wrapping core.ErrNotFound. Multi-record writes are all-or-nothing.
type (
	BudgetStore interface {
		CreateBudget(ctx context.Context, b core.Budget) error
		GetBudget(ctx context.Context, id string) (core.Budget, error)
		ListBudgets(ctx context.Context) ([]core.Budget, error)
	}

	TransactionStore interface {
		// AppendTransactions inserts every transaction or none.
		AppendTransactions(ctx context.Context, txs ...core.Transaction) error
		// ReplaceTransactions overwrites existing rows, all or none.
		ReplaceTransactions(ctx context.Context, txs ...core.Transaction) error
		// DeleteTransactions removes rows of one ledger, all or none.
		DeleteTransactions(ctx context.Context, ledgerID string, ids ...string) error
		GetTransaction(ctx context.Context, ledgerID, id string) (core.Transaction, error)
		// ListTransactions returns matches ordered by occurred_at, created_at, id.
		ListTransactions(ctx context.Context, ledgerID string, f core.TransactionFilter) ([]core.Transaction, error)
		TransferLegs(ctx context.Context, ledgerID, transferID string) ([]core.Transaction, error)
		// CountByCategory reports how many transactions or rules reference a category.
		CountByCategory(ctx context.Context, ledgerID, categoryID string) (int, error)
	}

	AccountStore interface {
		CreateAccount(ctx context.Context, a core.Account) error
		GetAccount(ctx context.Context, ledgerID, id string) (core.Account, error)
		ListAccounts(ctx context.Context, ledgerID string) ([]core.Account, error)
	}

	CategoryStore interface {
		CreateCategory(ctx context.Context, c core.Category) error
		UpdateCategory(ctx context.Context, c core.Category) error
		DeleteCategory(ctx context.Context, ledgerID, id string) error
		GetCategory(ctx context.Context, ledgerID, id string) (core.Category, error)
		ListCategories(ctx context.Context, ledgerID string) ([]core.Category, error)
	}

	RateStore interface {
		AppendRate(ctx context.Context, r core.ExchangeRate) error
		ListRates(ctx context.Context) ([]core.ExchangeRate, error)
	}

	RuleStore interface {
		CreateRecurringRule(ctx context.Context, r core.RecurringRule) error
		UpdateRecurringRule(ctx context.Context, r core.RecurringRule) error
		// ListRecurringRules lists the rules of one ledger, or of all ledgers when ledgerID is empty.
		ListRecurringRules(ctx context.Context, ledgerID string) ([]core.RecurringRule, error)
	}

	// Repository is the full system of record.
	Repository interface {
		BudgetStore
		TransactionStore
		AccountStore
		CategoryStore
		RateStore
		RuleStore
		Close() error
	}
)
