package ledger

import (
	"context"
	"errors"
	"fmt"

	"budgetledger/internal/core"
)

// Accounts

func (l *Ledger) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if a.InitialBalance.Currency == "" {
		a.InitialBalance = core.NewMoney(a.InitialBalance.Minor, a.DefaultCurrency)
	}
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	a.ID = core.NewID()
	a.IsActive = true
	a.CreatedAt = l.now().UTC()
	a.Balance = core.Money{}

	err := l.write(ctx, a.LedgerID, func(ctx context.Context) (Event, error) {
		if _, err := l.repo.GetBudget(ctx, a.LedgerID); err != nil {
			return Event{}, err
		}
		if err := l.repo.CreateAccount(ctx, a); err != nil {
			return Event{}, fmt.Errorf("create account: %w", err)
		}
		return Event{LedgerID: a.LedgerID, Kind: AccountCreated, AccountIDs: []string{a.ID}, At: a.CreatedAt}, nil
	})
	if err != nil {
		return core.Account{}, err
	}
	return a, nil
}

func (l *Ledger) GetAccount(ctx context.Context, ledgerID, id string) (core.Account, error) {
	return l.repo.GetAccount(ctx, ledgerID, id)
}

func (l *Ledger) ListAccounts(ctx context.Context, ledgerID string) ([]core.Account, error) {
	return l.repo.ListAccounts(ctx, ledgerID)
}

// Categories

func (l *Ledger) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	c.ID = core.NewID()
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	err := l.write(ctx, c.LedgerID, func(ctx context.Context) (Event, error) {
		if _, err := l.repo.GetBudget(ctx, c.LedgerID); err != nil {
			return Event{}, err
		}
		if err := l.checkParent(ctx, c); err != nil {
			return Event{}, err
		}
		if err := l.repo.CreateCategory(ctx, c); err != nil {
			return Event{}, fmt.Errorf("create category: %w", err)
		}
		return Event{LedgerID: c.LedgerID, Kind: CategoryChanged, CategoryIDs: []string{c.ID}, At: l.now().UTC()}, nil
	})
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

// UpdateCategory renames or re-parents a category, rejecting parent cycles.
func (l *Ledger) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	if err := c.Validate(); err != nil {
		return core.Category{}, err
	}
	err := l.write(ctx, c.LedgerID, func(ctx context.Context) (Event, error) {
		if _, err := l.repo.GetCategory(ctx, c.LedgerID, c.ID); err != nil {
			return Event{}, err
		}
		if err := l.checkParent(ctx, c); err != nil {
			return Event{}, err
		}
		if err := l.repo.UpdateCategory(ctx, c); err != nil {
			return Event{}, fmt.Errorf("update category: %w", err)
		}
		return Event{LedgerID: c.LedgerID, Kind: CategoryChanged, CategoryIDs: []string{c.ID}, At: l.now().UTC()}, nil
	})
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

// DeleteCategory removes a category no transaction or child references.
func (l *Ledger) DeleteCategory(ctx context.Context, ledgerID, id string) error {
	return l.write(ctx, ledgerID, func(ctx context.Context) (Event, error) {
		if _, err := l.repo.GetCategory(ctx, ledgerID, id); err != nil {
			return Event{}, err
		}
		n, err := l.repo.CountByCategory(ctx, ledgerID, id)
		if err != nil {
			return Event{}, err
		}
		if n > 0 {
			return Event{}, fmt.Errorf("%w: category has %d transactions", core.ErrInUse, n)
		}
		cats, err := l.repo.ListCategories(ctx, ledgerID)
		if err != nil {
			return Event{}, err
		}
		for _, c := range cats {
			if c.ParentID == id {
				return Event{}, fmt.Errorf("%w: category %s is a parent", core.ErrInUse, id)
			}
		}
		if err := l.repo.DeleteCategory(ctx, ledgerID, id); err != nil {
			return Event{}, fmt.Errorf("delete category: %w", err)
		}
		return Event{LedgerID: ledgerID, Kind: CategoryChanged, CategoryIDs: []string{id}, At: l.now().UTC()}, nil
	})
}

func (l *Ledger) GetCategory(ctx context.Context, ledgerID, id string) (core.Category, error) {
	return l.repo.GetCategory(ctx, ledgerID, id)
}

func (l *Ledger) ListCategories(ctx context.Context, ledgerID string) ([]core.Category, error) {
	return l.repo.ListCategories(ctx, ledgerID)
}

// checkParent walks up from c's parent and fails if it reaches c.
func (l *Ledger) checkParent(ctx context.Context, c core.Category) error {
	seen := map[string]bool{c.ID: true}
	for parent := c.ParentID; parent != ""; {
		if seen[parent] {
			return &core.ValidationError{Field: "parent_id", Err: core.ErrCategoryCycle}
		}
		seen[parent] = true
		p, err := l.repo.GetCategory(ctx, c.LedgerID, parent)
		if errors.Is(err, core.ErrNotFound) {
			return &core.ValidationError{Field: "parent_id", Err: core.ErrInvalidCategory}
		}
		if err != nil {
			return err
		}
		parent = p.ParentID
	}
	return nil
}

// Rates

// AppendRate persists a rate observation. Rates are global, not per ledger.
func (l *Ledger) AppendRate(ctx context.Context, r core.ExchangeRate) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.AsOf = r.AsOf.UTC()
	return l.repo.AppendRate(ctx, r)
}

func (l *Ledger) ListRates(ctx context.Context) ([]core.ExchangeRate, error) {
	return l.repo.ListRates(ctx)
}

// Recurring rules

func (l *Ledger) CreateRecurringRule(ctx context.Context, r core.RecurringRule) (core.RecurringRule, error) {
	if err := r.Validate(); err != nil {
		return core.RecurringRule{}, err
	}
	r.ID = core.NewID()
	if _, err := l.repo.GetBudget(ctx, r.LedgerID); err != nil {
		return core.RecurringRule{}, err
	}
	if _, err := l.repo.GetAccount(ctx, r.LedgerID, r.Template.AccountID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return core.RecurringRule{}, &core.ValidationError{Field: "account_id", Err: core.ErrInvalidAccount}
		}
		return core.RecurringRule{}, err
	}
	if err := l.repo.CreateRecurringRule(ctx, r); err != nil {
		return core.RecurringRule{}, fmt.Errorf("create recurring rule: %w", err)
	}
	return r, nil
}

func (l *Ledger) UpdateRecurringRule(ctx context.Context, r core.RecurringRule) error {
	return l.repo.UpdateRecurringRule(ctx, r)
}

func (l *Ledger) ListRecurringRules(ctx context.Context, ledgerID string) ([]core.RecurringRule, error) {
	return l.repo.ListRecurringRules(ctx, ledgerID)
}
