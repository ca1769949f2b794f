// Package memory is an in-process ledger.Repository used for development
// and tests. Multi-record writes are checked in full before any record is
// touched.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"budgetledger/internal/core"
	"budgetledger/internal/ledger"
)

var _ ledger.Repository = (*Store)(nil)

type Store struct {
	mu         sync.RWMutex
	budgets    map[string]core.Budget
	accounts   map[string]core.Account
	categories map[string]core.Category
	txs        map[string]core.Transaction
	rates      []core.ExchangeRate
	rules      map[string]core.RecurringRule
}

func New() *Store {
	return &Store{
		budgets:    map[string]core.Budget{},
		accounts:   map[string]core.Account{},
		categories: map[string]core.Category{},
		txs:        map[string]core.Transaction{},
		rules:      map[string]core.RecurringRule{},
	}
}

func (s *Store) Close() error { return nil }

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
}

// Budgets

func (s *Store) CreateBudget(_ context.Context, b core.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.budgets[b.ID]; ok {
		return fmt.Errorf("budget %s already exists", b.ID)
	}
	s.budgets[b.ID] = b
	return nil
}

func (s *Store) GetBudget(_ context.Context, id string) (core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.budgets[id]
	if !ok {
		return core.Budget{}, notFound("budget", id)
	}
	return b, nil
}

func (s *Store) ListBudgets(_ context.Context) ([]core.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Budget, 0, len(s.budgets))
	for _, b := range s.budgets {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Transactions

func (s *Store) AppendTransactions(_ context.Context, txs ...core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		if _, ok := s.txs[tx.ID]; ok {
			return fmt.Errorf("transaction %s already exists", tx.ID)
		}
	}
	for _, tx := range txs {
		s.txs[tx.ID] = tx
	}
	return nil
}

func (s *Store) ReplaceTransactions(_ context.Context, txs ...core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tx := range txs {
		if old, ok := s.txs[tx.ID]; !ok || old.LedgerID != tx.LedgerID {
			return notFound("transaction", tx.ID)
		}
	}
	for _, tx := range txs {
		s.txs[tx.ID] = tx
	}
	return nil
}

func (s *Store) DeleteTransactions(_ context.Context, ledgerID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if tx, ok := s.txs[id]; !ok || tx.LedgerID != ledgerID {
			return notFound("transaction", id)
		}
	}
	for _, id := range ids {
		delete(s.txs, id)
	}
	return nil
}

func (s *Store) GetTransaction(_ context.Context, ledgerID, id string) (core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	if !ok || tx.LedgerID != ledgerID {
		return core.Transaction{}, notFound("transaction", id)
	}
	return tx, nil
}

func (s *Store) ListTransactions(_ context.Context, ledgerID string, f core.TransactionFilter) ([]core.Transaction, error) {
	s.mu.RLock()
	out := make([]core.Transaction, 0)
	for _, tx := range s.txs {
		if tx.LedgerID == ledgerID && f.Matches(tx) {
			out = append(out, tx)
		}
	}
	s.mu.RUnlock()

	sortTransactions(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) TransferLegs(_ context.Context, ledgerID, transferID string) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.LedgerID == ledgerID && transferID != "" && tx.TransferID == transferID {
			out = append(out, tx)
		}
	}
	if len(out) == 0 {
		return nil, notFound("transfer", transferID)
	}
	sortTransactions(out)
	return out, nil
}

func (s *Store) CountByCategory(_ context.Context, ledgerID, categoryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, tx := range s.txs {
		if tx.LedgerID == ledgerID && tx.CategoryID == categoryID {
			n++
		}
	}
	for _, r := range s.rules {
		if r.LedgerID == ledgerID && r.Template.CategoryID == categoryID {
			n++
		}
	}
	return n, nil
}

func sortTransactions(txs []core.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.OccurredAt.Equal(b.OccurredAt.Time) {
			return a.OccurredAt.Before(b.OccurredAt.Time)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// Accounts

func (s *Store) CreateAccount(_ context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) GetAccount(_ context.Context, ledgerID, id string) (core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok || a.LedgerID != ledgerID {
		return core.Account{}, notFound("account", id)
	}
	return a, nil
}

func (s *Store) ListAccounts(_ context.Context, ledgerID string) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Account, 0)
	for _, a := range s.accounts {
		if a.LedgerID == ledgerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Categories

func (s *Store) CreateCategory(_ context.Context, c core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.categories {
		if existing.LedgerID == c.LedgerID && existing.Name == c.Name {
			return fmt.Errorf("category %q: %w", c.Name, core.ErrInUse)
		}
	}
	s.categories[c.ID] = c
	return nil
}

func (s *Store) UpdateCategory(_ context.Context, c core.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.categories[c.ID]; !ok || old.LedgerID != c.LedgerID {
		return notFound("category", c.ID)
	}
	s.categories[c.ID] = c
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, ledgerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.categories[id]; !ok || c.LedgerID != ledgerID {
		return notFound("category", id)
	}
	delete(s.categories, id)
	return nil
}

func (s *Store) GetCategory(_ context.Context, ledgerID, id string) (core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok || c.LedgerID != ledgerID {
		return core.Category{}, notFound("category", id)
	}
	return c, nil
}

func (s *Store) ListCategories(_ context.Context, ledgerID string) ([]core.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Category, 0)
	for _, c := range s.categories {
		if c.LedgerID == ledgerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Rates

func (s *Store) AppendRate(_ context.Context, r core.ExchangeRate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.rates {
		if existing.Base == r.Base && existing.Quote == r.Quote && existing.AsOf.Equal(r.AsOf) {
			s.rates[i] = r
			return nil
		}
	}
	s.rates = append(s.rates, r)
	return nil
}

func (s *Store) ListRates(_ context.Context) ([]core.ExchangeRate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]core.ExchangeRate(nil), s.rates...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].AsOf.Before(out[j].AsOf) })
	return out, nil
}

// Recurring rules

func (s *Store) CreateRecurringRule(_ context.Context, r core.RecurringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return nil
}

func (s *Store) UpdateRecurringRule(_ context.Context, r core.RecurringRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[r.ID]; !ok {
		return notFound("recurring rule", r.ID)
	}
	s.rules[r.ID] = r
	return nil
}

func (s *Store) ListRecurringRules(_ context.Context, ledgerID string) ([]core.RecurringRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RecurringRule, 0)
	for _, r := range s.rules {
		if ledgerID == "" || r.LedgerID == ledgerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
