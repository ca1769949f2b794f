// Package ledger is the system of record for transactions, accounts and
// categories.
//
// Every mutation of a ledger runs inside that ledger's exclusive section and
// reaches storage as a single all-or-nothing write. Transfers are stored as
// two legs with opposite signs sharing a TransferID; both legs are written,
// mirrored on update and deleted together. Committed mutations are announced
// to listeners before the section is released.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"budgetledger/internal/core"
)

type Ledger struct {
	repo   Repository
	locks  *Locks
	now    func() time.Time
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

func New(repo Repository, locks *Locks, logger *slog.Logger) *Ledger {
	if locks == nil {
		locks = NewLocks()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:   repo,
		locks:  locks,
		now:    time.Now,
		logger: logger.With("component", "ledger"),
	}
}

// Locks exposes the per-ledger sections so aggregation can exclude writers.
func (l *Ledger) Locks() *Locks { return l.locks }

// Repository exposes the backing store for read paths.
func (l *Ledger) Repository() Repository { return l.repo }

// Subscribe registers a listener for committed mutations.
func (l *Ledger) Subscribe(lis Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, lis)
}

func (l *Ledger) emit(ev Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, lis := range l.listeners {
		lis.LedgerChanged(ev)
	}
}

// write runs fn inside the ledger's exclusive section. Waiting for the
// section honours ctx; once inside, fn runs with a context that is no
// longer cancelled by the caller so a started write is never torn.
func (l *Ledger) write(ctx context.Context, ledgerID string, fn func(ctx context.Context) (Event, error)) error {
	unlock, err := l.locks.Lock(ctx, ledgerID)
	if err != nil {
		return err
	}
	defer unlock()

	ev, err := fn(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	l.emit(ev)
	return nil
}

// Budgets

func (l *Ledger) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	b.ID = core.NewID()
	b.CreatedAt = l.now().UTC()
	if err := l.repo.CreateBudget(ctx, b); err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	return b, nil
}

func (l *Ledger) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	return l.repo.GetBudget(ctx, id)
}

func (l *Ledger) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	return l.repo.ListBudgets(ctx)
}

// Transactions

// Append validates and stores tx. For a transfer, tx.Amount is the positive
// amount moved from tx.AccountID to tx.CounterAccountID and the returned
// transaction is the source leg.
func (l *Ledger) Append(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	now := l.now().UTC()
	tx.ID = core.NewID()
	tx.CreatedAt, tx.UpdatedAt = now, now
	if tx.Source == "" {
		tx.Source = core.SourceManual
	}

	legs := []core.Transaction{tx}
	if tx.Type == core.Transfer {
		if tx.Amount.Minor <= 0 {
			return core.Transaction{}, &core.ValidationError{Field: "amount", Err: core.ErrInvalidAmount}
		}
		if tx.CounterAccountID == "" || tx.CounterAccountID == tx.AccountID {
			return core.Transaction{}, fmt.Errorf("%w: a transfer needs a distinct counter account", core.ErrUnbalancedTransfer)
		}
		counter := tx
		counter.ID = core.NewID()
		counter.AccountID, counter.CounterAccountID = tx.CounterAccountID, tx.AccountID
		tx.TransferID = core.NewID()
		counter.TransferID = tx.TransferID
		tx.Amount = tx.Amount.Neg()
		legs = []core.Transaction{tx, counter}
	}
	for _, leg := range legs {
		if err := leg.Validate(); err != nil {
			return core.Transaction{}, err
		}
	}

	err := l.write(ctx, tx.LedgerID, func(ctx context.Context) (Event, error) {
		if len(legs) == 2 {
			if _, err := l.repo.GetAccount(ctx, tx.LedgerID, legs[1].AccountID); errors.Is(err, core.ErrNotFound) {
				return Event{}, fmt.Errorf("%w: counter account %s not in ledger", core.ErrUnbalancedTransfer, legs[1].AccountID)
			}
		}
		if err := l.checkRefs(ctx, legs...); err != nil {
			return Event{}, err
		}
		if err := l.repo.AppendTransactions(ctx, legs...); err != nil {
			return Event{}, fmt.Errorf("append transaction: %w", err)
		}
		return eventFor(TransactionCreated, tx.LedgerID, now, legs...), nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	l.logger.InfoContext(ctx, "Transaction appended",
		"ledger_id", tx.LedgerID,
		"transaction_id", tx.ID,
		"transaction_type", tx.Type,
		"amount_minor", tx.Amount.Minor,
		"currency", tx.Amount.Currency)
	return legs[0], nil
}

// Update applies patch to one transaction. An amount given as text takes
// the currency stored at the time of the write. Patching a transfer leg
// mirrors amount, date, description and notes onto its counter-leg.
func (l *Ledger) Update(ctx context.Context, ledgerID, id string, patch core.TransactionPatch) (core.Transaction, error) {
	var updated core.Transaction
	err := l.write(ctx, ledgerID, func(ctx context.Context) (Event, error) {
		old, err := l.repo.GetTransaction(ctx, ledgerID, id)
		if err != nil {
			return Event{}, err
		}
		patch, err = patch.Resolve(old)
		if err != nil {
			return Event{}, err
		}
		if patch.Type != nil && (*patch.Type == core.Transfer) != (old.Type == core.Transfer) {
			return Event{}, &core.ValidationError{Field: "type", Err: core.ErrInvalidType}
		}

		now := l.now().UTC()
		next := patch.Apply(old)
		next.UpdatedAt = now
		before := []core.Transaction{old}
		after := []core.Transaction{next}

		if old.Type == core.Transfer {
			counterOld, err := l.counterLeg(ctx, old)
			if err != nil {
				return Event{}, err
			}
			if patch.Amount != nil {
				amount := patch.Amount.Abs()
				if old.Amount.Minor < 0 {
					amount = amount.Neg()
				}
				next.Amount = amount
			}
			counter := counterOld
			counter.Amount = next.Amount.Neg()
			counter.OccurredAt = next.OccurredAt
			counter.Description = next.Description
			counter.Notes = next.Notes
			counter.CounterAccountID = next.AccountID
			counter.UpdatedAt = now
			next.CounterAccountID = counter.AccountID
			before = append(before, counterOld)
			after = []core.Transaction{next, counter}
		}

		for _, tx := range after {
			if err := tx.Validate(); err != nil {
				return Event{}, err
			}
		}
		if err := l.checkRefs(ctx, after...); err != nil {
			return Event{}, err
		}
		if err := l.repo.ReplaceTransactions(ctx, after...); err != nil {
			return Event{}, fmt.Errorf("update transaction: %w", err)
		}
		updated = after[0]
		return eventFor(TransactionUpdated, ledgerID, now, append(before, after...)...), nil
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return updated, nil
}

// Remove deletes a transaction, and its counter-leg for transfers.
func (l *Ledger) Remove(ctx context.Context, ledgerID, id string) error {
	return l.write(ctx, ledgerID, func(ctx context.Context) (Event, error) {
		tx, err := l.repo.GetTransaction(ctx, ledgerID, id)
		if err != nil {
			return Event{}, err
		}
		victims := []core.Transaction{tx}
		if tx.Type == core.Transfer {
			counter, err := l.counterLeg(ctx, tx)
			if err != nil {
				return Event{}, err
			}
			victims = append(victims, counter)
		}
		ids := make([]string, len(victims))
		for i, v := range victims {
			ids[i] = v.ID
		}
		if err := l.repo.DeleteTransactions(ctx, ledgerID, ids...); err != nil {
			return Event{}, fmt.Errorf("remove transaction: %w", err)
		}
		return eventFor(TransactionDeleted, ledgerID, l.now().UTC(), victims...), nil
	})
}

func (l *Ledger) Get(ctx context.Context, ledgerID, id string) (core.Transaction, error) {
	return l.repo.GetTransaction(ctx, ledgerID, id)
}

func (l *Ledger) List(ctx context.Context, ledgerID string, f core.TransactionFilter) ([]core.Transaction, error) {
	return l.repo.ListTransactions(ctx, ledgerID, f)
}

func (l *Ledger) counterLeg(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	legs, err := l.repo.TransferLegs(ctx, tx.LedgerID, tx.TransferID)
	if err != nil {
		return core.Transaction{}, err
	}
	for _, leg := range legs {
		if leg.ID != tx.ID {
			return leg, nil
		}
	}
	return core.Transaction{}, fmt.Errorf("%w: transfer %s has no counter-leg", core.ErrUnbalancedTransfer, tx.TransferID)
}

// checkRefs verifies accounts and categories belong to the ledger and that
// transfer legs pair up.
func (l *Ledger) checkRefs(ctx context.Context, txs ...core.Transaction) error {
	for _, tx := range txs {
		if _, err := l.repo.GetBudget(ctx, tx.LedgerID); err != nil {
			return &core.ValidationError{Field: "ledger_id", Err: err}
		}
		if _, err := l.repo.GetAccount(ctx, tx.LedgerID, tx.AccountID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return &core.ValidationError{Field: "account_id", Err: core.ErrInvalidAccount}
			}
			return err
		}
		if tx.CategoryID != "" {
			if _, err := l.repo.GetCategory(ctx, tx.LedgerID, tx.CategoryID); err != nil {
				if errors.Is(err, core.ErrNotFound) {
					return &core.ValidationError{Field: "category_id", Err: core.ErrInvalidCategory}
				}
				return err
			}
		}
	}
	if len(txs) == 2 && txs[0].Type == core.Transfer {
		return checkPair(txs[0], txs[1])
	}
	for _, tx := range txs {
		if tx.Type == core.Transfer {
			return fmt.Errorf("%w: transfer %s written without its counter-leg", core.ErrUnbalancedTransfer, tx.ID)
		}
	}
	return nil
}

func checkPair(a, b core.Transaction) error {
	switch {
	case a.TransferID == "" || a.TransferID != b.TransferID:
		return fmt.Errorf("%w: legs do not share a transfer id", core.ErrUnbalancedTransfer)
	case a.AccountID == b.AccountID:
		return fmt.Errorf("%w: both legs on account %s", core.ErrUnbalancedTransfer, a.AccountID)
	case a.Amount.Currency != b.Amount.Currency || a.Amount.Minor+b.Amount.Minor != 0:
		return fmt.Errorf("%w: legs %s and %s do not net to zero", core.ErrUnbalancedTransfer, a.Amount, b.Amount)
	case a.Type != core.Transfer || b.Type != core.Transfer:
		return fmt.Errorf("%w: mixed leg types", core.ErrUnbalancedTransfer)
	}
	return nil
}
