package ledger

import (
	"time"

	"budgetledger/internal/core"
)

type EventKind string

const (
	TransactionCreated EventKind = "transaction_created"
	TransactionUpdated EventKind = "transaction_updated"
	TransactionDeleted EventKind = "transaction_deleted"
	AccountCreated     EventKind = "account_created"
	CategoryChanged    EventKind = "category_changed"
)

// Event describes a committed mutation and the buckets it touched.
type Event struct {
	LedgerID       string
	Kind           EventKind
	Periods        []core.Period
	CategoryIDs    []string
	TransactionIDs []string
	AccountIDs     []string
	At             time.Time
}

// Listener receives events while the ledger's exclusive section is still
// held, so it must not block or call back into the ledger.
type Listener interface {
	LedgerChanged(ev Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) LedgerChanged(ev Event) { f(ev) }

// eventFor collects the periods, categories and accounts of the given
// transaction versions.
func eventFor(kind EventKind, ledgerID string, at time.Time, txs ...core.Transaction) Event {
	ev := Event{LedgerID: ledgerID, Kind: kind, At: at}
	periods := map[core.Period]bool{}
	cats := map[string]bool{}
	ids := map[string]bool{}
	accounts := map[string]bool{}
	for _, tx := range txs {
		if p := core.PeriodOf(tx.OccurredAt); !periods[p] {
			periods[p] = true
			ev.Periods = append(ev.Periods, p)
		}
		if tx.CategoryID != "" && !cats[tx.CategoryID] {
			cats[tx.CategoryID] = true
			ev.CategoryIDs = append(ev.CategoryIDs, tx.CategoryID)
		}
		if !ids[tx.ID] {
			ids[tx.ID] = true
			ev.TransactionIDs = append(ev.TransactionIDs, tx.ID)
		}
		if !accounts[tx.AccountID] {
			accounts[tx.AccountID] = true
			ev.AccountIDs = append(ev.AccountIDs, tx.AccountID)
		}
	}
	return ev
}
