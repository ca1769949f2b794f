package aggregate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"budgetledger/internal/core"
)

type AccountBalance struct {
	Account   core.Account // Balance is in the account's default currency
	Converted core.Money   // Balance in the reporting currency, zero if unconvertible
}

// Balances are account balances derived from history and the ledger total
// in the reporting currency.
type Balances struct {
	Currency     core.Currency
	Accounts     []AccountBalance
	Total        core.Money
	AsOf         time.Time
	Incomplete   bool
	MissingRates []MissingRate
}

// Balances derives every account's balance as of asOf: initial balance plus
// income, minus expense, plus signed transfer legs. Each transaction is first
// converted into its account's currency at its own date; balances are then
// converted into the reporting currency at asOf.
func (e *Engine) Balances(ctx context.Context, ledgerID string, asOf time.Time) (Balances, error) {
	currency, err := e.currency(ctx, ledgerID)
	if err != nil {
		return Balances{}, err
	}
	unlock, err := e.locks.Lock(ctx, ledgerID)
	if err != nil {
		return Balances{}, err
	}
	defer unlock()

	accounts, err := e.src.ListAccounts(ctx, ledgerID)
	if err != nil {
		return Balances{}, fmt.Errorf("list accounts: %w", err)
	}
	txs, err := e.src.ListTransactions(ctx, ledgerID, core.TransactionFilter{To: core.DateOf(asOf)})
	if err != nil {
		return Balances{}, fmt.Errorf("list transactions: %w", err)
	}

	missing := map[MissingRate]bool{}
	sums := make(map[string]int64, len(accounts))
	index := make(map[string]core.Currency, len(accounts))
	for _, a := range accounts {
		sums[a.ID] = a.InitialBalance.Minor
		index[a.ID] = a.DefaultCurrency
	}
	for _, tx := range txs {
		accCurrency, ok := index[tx.AccountID]
		if !ok {
			continue
		}
		m, err := e.rates.Convert(tx.Amount, accCurrency, tx.OccurredAt.EndOfDay())
		if errors.Is(err, core.ErrRateNotFound) {
			missing[MissingRate{Base: tx.Amount.Currency, Quote: accCurrency, On: tx.OccurredAt}] = true
			continue
		}
		if err != nil {
			return Balances{}, fmt.Errorf("convert transaction %s: %w", tx.ID, err)
		}
		if tx.Type == core.Expense {
			sums[tx.AccountID] -= m.Minor
		} else {
			sums[tx.AccountID] += m.Minor
		}
	}

	out := Balances{Currency: currency, AsOf: asOf, Accounts: make([]AccountBalance, 0, len(accounts))}
	var total int64
	for _, a := range accounts {
		a.Balance = core.NewMoney(sums[a.ID], a.DefaultCurrency)
		converted, err := e.rates.Convert(a.Balance, currency, asOf)
		if errors.Is(err, core.ErrRateNotFound) {
			missing[MissingRate{Base: a.DefaultCurrency, Quote: currency, On: core.DateOf(asOf)}] = true
			converted = core.NewMoney(0, currency)
		} else if err != nil {
			return Balances{}, fmt.Errorf("convert account %s: %w", a.ID, err)
		}
		total += converted.Minor
		out.Accounts = append(out.Accounts, AccountBalance{Account: a, Converted: converted})
	}
	out.Total = core.NewMoney(total, currency)

	acc := newAccumulator(currency)
	acc.missing = missing
	t := acc.totals()
	out.Incomplete, out.MissingRates = t.Incomplete, t.MissingRates
	return out, nil
}
