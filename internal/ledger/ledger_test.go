package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"budgetledger/internal/core"
	"budgetledger/internal/ledger"
	"budgetledger/internal/ledger/memory"
)

type fixture struct {
	l       *ledger.Ledger
	budget  core.Budget
	wallet  core.Account
	bank    core.Account
	food    core.Category
	events  *[]ledger.Event
	eventMu *sync.Mutex
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	l := ledger.New(memory.New(), nil, nil)
	var mu sync.Mutex
	var events []ledger.Event
	l.Subscribe(ledger.ListenerFunc(func(ev ledger.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}))

	b, err := l.CreateBudget(ctx, core.Budget{Name: "Home", ReportingCurrency: core.GEL})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	wallet, err := l.CreateAccount(ctx, core.Account{LedgerID: b.ID, Name: "Wallet", Type: core.Cash, DefaultCurrency: core.GEL})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	bank, err := l.CreateAccount(ctx, core.Account{LedgerID: b.ID, Name: "TBC", Type: core.Bank, DefaultCurrency: core.GEL})
	if err != nil {
		t.Fatalf("create bank: %v", err)
	}
	food, err := l.CreateCategory(ctx, core.Category{LedgerID: b.ID, Name: "Food", Type: core.Expense})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	mu.Lock()
	events = nil
	mu.Unlock()
	return fixture{l: l, budget: b, wallet: wallet, bank: bank, food: food, events: &events, eventMu: &mu}
}

func (f fixture) recorded() []ledger.Event {
	f.eventMu.Lock()
	defer f.eventMu.Unlock()
	return append([]ledger.Event(nil), (*f.events)...)
}

func (f fixture) expense(minor int64, day int) core.Transaction {
	return core.Transaction{
		LedgerID:    f.budget.ID,
		AccountID:   f.wallet.ID,
		Amount:      core.NewMoney(minor, core.GEL),
		Type:        core.Expense,
		CategoryID:  f.food.ID,
		Description: "groceries",
		OccurredAt:  core.NewDate(2024, 5, day),
	}
}

func TestAppendAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.l.Append(ctx, f.expense(5000, 3))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if tx.ID == "" || tx.Source != core.SourceManual {
		t.Fatalf("expected id and manual source, got %+v", tx)
	}

	got, err := f.l.Get(ctx, f.budget.ID, tx.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Amount != tx.Amount || got.CategoryID != f.food.ID || got.OccurredAt.String() != "2024-05-03" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	events := f.recorded()
	if len(events) != 1 || events[0].Kind != ledger.TransactionCreated {
		t.Fatalf("expected one created event, got %+v", events)
	}
	if len(events[0].Periods) != 1 || events[0].Periods[0] != (core.Period{Year: 2024, Month: time.May}) {
		t.Fatalf("unexpected periods %v", events[0].Periods)
	}
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*core.Transaction)
		want   error
	}{
		{"zero amount", func(tx *core.Transaction) { tx.Amount = core.NewMoney(0, core.GEL) }, core.ErrInvalidAmount},
		{"negative amount", func(tx *core.Transaction) { tx.Amount = core.NewMoney(-100, core.GEL) }, core.ErrInvalidAmount},
		{"bad currency", func(tx *core.Transaction) { tx.Amount = core.NewMoney(100, "XYZ") }, core.ErrInvalidCurrency},
		{"unknown account", func(tx *core.Transaction) { tx.AccountID = "nope" }, core.ErrInvalidAccount},
		{"unknown category", func(tx *core.Transaction) { tx.CategoryID = "nope" }, core.ErrInvalidCategory},
		{"bad type", func(tx *core.Transaction) { tx.Type = "refund" }, core.ErrInvalidType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := f.expense(100, 1)
			tt.mutate(&tx)
			if _, err := f.l.Append(ctx, tx); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	list, err := f.l.List(ctx, f.budget.ID, core.TransactionFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected appends must not be stored, got %d", len(list))
	}
}

func TestUpdateOnlyPatchedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tx, err := f.l.Append(ctx, f.expense(5000, 28))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	newDate := core.NewDate(2024, 6, 2)
	amount := core.NewMoney(4200, core.GEL)
	updated, err := f.l.Update(ctx, f.budget.ID, tx.ID, core.TransactionPatch{Amount: &amount, OccurredAt: &newDate})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Amount != amount || updated.OccurredAt != newDate {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if updated.Description != tx.Description || updated.CategoryID != tx.CategoryID || updated.CreatedAt != tx.CreatedAt {
		t.Fatalf("unpatched fields changed: %+v", updated)
	}

	events := f.recorded()
	last := events[len(events)-1]
	if last.Kind != ledger.TransactionUpdated {
		t.Fatalf("expected update event, got %s", last.Kind)
	}
	if len(last.Periods) != 2 {
		t.Fatalf("update across months must touch both periods, got %v", last.Periods)
	}
}

func TestUpdateAmountTextUsesStoredCurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	usd := f.expense(5000, 3)
	usd.Amount = core.NewMoney(5000, core.USD)
	usd, err := f.l.Append(ctx, usd)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	usdt := f.expense(0, 4)
	usdt.Amount = core.NewMoney(1_000_000, core.USDT)
	usdt, err = f.l.Append(ctx, usdt)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	tests := []struct {
		name string
		id   string
		text string
		want core.Money
		err  error
	}{
		{"two decimals", usd.ID, "12.5", core.NewMoney(1250, core.USD), nil},
		{"six decimals", usdt.ID, "2.000001", core.NewMoney(2_000_001, core.USDT), nil},
		{"not a number", usd.ID, "twelve", core.Money{}, core.ErrInvalidAmount},
		{"zero", usd.ID, "0", core.Money{}, core.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := tt.text
			got, err := f.l.Update(ctx, f.budget.ID, tt.id, core.TransactionPatch{AmountText: &text})
			if tt.err != nil {
				var verr *core.ValidationError
				if !errors.As(err, &verr) || verr.Field != "amount" || !errors.Is(err, tt.err) {
					t.Fatalf("expected amount validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if got.Amount != tt.want {
				t.Fatalf("amount = %+v, want %+v", got.Amount, tt.want)
			}
		})
	}
}

func TestUpdateMissing(t *testing.T) {
	f := newFixture(t)
	desc := "x"
	_, err := f.l.Update(context.Background(), f.budget.ID, "missing", core.TransactionPatch{Description: &desc})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransferLegsNetToZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	src, err := f.l.Append(ctx, core.Transaction{
		LedgerID:         f.budget.ID,
		AccountID:        f.bank.ID,
		CounterAccountID: f.wallet.ID,
		Amount:           core.NewMoney(10000, core.GEL),
		Type:             core.Transfer,
		Description:      "ATM",
		OccurredAt:       core.NewDate(2024, 5, 10),
	})
	if err != nil {
		t.Fatalf("append transfer: %v", err)
	}
	if src.Amount.Minor != -10000 || src.AccountID != f.bank.ID {
		t.Fatalf("source leg should be negative on the bank, got %+v", src)
	}

	list, _ := f.l.List(ctx, f.budget.ID, core.TransactionFilter{Type: core.Transfer})
	if len(list) != 2 {
		t.Fatalf("expected two legs, got %d", len(list))
	}
	if list[0].Amount.Minor+list[1].Amount.Minor != 0 || list[0].TransferID != list[1].TransferID {
		t.Fatalf("legs do not pair: %+v", list)
	}

	amount := core.NewMoney(2500, core.GEL)
	if _, err := f.l.Update(ctx, f.budget.ID, src.ID, core.TransactionPatch{Amount: &amount}); err != nil {
		t.Fatalf("update transfer: %v", err)
	}
	list, _ = f.l.List(ctx, f.budget.ID, core.TransactionFilter{Type: core.Transfer})
	for _, leg := range list {
		want := int64(2500)
		if leg.AccountID == f.bank.ID {
			want = -2500
		}
		if leg.Amount.Minor != want {
			t.Fatalf("leg on %s: want %d, got %d", leg.AccountID, want, leg.Amount.Minor)
		}
	}

	if err := f.l.Remove(ctx, f.budget.ID, list[1].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	list, _ = f.l.List(ctx, f.budget.ID, core.TransactionFilter{})
	if len(list) != 0 {
		t.Fatalf("removing one leg must remove both, %d left", len(list))
	}
}

func TestUnbalancedTransferRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := core.Transaction{
		LedgerID:    f.budget.ID,
		AccountID:   f.bank.ID,
		Amount:      core.NewMoney(10000, core.GEL),
		Type:        core.Transfer,
		Description: "move",
		OccurredAt:  core.NewDate(2024, 5, 10),
	}
	cases := map[string]string{
		"no counter account": "",
		"same account":       f.bank.ID,
		"foreign counter":    "elsewhere",
	}
	for name, counter := range cases {
		t.Run(name, func(t *testing.T) {
			tx := base
			tx.CounterAccountID = counter
			if _, err := f.l.Append(ctx, tx); !errors.Is(err, core.ErrUnbalancedTransfer) {
				t.Fatalf("expected unbalanced transfer, got %v", err)
			}
		})
	}

	list, _ := f.l.List(ctx, f.budget.ID, core.TransactionFilter{})
	if len(list) != 0 {
		t.Fatalf("ledger must be unchanged, got %d rows", len(list))
	}
	if n := len(f.recorded()); n != 0 {
		t.Fatalf("rejected writes must not emit events, got %d", n)
	}
}

func TestTransferTypeCannotChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, err := f.l.Append(ctx, f.expense(100, 1))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	typ := core.Transfer
	if _, err := f.l.Update(ctx, f.budget.ID, tx.ID, core.TransactionPatch{Type: &typ}); !errors.Is(err, core.ErrInvalidType) {
		t.Fatalf("expected invalid type, got %v", err)
	}
}

func TestRemoveEmitsEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, _ := f.l.Append(ctx, f.expense(100, 1))
	if err := f.l.Remove(ctx, f.budget.ID, tx.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := f.l.Get(ctx, f.budget.ID, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
	events := f.recorded()
	if events[len(events)-1].Kind != ledger.TransactionDeleted {
		t.Fatalf("expected delete event, got %+v", events[len(events)-1])
	}
	if err := f.l.Remove(ctx, f.budget.ID, tx.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second remove should be not found, got %v", err)
	}
}

func TestCategoryRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	child, err := f.l.CreateCategory(ctx, core.Category{LedgerID: f.budget.ID, Name: "Restaurants", ParentID: f.food.ID})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if _, err := f.l.CreateCategory(ctx, core.Category{LedgerID: f.budget.ID, Name: "Orphan", ParentID: "missing"}); !errors.Is(err, core.ErrInvalidCategory) {
		t.Fatalf("expected invalid parent, got %v", err)
	}

	food := f.food
	food.ParentID = child.ID
	if _, err := f.l.UpdateCategory(ctx, food); !errors.Is(err, core.ErrCategoryCycle) {
		t.Fatalf("expected cycle, got %v", err)
	}

	if err := f.l.DeleteCategory(ctx, f.budget.ID, f.food.ID); !errors.Is(err, core.ErrInUse) {
		t.Fatalf("parent category must be in use, got %v", err)
	}
	if _, err := f.l.Append(ctx, core.Transaction{
		LedgerID: f.budget.ID, AccountID: f.wallet.ID, Amount: core.NewMoney(100, core.GEL),
		Type: core.Expense, CategoryID: child.ID, OccurredAt: core.NewDate(2024, 5, 1),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.l.DeleteCategory(ctx, f.budget.ID, child.ID); !errors.Is(err, core.ErrInUse) {
		t.Fatalf("referenced category must be in use, got %v", err)
	}

	unused, _ := f.l.CreateCategory(ctx, core.Category{LedgerID: f.budget.ID, Name: "Unused"})
	if err := f.l.DeleteCategory(ctx, f.budget.ID, unused.ID); err != nil {
		t.Fatalf("delete unused: %v", err)
	}
}

func TestLedgersAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other, _ := f.l.CreateBudget(ctx, core.Budget{Name: "Office", ReportingCurrency: core.USD})

	tx := f.expense(100, 1)
	tx.LedgerID = other.ID
	if _, err := f.l.Append(ctx, tx); !errors.Is(err, core.ErrInvalidAccount) {
		t.Fatalf("account of another ledger must be rejected, got %v", err)
	}
}

func TestLockHonoursContext(t *testing.T) {
	locks := ledger.NewLocks()
	unlock, err := locks.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	other, err := locks.Lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("other ledger must not contend: %v", err)
	}
	other()

	unlock()
	unlock()
	again, err := locks.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestConcurrentAppends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := f.l.Append(ctx, f.expense(int64(100+i), 1+i%28)); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	list, _ := f.l.List(ctx, f.budget.ID, core.TransactionFilter{})
	if len(list) != 20 {
		t.Fatalf("expected 20 rows, got %d", len(list))
	}
	if n := len(f.recorded()); n != 20 {
		t.Fatalf("expected 20 events, got %d", n)
	}
}
