package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"budgetledger/internal/aggregate"
	"budgetledger/internal/amqp"
	"budgetledger/internal/classifier"
	"budgetledger/internal/core"
	"budgetledger/internal/ledger"
	"budgetledger/internal/ledger/memory"
	"budgetledger/internal/parser"
	"budgetledger/internal/rates"
)

var fixedNow = time.Date(2024, 6, 15, 14, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	msgs   []*amqp.EventMessage
	err    error
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, msg *amqp.EventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func (p *recordingPublisher) messages() []*amqp.EventMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*amqp.EventMessage(nil), p.msgs...)
}

type fixture struct {
	svc    *LedgerService
	store  *memory.Store
	engine *aggregate.Engine
	table  *rates.Table
	pub    *recordingPublisher
	budget core.Budget
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	l := ledger.New(store, nil, nil)
	table := rates.NewTable(core.USD)
	engine := aggregate.New(store, table, l.Locks(), nil)
	l.Subscribe(engine)
	cls := classifier.New(classifier.DefaultVocabulary(), 0.6)
	p := parser.New(cls, table).WithClock(func() time.Time { return fixedNow })
	pub := &recordingPublisher{}

	f := &fixture{
		svc:    NewLedgerService(l, p, cls, table, engine, pub),
		store:  store,
		engine: engine,
		table:  table,
		pub:    pub,
	}
	var err error
	f.budget, err = f.svc.CreateBudget(context.Background(), core.Budget{Name: "Family", ReportingCurrency: core.GEL})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	return f
}

func (f *fixture) account(t *testing.T, name string) core.Account {
	t.Helper()
	a, err := f.svc.CreateAccount(context.Background(), core.Account{
		LedgerID:        f.budget.ID,
		Name:            name,
		Type:            core.Cash,
		DefaultCurrency: core.GEL,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	return a
}

func TestSmartAddCreatesConfidentCategory(t *testing.T) {
	f := newFixture(t)
	wallet := f.account(t, "Wallet")
	ctx := context.Background()

	res, err := f.svc.SmartAdd(ctx, f.budget.ID, "Bought groceries for 50 GEL at Carrefour", "")
	if err != nil {
		t.Fatalf("SmartAdd() error = %v", err)
	}

	tx := res.Transaction
	if tx.Amount != core.NewMoney(5000, core.GEL) || tx.Type != core.Expense {
		t.Errorf("transaction = %s %s, want expense 50.00 GEL", tx.Type, tx.Amount)
	}
	if tx.AccountID != wallet.ID {
		t.Errorf("AccountID = %q, want the only account", tx.AccountID)
	}
	if tx.Source != core.SourceParsed || tx.OriginalText == "" {
		t.Errorf("Source = %q OriginalText = %q", tx.Source, tx.OriginalText)
	}
	if len(res.Uncertain) != 0 {
		t.Errorf("Uncertain = %v, want none", res.Uncertain)
	}

	cats, _ := f.svc.ListCategories(ctx, f.budget.ID)
	if len(cats) != 1 || cats[0].Name != "Food" || tx.CategoryID != cats[0].ID {
		t.Fatalf("categories = %+v, transaction category = %q", cats, tx.CategoryID)
	}

	again, err := f.svc.SmartAdd(ctx, f.budget.ID, "Bought groceries for 50 GEL at Carrefour", "")
	if err != nil {
		t.Fatalf("second SmartAdd() error = %v", err)
	}
	cats, _ = f.svc.ListCategories(ctx, f.budget.ID)
	if len(cats) != 1 || again.Transaction.CategoryID != cats[0].ID {
		t.Errorf("second add should reuse Food, categories = %+v", cats)
	}
}

func TestSmartAddLeavesSuggestedCategoryUnassigned(t *testing.T) {
	f := newFixture(t)
	f.account(t, "Wallet")

	res, err := f.svc.SmartAdd(context.Background(), f.budget.ID, "Received 1200 USD salary", "")
	if err != nil {
		t.Fatalf("SmartAdd() error = %v", err)
	}
	if res.Transaction.CategoryID != "" {
		t.Errorf("CategoryID = %q, want uncategorized", res.Transaction.CategoryID)
	}
	if res.Candidate.Category != "Salary" {
		t.Errorf("suggested category = %q, want Salary", res.Candidate.Category)
	}
	if len(res.Uncertain) != 1 || res.Uncertain[0] != parser.FieldCategory {
		t.Errorf("Uncertain = %v, want [category]", res.Uncertain)
	}
	if cats, _ := f.svc.ListCategories(context.Background(), f.budget.ID); len(cats) != 0 {
		t.Errorf("suggested category should not be created, got %+v", cats)
	}
}

func TestSmartAddUsesRequestedAccount(t *testing.T) {
	f := newFixture(t)
	f.account(t, "Wallet")
	card := f.account(t, "Card")

	res, err := f.svc.SmartAdd(context.Background(), f.budget.ID, "Bought groceries for 50 GEL at Carrefour", card.ID)
	if err != nil {
		t.Fatalf("SmartAdd() error = %v", err)
	}
	if res.Transaction.AccountID != card.ID {
		t.Errorf("AccountID = %q, want %q", res.Transaction.AccountID, card.ID)
	}
}

func TestSmartAddErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SmartAdd(ctx, f.budget.ID, "Bought groceries for 50 GEL", ""); !errors.Is(err, core.ErrInvalidAccount) {
		t.Errorf("no accounts: error = %v, want ErrInvalidAccount", err)
	}
	f.account(t, "Wallet")
	if _, err := f.svc.SmartAdd(ctx, f.budget.ID, "Coffee", ""); !errors.Is(err, core.ErrAmbiguousAmount) {
		t.Errorf("no amount: error = %v, want ErrAmbiguousAmount", err)
	}
	if _, err := f.svc.SmartAdd(ctx, "missing", "Coffee 5 GEL", ""); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown ledger: error = %v, want ErrNotFound", err)
	}
	if txs, _ := f.svc.ListTransactions(ctx, f.budget.ID, core.TransactionFilter{}); len(txs) != 0 {
		t.Errorf("failed adds must not persist, got %d transactions", len(txs))
	}
}

func TestParseDefaultsToReportingCurrency(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.Parse(context.Background(), f.budget.ID, "lunch 15")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.Amount != core.NewMoney(1500, core.GEL) {
		t.Errorf("Amount = %s %s, want 15.00 GEL", c.Amount, c.Amount.Currency)
	}
	if c.Confidence[parser.FieldCurrency] >= f.svc.Threshold() {
		t.Errorf("defaulted currency confidence = %v, want below threshold", c.Confidence[parser.FieldCurrency])
	}
}

func TestCreateCategoryTeachesClassifier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.CreateCategory(ctx, core.Category{LedgerID: f.budget.ID, Name: "Gym", Type: core.Expense}); err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}
	voc, err := f.svc.Vocabulary(ctx, f.budget.ID)
	if err != nil {
		t.Fatalf("Vocabulary() error = %v", err)
	}
	if _, err := voc.Lookup("Gym"); err != nil {
		t.Errorf("Gym missing from vocabulary: %v", err)
	}
}

func TestFiledMerchantIsLearned(t *testing.T) {
	f := newFixture(t)
	wallet := f.account(t, "Wallet")
	ctx := context.Background()

	dining, err := f.svc.CreateCategory(ctx, core.Category{LedgerID: f.budget.ID, Name: "Dining", Type: core.Expense})
	if err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}
	cafes, err := f.svc.CreateCategory(ctx, core.Category{LedgerID: f.budget.ID, Name: "Cafes", Type: core.Expense})
	if err != nil {
		t.Fatalf("CreateCategory() error = %v", err)
	}

	before, err := f.svc.Parse(ctx, f.budget.ID, "Paid 12 GEL at Blue Door")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !before.CategorySuggested {
		t.Fatalf("unknown merchant should only be suggested, got %q", before.Category)
	}

	tx, err := f.svc.CreateTransaction(ctx, core.Transaction{
		LedgerID:   f.budget.ID,
		AccountID:  wallet.ID,
		Amount:     core.NewMoney(1200, core.GEL),
		Type:       core.Expense,
		CategoryID: dining.ID,
		Merchant:   "Blue Door",
		OccurredAt: core.NewDate(2024, 6, 10),
	})
	if err != nil {
		t.Fatalf("CreateTransaction() error = %v", err)
	}

	tests := []struct {
		name  string
		patch func() core.TransactionPatch
		want  string
	}{
		{"created", nil, "Dining"},
		{"recategorized", func() core.TransactionPatch { return core.TransactionPatch{CategoryID: &cafes.ID} }, "Cafes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.patch != nil {
				if _, err := f.svc.UpdateTransaction(ctx, f.budget.ID, tx.ID, tt.patch()); err != nil {
					t.Fatalf("UpdateTransaction() error = %v", err)
				}
			}
			c, err := f.svc.Parse(ctx, f.budget.ID, "Paid 12 GEL at Blue Door")
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if c.Category != tt.want || c.CategorySuggested {
				t.Fatalf("category = %q suggested=%v, want confident %s", c.Category, c.CategorySuggested, tt.want)
			}
		})
	}
}

func TestSetVocabulary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := classifier.Vocabulary{Categories: []classifier.Entry{{Name: "Coffee Shops", Type: core.Expense, Merchants: []string{"Blue Door"}}}}
	if err := f.svc.SetVocabulary(ctx, f.budget.ID, v); err != nil {
		t.Fatalf("SetVocabulary() error = %v", err)
	}
	c, err := f.svc.Parse(ctx, f.budget.ID, "Paid 12 GEL at Blue Door")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if c.Category != "Coffee Shops" || c.CategorySuggested {
		t.Errorf("Category = %q suggested=%v, want confident Coffee Shops", c.Category, c.CategorySuggested)
	}

	if err := f.svc.SetVocabulary(ctx, "missing", v); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown ledger: error = %v, want ErrNotFound", err)
	}
	bad := classifier.Vocabulary{Categories: []classifier.Entry{{Name: ""}}}
	var verr *core.ValidationError
	if err := f.svc.SetVocabulary(ctx, f.budget.ID, bad); !errors.As(err, &verr) {
		t.Errorf("invalid vocabulary: error = %v, want ValidationError", err)
	}
}

func TestSetRate(t *testing.T) {
	f := newFixture(t)
	wallet := f.account(t, "Wallet")
	ctx := context.Background()

	if _, err := f.svc.CreateTransaction(ctx, core.Transaction{
		LedgerID:   f.budget.ID,
		AccountID:  wallet.ID,
		Amount:     core.NewMoney(1000, core.USD),
		Type:       core.Expense,
		OccurredAt: core.NewDate(2024, 3, 10),
	}); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	march := core.Period{Year: 2024, Month: 3}
	b, err := f.engine.Bucket(ctx, f.budget.ID, march)
	if err != nil {
		t.Fatalf("Bucket() error = %v", err)
	}
	if !b.Incomplete {
		t.Fatal("bucket should be incomplete without a USD rate")
	}

	rate := core.ExchangeRate{Base: core.USD, Quote: core.GEL, Rate: decimal.RequireFromString("2.65"), AsOf: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	if err := f.svc.SetRate(ctx, rate); err != nil {
		t.Fatalf("SetRate() error = %v", err)
	}
	if f.engine.State(f.budget.ID, march) != aggregate.Stale {
		t.Error("a new rate should mark later buckets stale")
	}
	b, _ = f.engine.Bucket(ctx, f.budget.ID, march)
	if b.Incomplete || b.Expense != core.NewMoney(2650, core.GEL) {
		t.Errorf("bucket = %+v, want complete 26.50 GEL", b.Totals)
	}

	got, err := f.svc.GetRate(core.GEL, core.USD, fixedNow)
	if err != nil {
		t.Fatalf("GetRate() error = %v", err)
	}
	if got.Rate.Mul(decimal.RequireFromString("2.65")).Round(6).String() != "1" {
		t.Errorf("inverse rate = %s", got.Rate)
	}

	if err := f.svc.SetRate(ctx, rate); err != nil {
		t.Errorf("repeating a rate should be a no-op, got %v", err)
	}
	conflicting := rate
	conflicting.Rate = decimal.RequireFromString("2.70")
	if err := f.svc.SetRate(ctx, conflicting); !errors.Is(err, rates.ErrRateConflict) {
		t.Errorf("conflicting rate: error = %v, want ErrRateConflict", err)
	}
	var verr *core.ValidationError
	if err := f.svc.SetRate(ctx, core.ExchangeRate{Base: core.USD, Quote: core.USD, Rate: decimal.NewFromInt(1), AsOf: fixedNow}); !errors.As(err, &verr) {
		t.Errorf("identity rate: error = %v, want ValidationError", err)
	}

	stored, _ := f.store.ListRates(ctx)
	if len(stored) != 1 {
		t.Errorf("stored rates = %d, want 1", len(stored))
	}
	var rateMsgs int
	for _, m := range f.pub.messages() {
		if m.Kind == amqp.KindRateRecorded {
			rateMsgs++
		}
	}
	if rateMsgs != 1 {
		t.Errorf("rate messages = %d, want 1", rateMsgs)
	}
}

func TestRestoreAndSeedRates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := []core.ExchangeRate{
		{Base: core.USD, Quote: core.GEL, Rate: decimal.RequireFromString("2.68"), AsOf: asOf},
		{Base: core.EUR, Quote: core.USD, Rate: decimal.RequireFromString("1.09"), AsOf: asOf},
	}
	n, err := f.svc.SeedRates(ctx, seed)
	if err != nil || n != 2 {
		t.Fatalf("SeedRates() = %d, %v", n, err)
	}
	conflicting := seed[0]
	conflicting.Rate = decimal.RequireFromString("2.70")
	n, err = f.svc.SeedRates(ctx, []core.ExchangeRate{conflicting})
	if err != nil || n != 0 {
		t.Errorf("conflicting seed = %d, %v, want 0 added and stored rate kept", n, err)
	}

	restored := NewLedgerService(f.svc.Ledger(), nil, classifier.New(classifier.DefaultVocabulary(), 0.6), rates.NewTable(core.USD), nil, nil)
	n, err = restored.RestoreRates(ctx)
	if err != nil || n != 2 {
		t.Fatalf("RestoreRates() = %d, %v", n, err)
	}
	r, err := restored.GetRate(core.EUR, core.GEL, asOf)
	if err != nil {
		t.Fatalf("cross rate after restore: %v", err)
	}
	if !r.Rate.Equal(decimal.RequireFromString("2.9212")) {
		t.Errorf("EUR->GEL = %s, want 2.9212", r.Rate)
	}
}

func TestRecurringRules(t *testing.T) {
	f := newFixture(t)
	wallet := f.account(t, "Wallet")
	ctx := context.Background()

	rule, err := f.svc.CreateRecurringRule(ctx, core.RecurringRule{
		LedgerID: f.budget.ID,
		Template: core.Transaction{
			AccountID:   wallet.ID,
			Amount:      core.NewMoney(90000, core.GEL),
			Type:        core.Expense,
			Description: "Rent",
		},
		Every:     core.Monthly,
		StartDate: core.NewDate(2024, 1, 31),
	})
	if err != nil {
		t.Fatalf("CreateRecurringRule() error = %v", err)
	}
	rules, err := f.svc.ListRecurringRules(ctx, f.budget.ID)
	if err != nil || len(rules) != 1 || rules[0].ID != rule.ID {
		t.Fatalf("ListRecurringRules() = %+v, %v", rules, err)
	}
	if _, err := f.svc.ListRecurringRules(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown ledger: error = %v, want ErrNotFound", err)
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !f.pub.closed {
		t.Error("Close() should close the publisher")
	}
}
