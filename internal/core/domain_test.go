package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func validTransaction() Transaction {
	return Transaction{
		LedgerID:    "b1",
		AccountID:   "a1",
		Amount:      NewMoney(5000, GEL),
		Type:        Expense,
		Description: "groceries",
		OccurredAt:  NewDate(2024, 1, 5),
		Source:      SourceManual,
	}
}

func TestTransactionValidate(t *testing.T) {
	if err := validTransaction().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Transaction)
		want   error
	}{
		{"missing account", func(tx *Transaction) { tx.AccountID = "" }, ErrInvalidAccount},
		{"bad currency", func(tx *Transaction) { tx.Amount.Currency = "BTC" }, ErrInvalidCurrency},
		{"zero amount", func(tx *Transaction) { tx.Amount.Minor = 0 }, ErrInvalidAmount},
		{"negative expense", func(tx *Transaction) { tx.Amount.Minor = -5 }, ErrInvalidAmount},
		{"bad type", func(tx *Transaction) { tx.Type = "gift" }, ErrInvalidType},
		{"long description", func(tx *Transaction) { tx.Description = strings.Repeat("x", 201) }, ErrDescriptionTooLong},
		{"categorized transfer", func(tx *Transaction) { tx.Type = Transfer; tx.CategoryID = "c1" }, ErrInvalidCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(&tx)
			err := tx.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestTransferLegMayBeNegative(t *testing.T) {
	tx := validTransaction()
	tx.Type = Transfer
	tx.Amount.Minor = -5000
	if err := tx.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPatchApply(t *testing.T) {
	tx := validTransaction()
	desc := "dinner"
	amount := NewMoney(7000, GEL)
	got := TransactionPatch{Description: &desc, Amount: &amount}.Apply(tx)

	if got.Description != "dinner" || got.Amount != amount {
		t.Fatalf("patched fields not applied: %+v", got)
	}
	if got.Type != tx.Type || got.AccountID != tx.AccountID || got.OccurredAt != tx.OccurredAt {
		t.Fatalf("unpatched fields changed: %+v", got)
	}
	if !(TransactionPatch{}).IsEmpty() {
		t.Fatalf("zero patch should be empty")
	}
}

func TestFilterMatches(t *testing.T) {
	tx := validTransaction()
	tx.CategoryID = "food"
	tests := []struct {
		name string
		f    TransactionFilter
		want bool
	}{
		{"empty", TransactionFilter{}, true},
		{"in range", TransactionFilter{From: NewDate(2024, 1, 1), To: NewDate(2024, 1, 5)}, true},
		{"before range", TransactionFilter{From: NewDate(2024, 1, 6)}, false},
		{"after range", TransactionFilter{To: NewDate(2024, 1, 4)}, false},
		{"category", TransactionFilter{CategoryID: "food"}, true},
		{"other category", TransactionFilter{CategoryID: "rent"}, false},
		{"account", TransactionFilter{AccountID: "a2"}, false},
		{"type", TransactionFilter{Type: Income}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Matches(tx); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccountValidate(t *testing.T) {
	good := Account{Name: "Wallet", Type: Cash, DefaultCurrency: GEL, InitialBalance: NewMoney(100, GEL)}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []Account{
		{Name: "", Type: Cash, DefaultCurrency: GEL},
		{Name: "x", Type: "savings", DefaultCurrency: GEL},
		{Name: "x", Type: Cash, DefaultCurrency: "BTC"},
		{Name: "x", Type: Cash, DefaultCurrency: GEL, InitialBalance: NewMoney(1, USD)},
	}
	for i, a := range bads {
		if err := a.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestExchangeRateValidate(t *testing.T) {
	asOf := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	good := ExchangeRate{Base: USD, Quote: GEL, Rate: decimal.RequireFromString("2.7"), AsOf: asOf}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	bads := []ExchangeRate{
		{Base: USD, Quote: USD, Rate: decimal.NewFromInt(1), AsOf: asOf},
		{Base: USD, Quote: GEL, Rate: decimal.Zero, AsOf: asOf},
		{Base: USD, Quote: GEL, Rate: decimal.NewFromInt(2)},
		{Base: "BTC", Quote: GEL, Rate: decimal.NewFromInt(2), AsOf: asOf},
	}
	for i, r := range bads {
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestRecurringRuleValidate(t *testing.T) {
	rule := RecurringRule{
		LedgerID:  "b1",
		Template:  validTransaction(),
		Every:     Monthly,
		StartDate: NewDate(2025, 1, 1),
	}
	if err := rule.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	rule.EndDate = NewDate(2024, 12, 1)
	if err := rule.Validate(); err == nil {
		t.Fatalf("expected error for end before start")
	}

	rule.EndDate = Date{}
	rule.Every = "hourly"
	if err := rule.Validate(); err == nil {
		t.Fatalf("expected error for invalid repetition")
	}
}
