package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"

	SourceManual    Source = "manual"
	SourceParsed    Source = "parsed"
	SourceImported  Source = "imported"
	SourceRecurring Source = "recurring"

	Cash   AccountType = "cash"
	Bank   AccountType = "bank"
	Crypto AccountType = "crypto"
	Other  AccountType = "other"

	Monthly RepetitionTypes = "monthly"
	Yearly  RepetitionTypes = "yearly"
	Weekly  RepetitionTypes = "weekly"
	Daily   RepetitionTypes = "daily"
)

const maxDescriptionLen = 200

type (
	TransactionType string
	Source          string
	AccountType     string
	RepetitionTypes string

	Date struct {
		time.Time
	}

	// Budget is a shared ledger. Every other entity belongs to exactly one.
	Budget struct {
		ID                string
		Name              string
		ReportingCurrency Currency
		CreatedAt         time.Time
	}

	// Transaction is a single ledger entry. Income and expense amounts are
	// positive magnitudes; the two legs of a transfer carry opposite signs
	// and share TransferID.
	Transaction struct {
		ID               string
		LedgerID         string
		AccountID        string
		CounterAccountID string // transfers only: the account on the other leg
		TransferID       string
		Amount           Money
		Type             TransactionType
		CategoryID       string // empty when uncategorized
		Description      string
		Merchant         string // empty when absent
		OriginalText     string
		Notes            string
		OccurredAt       Date
		CreatedAt        time.Time
		UpdatedAt        time.Time
		Source           Source
	}

	// TransactionPatch holds the fields an update replaces. Nil means unchanged.
	TransactionPatch struct {
		Amount      *Money
		// AmountText is an amount in the transaction's stored currency,
		// resolved by Resolve. Ignored when Amount is set.
		AmountText  *string
		Type        *TransactionType
		AccountID   *string
		CategoryID  *string
		Description *string
		Merchant    *string
		Notes       *string
		OccurredAt  *Date
	}

	// TransactionFilter selects transactions. Zero fields do not filter.
	TransactionFilter struct {
		From       Date // inclusive
		To         Date // inclusive
		CategoryID string
		AccountID  string
		Type       TransactionType
		Limit      int
	}

	Account struct {
		ID              string
		LedgerID        string
		Name            string
		Type            AccountType
		DefaultCurrency Currency
		InitialBalance  Money
		Balance         Money // derived from history, never stored
		IsActive        bool
		CreatedAt       time.Time
	}

	Category struct {
		ID       string
		LedgerID string
		Name     string
		Type     TransactionType // income or expense, empty for either
		ParentID string
	}

	ExchangeRate struct {
		Base  Currency
		Quote Currency
		Rate  decimal.Decimal
		AsOf  time.Time
	}

	// RecurringRule materializes Template every interval between StartDate and EndDate.
	RecurringRule struct {
		ID        string
		LedgerID  string
		Template  Transaction
		Every     RepetitionTypes
		StartDate Date
		EndDate   Date
		LastRun   Date
	}
)

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, err
	}
	return Date{Time: t}, nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format("2006-01-02")
}

// EndOfDay is the last instant of d, used for point-in-time rate lookups.
func (d Date) EndOfDay() time.Time {
	return d.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// IsEmpty returns true if the date is zero (for backward compatibility with optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (t TransactionType) Valid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	}
	return false
}

func (a AccountType) Valid() bool {
	switch a {
	case Cash, Bank, Crypto, Other:
		return true
	}
	return false
}

func (t Transaction) IsTransfer() bool { return t.Type == Transfer }

// Validate checks the write-time invariants of a single transaction.
// Pairing of transfer legs is checked by the ledger.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.LedgerID) == "" {
		return invalid("ledger_id", ErrNotFound)
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return invalid("account_id", ErrInvalidAccount)
	}
	if !t.Type.Valid() {
		return invalid("type", ErrInvalidType)
	}
	if !t.Amount.Currency.Valid() {
		return invalid("amount", ErrInvalidCurrency)
	}
	switch {
	case t.Type == Transfer && t.Amount.Minor == 0:
		return invalid("amount", ErrInvalidAmount)
	case t.Type != Transfer && t.Amount.Minor <= 0:
		return invalid("amount", ErrInvalidAmount)
	}
	if err := t.OccurredAt.Validate(); err != nil {
		return invalid("occurred_at", err)
	}
	if len(t.Description) > maxDescriptionLen {
		return invalid("description", ErrDescriptionTooLong)
	}
	if t.Type == Transfer && t.CategoryID != "" {
		return invalid("category_id", ErrInvalidCategory)
	}
	return nil
}

// Resolve turns AmountText into Amount using t's currency.
func (p TransactionPatch) Resolve(t Transaction) (TransactionPatch, error) {
	if p.Amount != nil || p.AmountText == nil {
		return p, nil
	}
	m, err := ParseAmount(*p.AmountText, t.Amount.Currency)
	if err != nil {
		return p, invalid("amount", err)
	}
	p.Amount, p.AmountText = &m, nil
	return p, nil
}

// Apply returns t with every non-nil patch field replaced. AmountText must
// already be resolved.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.AccountID != nil {
		t.AccountID = *p.AccountID
	}
	if p.CategoryID != nil {
		t.CategoryID = *p.CategoryID
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Merchant != nil {
		t.Merchant = *p.Merchant
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
	if p.OccurredAt != nil {
		t.OccurredAt = *p.OccurredAt
	}
	return t
}

// IsEmpty reports whether the patch changes nothing.
func (p TransactionPatch) IsEmpty() bool {
	return p == TransactionPatch{}
}

// Matches reports whether t passes every set filter field.
func (f TransactionFilter) Matches(t Transaction) bool {
	if !f.From.IsZero() && t.OccurredAt.Before(f.From.Time) {
		return false
	}
	if !f.To.IsZero() && t.OccurredAt.After(f.To.Time) {
		return false
	}
	if f.CategoryID != "" && t.CategoryID != f.CategoryID {
		return false
	}
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	return true
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	if !a.Type.Valid() {
		return invalid("type", ErrInvalidAccount)
	}
	if !a.DefaultCurrency.Valid() {
		return invalid("default_currency", ErrInvalidCurrency)
	}
	if a.InitialBalance.Currency != "" && a.InitialBalance.Currency != a.DefaultCurrency {
		return invalid("initial_balance", ErrInvalidCurrency)
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	if c.Type != "" && c.Type != Income && c.Type != Expense {
		return invalid("type", ErrInvalidType)
	}
	if c.ParentID != "" && c.ParentID == c.ID {
		return invalid("parent_id", ErrCategoryCycle)
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return invalid("name", ErrEmptyName)
	}
	if !b.ReportingCurrency.Valid() {
		return invalid("reporting_currency", ErrInvalidCurrency)
	}
	return nil
}

func (r ExchangeRate) Validate() error {
	if !r.Base.Valid() || !r.Quote.Valid() {
		return ErrInvalidCurrency
	}
	if r.Base == r.Quote {
		return errors.New("base and quote must differ")
	}
	if !r.Rate.IsPositive() {
		return errors.New("rate must be positive")
	}
	if r.AsOf.IsZero() {
		return errors.New("as_of cannot be zero")
	}
	return nil
}

func (re RecurringRule) Validate() error {
	if err := re.StartDate.Validate(); err != nil {
		return invalid("start_date", err)
	}

	if !re.EndDate.IsZero() {
		if err := re.EndDate.Validate(); err != nil {
			return invalid("end_date", err)
		}
		if re.EndDate.Before(re.StartDate.Time) {
			return invalid("end_date", ErrInvalidPeriod)
		}
	}

	switch re.Every {
	case Daily, Weekly, Monthly, Yearly:
	default:
		return invalid("every", ErrInvalidRepetition)
	}

	if re.Template.Type == Transfer {
		return invalid("type", ErrInvalidType)
	}
	tpl := re.Template
	tpl.LedgerID = re.LedgerID
	tpl.OccurredAt = re.StartDate
	return tpl.Validate()
}
