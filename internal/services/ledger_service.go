// Package services orchestrates the ledger, parser, classifier and rate table
// behind the operations exposed by the API and the workers.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"budgetledger/internal/amqp"
	"budgetledger/internal/classifier"
	"budgetledger/internal/core"
	"budgetledger/internal/ledger"
	"budgetledger/internal/parser"
	"budgetledger/internal/rates"
)

type (
	// Publisher delivers change notifications to other processes.
	Publisher interface {
		Publish(ctx context.Context, msg *amqp.EventMessage) error
	}

	// RateInvalidator drops cached aggregates a new rate may change.
	RateInvalidator interface {
		InvalidateSince(asOf time.Time) int
	}

	// SmartAddResult is a parsed and persisted transaction together with the
	// fields the parser was unsure about.
	SmartAddResult struct {
		Transaction core.Transaction
		Candidate   parser.Candidate
		Uncertain   []parser.Field
	}
)

// LedgerService is the single entry point for ledger operations.
type LedgerService struct {
	ledger     *ledger.Ledger
	parser     *parser.Parser
	classifier *classifier.Classifier
	rates      *rates.Table
	aggregates RateInvalidator
	publisher  Publisher
	logger     *slog.Logger

	rateMu sync.Mutex
}

// NewLedgerService wires the components. aggregates and publisher may be nil.
func NewLedgerService(l *ledger.Ledger, p *parser.Parser, c *classifier.Classifier, table *rates.Table, aggregates RateInvalidator, publisher Publisher) *LedgerService {
	return &LedgerService{
		ledger:     l,
		parser:     p,
		classifier: c,
		rates:      table,
		aggregates: aggregates,
		publisher:  publisher,
		logger:     slog.Default().With("component", "ledger_service"),
	}
}

func (s *LedgerService) Ledger() *ledger.Ledger { return s.ledger }

// Threshold is the confidence below which parsed fields are flagged.
func (s *LedgerService) Threshold() float64 { return s.classifier.Threshold() }

func (s *LedgerService) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	return s.ledger.CreateBudget(ctx, b)
}

func (s *LedgerService) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	return s.ledger.GetBudget(ctx, id)
}

func (s *LedgerService) ListBudgets(ctx context.Context) ([]core.Budget, error) {
	return s.ledger.ListBudgets(ctx)
}

// Parse turns free text into a candidate without persisting it. The
// ledger's reporting currency is the default and its accounts are offered
// as hints.
func (s *LedgerService) Parse(ctx context.Context, ledgerID, text string) (parser.Candidate, error) {
	budget, err := s.ledger.GetBudget(ctx, ledgerID)
	if err != nil {
		return parser.Candidate{}, err
	}
	accounts, err := s.ledger.ListAccounts(ctx, ledgerID)
	if err != nil {
		return parser.Candidate{}, err
	}
	return s.parser.Parse(ctx, text, parser.Options{
		LedgerID:        ledgerID,
		DefaultCurrency: budget.ReportingCurrency,
		Accounts:        accounts,
	})
}

// SmartAdd parses text and appends the result. accountID is used when the
// text names no account; failing both, the ledger's first active account
// is charged. A confidently classified category missing from the ledger is
// created on the fly; a suggested one is only applied if it already exists.
func (s *LedgerService) SmartAdd(ctx context.Context, ledgerID, text, accountID string) (SmartAddResult, error) {
	cand, err := s.Parse(ctx, ledgerID, text)
	if err != nil {
		return SmartAddResult{}, err
	}

	tx := cand.Transaction(ledgerID)
	if tx.AccountID == "" {
		tx.AccountID, err = s.defaultAccount(ctx, ledgerID, accountID)
		if err != nil {
			return SmartAddResult{}, err
		}
	}
	tx.CategoryID, err = s.resolveCategory(ctx, ledgerID, cand)
	if err != nil {
		return SmartAddResult{}, err
	}

	created, err := s.ledger.Append(ctx, tx)
	if err != nil {
		return SmartAddResult{}, err
	}
	s.logger.InfoContext(ctx, "Transaction added from text",
		"ledger_id", ledgerID,
		"transaction_id", created.ID,
		"amount_minor", created.Amount.Minor,
		"currency", created.Amount.Currency,
		"category", cand.Category)

	return SmartAddResult{
		Transaction: created,
		Candidate:   cand,
		Uncertain:   cand.Uncertain(s.classifier.Threshold()),
	}, nil
}

func (s *LedgerService) defaultAccount(ctx context.Context, ledgerID, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	accounts, err := s.ledger.ListAccounts(ctx, ledgerID)
	if err != nil {
		return "", err
	}
	for _, a := range accounts {
		if a.IsActive {
			return a.ID, nil
		}
	}
	return "", fmt.Errorf("%w: ledger %s has no active account", core.ErrInvalidAccount, ledgerID)
}

func (s *LedgerService) resolveCategory(ctx context.Context, ledgerID string, cand parser.Candidate) (string, error) {
	if cand.Category == "" || cand.Category == classifier.Uncategorized {
		return "", nil
	}
	cats, err := s.ledger.ListCategories(ctx, ledgerID)
	if err != nil {
		return "", err
	}
	for _, c := range cats {
		if strings.EqualFold(c.Name, cand.Category) {
			return c.ID, nil
		}
	}
	if cand.CategorySuggested {
		return "", nil
	}
	c, err := s.CreateCategory(ctx, core.Category{LedgerID: ledgerID, Name: cand.Category, Type: cand.Type})
	if err != nil {
		return "", fmt.Errorf("create category %q: %w", cand.Category, err)
	}
	return c.ID, nil
}

// CreateTransaction appends tx. A merchant filed under a category is
// remembered so later parses of that merchant pick the same category.
func (s *LedgerService) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if tx.Source == "" {
		tx.Source = core.SourceManual
	}
	created, err := s.ledger.Append(ctx, tx)
	if err != nil {
		return core.Transaction{}, err
	}
	s.learn(ctx, created)
	return created, nil
}

func (s *LedgerService) GetTransaction(ctx context.Context, ledgerID, id string) (core.Transaction, error) {
	return s.ledger.Get(ctx, ledgerID, id)
}

func (s *LedgerService) ListTransactions(ctx context.Context, ledgerID string, f core.TransactionFilter) ([]core.Transaction, error) {
	if _, err := s.ledger.GetBudget(ctx, ledgerID); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, ledgerID, f)
}

func (s *LedgerService) UpdateTransaction(ctx context.Context, ledgerID, id string, patch core.TransactionPatch) (core.Transaction, error) {
	updated, err := s.ledger.Update(ctx, ledgerID, id, patch)
	if err != nil {
		return core.Transaction{}, err
	}
	if patch.Merchant != nil || patch.CategoryID != nil {
		s.learn(ctx, updated)
	}
	return updated, nil
}

func (s *LedgerService) learn(ctx context.Context, tx core.Transaction) {
	if strings.TrimSpace(tx.Merchant) == "" || tx.CategoryID == "" || tx.Type == core.Transfer {
		return
	}
	cat, err := s.ledger.GetCategory(ctx, tx.LedgerID, tx.CategoryID)
	if err != nil {
		s.logger.WarnContext(ctx, "Merchant not learned",
			"ledger_id", tx.LedgerID,
			"category_id", tx.CategoryID,
			"error", err)
		return
	}
	s.classifier.Learn(tx.LedgerID, tx.Merchant, cat.Name, cat.Type)
	s.logger.DebugContext(ctx, "Merchant learned",
		"ledger_id", tx.LedgerID,
		"merchant", tx.Merchant,
		"category", cat.Name)
}

func (s *LedgerService) RemoveTransaction(ctx context.Context, ledgerID, id string) error {
	return s.ledger.Remove(ctx, ledgerID, id)
}

func (s *LedgerService) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	return s.ledger.CreateAccount(ctx, a)
}

func (s *LedgerService) ListAccounts(ctx context.Context, ledgerID string) ([]core.Account, error) {
	if _, err := s.ledger.GetBudget(ctx, ledgerID); err != nil {
		return nil, err
	}
	return s.ledger.ListAccounts(ctx, ledgerID)
}

// CreateCategory adds a category and makes it matchable by name.
func (s *LedgerService) CreateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	created, err := s.ledger.CreateCategory(ctx, c)
	if err != nil {
		return core.Category{}, err
	}
	s.classifier.AddCategory(created.LedgerID, created.Name, created.Type)
	return created, nil
}

func (s *LedgerService) UpdateCategory(ctx context.Context, c core.Category) (core.Category, error) {
	updated, err := s.ledger.UpdateCategory(ctx, c)
	if err != nil {
		return core.Category{}, err
	}
	s.classifier.AddCategory(updated.LedgerID, updated.Name, updated.Type)
	return updated, nil
}

func (s *LedgerService) DeleteCategory(ctx context.Context, ledgerID, id string) error {
	return s.ledger.DeleteCategory(ctx, ledgerID, id)
}

func (s *LedgerService) ListCategories(ctx context.Context, ledgerID string) ([]core.Category, error) {
	if _, err := s.ledger.GetBudget(ctx, ledgerID); err != nil {
		return nil, err
	}
	return s.ledger.ListCategories(ctx, ledgerID)
}

// SetVocabulary replaces the classifier vocabulary of a ledger.
func (s *LedgerService) SetVocabulary(ctx context.Context, ledgerID string, v classifier.Vocabulary) error {
	if _, err := s.ledger.GetBudget(ctx, ledgerID); err != nil {
		return err
	}
	if err := s.classifier.SetVocabulary(ledgerID, v); err != nil {
		return &core.ValidationError{Field: "vocabulary", Err: err}
	}
	s.logger.InfoContext(ctx, "Vocabulary replaced", "ledger_id", ledgerID, "categories", len(v.Categories))
	return nil
}

func (s *LedgerService) Vocabulary(ctx context.Context, ledgerID string) (classifier.Vocabulary, error) {
	if _, err := s.ledger.GetBudget(ctx, ledgerID); err != nil {
		return classifier.Vocabulary{}, err
	}
	return s.classifier.Vocabulary(ledgerID), nil
}

// SetRate records a rate. It is persisted before the in-memory table
// changes, and aggregates for months ending on or after its as_of are
// invalidated once it is visible.
func (s *LedgerService) SetRate(ctx context.Context, r core.ExchangeRate) error {
	if err := r.Validate(); err != nil {
		return &core.ValidationError{Field: "rate", Err: err}
	}
	r.AsOf = r.AsOf.UTC()

	s.rateMu.Lock()
	defer s.rateMu.Unlock()

	for _, h := range s.rates.History(r.Base, r.Quote) {
		if !h.AsOf.Equal(r.AsOf) {
			continue
		}
		if h.Rate.Equal(r.Rate) {
			return nil
		}
		return fmt.Errorf("%w: %s->%s at %s", rates.ErrRateConflict, r.Base, r.Quote, r.AsOf.Format(time.RFC3339))
	}

	if err := s.ledger.AppendRate(ctx, r); err != nil {
		return fmt.Errorf("persist rate: %w", err)
	}
	if err := s.rates.SetRate(r.Base, r.Quote, r.Rate, r.AsOf); err != nil {
		return err
	}

	stale := 0
	if s.aggregates != nil {
		stale = s.aggregates.InvalidateSince(r.AsOf)
	}
	s.logger.InfoContext(ctx, "Exchange rate recorded",
		"base", r.Base,
		"quote", r.Quote,
		"rate", r.Rate.String(),
		"as_of", r.AsOf,
		"stale_buckets", stale)

	s.publish(ctx, amqp.NewRateRecordedMessage(r))
	return nil
}

// ApplyRate makes a rate recorded by another process visible here. The rate
// is already persisted.
func (s *LedgerService) ApplyRate(r core.ExchangeRate) error {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	if err := s.rates.SetRate(r.Base, r.Quote, r.Rate, r.AsOf); err != nil {
		return err
	}
	if s.aggregates != nil {
		s.aggregates.InvalidateSince(r.AsOf)
	}
	return nil
}

// GetRate returns the rate in force at asOf.
func (s *LedgerService) GetRate(base, quote core.Currency, asOf time.Time) (core.ExchangeRate, error) {
	rate, err := s.rates.GetRate(base, quote, asOf)
	if err != nil {
		return core.ExchangeRate{}, err
	}
	return core.ExchangeRate{Base: base, Quote: quote, Rate: rate, AsOf: asOf}, nil
}

// RestoreRates loads every persisted rate into the table.
func (s *LedgerService) RestoreRates(ctx context.Context) (int, error) {
	stored, err := s.ledger.ListRates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rates: %w", err)
	}
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	if err := s.rates.Restore(stored); err != nil {
		return 0, err
	}
	return len(stored), nil
}

// SeedRates persists rates that are not stored yet, skipping ones already
// present, and loads them into the table.
func (s *LedgerService) SeedRates(ctx context.Context, seed []core.ExchangeRate) (int, error) {
	added := 0
	for _, r := range seed {
		err := s.SetRate(ctx, r)
		switch {
		case errors.Is(err, rates.ErrRateConflict):
			s.logger.WarnContext(ctx, "Seed rate conflicts with stored rate, keeping stored",
				"base", r.Base, "quote", r.Quote, "as_of", r.AsOf)
		case err != nil:
			return added, err
		default:
			added++
		}
	}
	return added, nil
}

func (s *LedgerService) CreateRecurringRule(ctx context.Context, r core.RecurringRule) (core.RecurringRule, error) {
	return s.ledger.CreateRecurringRule(ctx, r)
}

func (s *LedgerService) ListRecurringRules(ctx context.Context, ledgerID string) ([]core.RecurringRule, error) {
	if ledgerID != "" {
		if _, err := s.ledger.GetBudget(ctx, ledgerID); err != nil {
			return nil, err
		}
	}
	return s.ledger.ListRecurringRules(ctx, ledgerID)
}

func (s *LedgerService) MarkRuleRun(ctx context.Context, r core.RecurringRule, on core.Date) error {
	r.LastRun = on
	return s.ledger.UpdateRecurringRule(ctx, r)
}

// publish is best effort: the write is already committed locally.
func (s *LedgerService) publish(ctx context.Context, msg *amqp.EventMessage) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event message", "kind", msg.Kind, "error", err)
	}
}

// Close closes the repository and the publisher.
func (s *LedgerService) Close() error {
	var errs []error

	if err := s.ledger.Repository().Close(); err != nil {
		errs = append(errs, fmt.Errorf("storage: %w", err))
	}

	if c, ok := s.publisher.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %w", errors.Join(errs...))
	}
	return nil
}
