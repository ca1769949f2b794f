// Package worker keeps aggregates warm in a process separate from the API:
// it consumes change events, recomputes stale buckets and exports monthly
// reports.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"budgetledger/internal/aggregate"
	"budgetledger/internal/amqp"
	"budgetledger/internal/core"
	"budgetledger/internal/ledger"
	"budgetledger/internal/rates"
)

type (
	// Aggregates is the aggregation state the worker maintains.
	Aggregates interface {
		LedgerChanged(ev ledger.Event)
		RefreshStale(ctx context.Context) (int, error)
		Periods(ledgerID string) []core.Period
	}

	// RateApplier makes a rate recorded elsewhere visible to this process.
	RateApplier interface {
		ApplyRate(r core.ExchangeRate) error
	}

	BudgetLister interface {
		ListBudgets(ctx context.Context) ([]core.Budget, error)
	}
)

var _ Aggregates = (*aggregate.Engine)(nil)

// AggregateWorker applies event messages to the local aggregation engine.
type AggregateWorker struct {
	engine  Aggregates
	rates   RateApplier
	budgets BudgetLister
	reports *ReportProcessor // nil when export is disabled
	now     func() time.Time
	logger  *slog.Logger
}

func NewAggregateWorker(engine Aggregates, rates RateApplier, budgets BudgetLister, reports *ReportProcessor) *AggregateWorker {
	return &AggregateWorker{
		engine:  engine,
		rates:   rates,
		budgets: budgets,
		reports: reports,
		now:     time.Now,
		logger:  slog.Default().With("component", "worker"),
	}
}

// HandleMessage processes a single event message from AMQP. Returning an
// error requeues the message, so only transient failures are returned.
func (w *AggregateWorker) HandleMessage(ctx context.Context, msg *amqp.EventMessage) error {
	switch msg.Kind {
	case amqp.KindLedgerChanged:
		ev, err := msg.LedgerEvent()
		if err != nil {
			w.logger.ErrorContext(ctx, "Dropping malformed ledger event", "error", err)
			return nil
		}
		w.engine.LedgerChanged(ev)
		w.enqueue(ev.LedgerID, ev.Periods...)
		w.logger.DebugContext(ctx, "Ledger change applied",
			"ledger_id", ev.LedgerID,
			"change", ev.Kind,
			"periods", len(ev.Periods))
		return nil

	case amqp.KindRateRecorded:
		r, err := msg.ExchangeRate()
		if err != nil {
			w.logger.ErrorContext(ctx, "Dropping malformed rate message", "error", err)
			return nil
		}
		if err := w.rates.ApplyRate(r); err != nil {
			if errors.Is(err, rates.ErrRateConflict) {
				w.logger.ErrorContext(ctx, "Rate conflicts with the local table", "error", err)
				return nil
			}
			return fmt.Errorf("apply rate: %w", err)
		}
		return w.enqueueSince(ctx, r.AsOf)
	}

	w.logger.WarnContext(ctx, "Ignoring message of unknown kind", "kind", msg.Kind)
	return nil
}

// RefreshStale recomputes every stale bucket.
func (w *AggregateWorker) RefreshStale(ctx context.Context) error {
	n, err := w.engine.RefreshStale(ctx)
	if n > 0 {
		w.logger.InfoContext(ctx, "Refreshed stale buckets", "count", n)
	}
	return err
}

// StartupCheck queues the current and previous month of every ledger so
// reports missed while the worker was down are rewritten.
func (w *AggregateWorker) StartupCheck(ctx context.Context) error {
	budgets, err := w.budgets.ListBudgets(ctx)
	if err != nil {
		return fmt.Errorf("list budgets for startup check: %w", err)
	}
	current := core.PeriodOf(core.DateOf(w.now().UTC()))
	previous := core.PeriodOf(core.DateOf(current.Start().AddDate(0, 0, -1)))
	for _, b := range budgets {
		w.engine.LedgerChanged(ledger.Event{LedgerID: b.ID, Periods: []core.Period{previous, current}})
		w.enqueue(b.ID, previous, current)
	}
	w.logger.InfoContext(ctx, "Startup check completed", "ledgers", len(budgets))
	return nil
}

// enqueueSince queues every known month ending at or after asOf.
func (w *AggregateWorker) enqueueSince(ctx context.Context, asOf time.Time) error {
	if w.reports == nil {
		return nil
	}
	budgets, err := w.budgets.ListBudgets(ctx)
	if err != nil {
		return fmt.Errorf("list budgets: %w", err)
	}
	for _, b := range budgets {
		for _, p := range w.engine.Periods(b.ID) {
			if !p.End().EndOfDay().Before(asOf) {
				w.reports.Enqueue(b.ID, p)
			}
		}
	}
	return nil
}

func (w *AggregateWorker) enqueue(ledgerID string, periods ...core.Period) {
	if w.reports != nil {
		w.reports.Enqueue(ledgerID, periods...)
	}
}
