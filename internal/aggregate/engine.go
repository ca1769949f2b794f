// Package aggregate keeps per-month rollups of each ledger in its reporting
// currency.
//
// A bucket is Fresh once computed and turns Stale when a change event or a
// backdated exchange rate touches its month. Reads recompute stale buckets
// before answering. Recomputation holds the ledger's exclusive section, so
// it never observes a half-applied write.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"budgetledger/internal/core"
	"budgetledger/internal/ledger"
)

const refreshParallelism = 4

// Source is the read side of the ledger the engine sums over.
type Source interface {
	GetBudget(ctx context.Context, id string) (core.Budget, error)
	ListAccounts(ctx context.Context, ledgerID string) ([]core.Account, error)
	ListTransactions(ctx context.Context, ledgerID string, f core.TransactionFilter) ([]core.Transaction, error)
}

type State int

const (
	Missing State = iota
	Stale
	Fresh
)

func (s State) String() string {
	switch s {
	case Stale:
		return "stale"
	case Fresh:
		return "fresh"
	}
	return "missing"
}

// Bucket is the rollup of one calendar month.
type Bucket struct {
	LedgerID string
	Period   core.Period
	Totals
	ComputedAt time.Time
}

type entry struct {
	bucket  Bucket
	fresh   bool
	version uint64
}

type ledgerBuckets struct {
	currency core.Currency
	entries  map[core.Period]*entry
}

type Engine struct {
	src    Source
	rates  Converter
	locks  *ledger.Locks
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	ledgers map[string]*ledgerBuckets
}

var _ ledger.Listener = (*Engine)(nil)

// New builds an engine. locks must be the same sections the ledger writes under.
func New(src Source, rates Converter, locks *ledger.Locks, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		src:     src,
		rates:   rates,
		locks:   locks,
		now:     time.Now,
		logger:  logger.With("component", "aggregate"),
		ledgers: map[string]*ledgerBuckets{},
	}
}

// LedgerChanged marks the months touched by ev stale. It runs while the
// writer still holds the ledger's section.
func (e *Engine) LedgerChanged(ev ledger.Event) {
	if len(ev.Periods) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	lb := e.ledgerLocked(ev.LedgerID)
	for _, p := range ev.Periods {
		markLocked(lb, p)
	}
}

// InvalidateSince marks stale every known bucket, in any ledger, whose month
// ends at or after asOf. A rate only affects conversions from its as_of on.
func (e *Engine) InvalidateSince(asOf time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, lb := range e.ledgers {
		for p, en := range lb.entries {
			if p.End().EndOfDay().Before(asOf) {
				continue
			}
			if en.fresh {
				n++
			}
			markLocked(lb, p)
		}
	}
	return n
}

// State reports the freshness of a bucket without computing it.
func (e *Engine) State(ledgerID string, p core.Period) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	lb, ok := e.ledgers[ledgerID]
	if !ok {
		return Missing
	}
	en, ok := lb.entries[p]
	switch {
	case !ok:
		return Missing
	case en.fresh:
		return Fresh
	}
	return Stale
}

// Bucket returns the month's rollup, recomputing it unless it is fresh.
func (e *Engine) Bucket(ctx context.Context, ledgerID string, p core.Period) (Bucket, error) {
	e.mu.Lock()
	if lb, ok := e.ledgers[ledgerID]; ok {
		if en, ok := lb.entries[p]; ok && en.fresh {
			b := en.bucket
			e.mu.Unlock()
			return b, nil
		}
	}
	e.mu.Unlock()
	return e.Recompute(ctx, ledgerID, p)
}

// Recompute re-sums the month from the ledger inside its exclusive section.
func (e *Engine) Recompute(ctx context.Context, ledgerID string, p core.Period) (Bucket, error) {
	currency, err := e.currency(ctx, ledgerID)
	if err != nil {
		return Bucket{}, err
	}
	unlock, err := e.locks.Lock(ctx, ledgerID)
	if err != nil {
		return Bucket{}, err
	}
	defer unlock()

	version := e.version(ledgerID, p)
	txs, err := e.src.ListTransactions(ctx, ledgerID, core.TransactionFilter{From: p.Start(), To: p.End()})
	if err != nil {
		return Bucket{}, fmt.Errorf("list transactions for %s: %w", p, err)
	}
	totals, err := tally(currency, txs, e.rates)
	if err != nil {
		return Bucket{}, err
	}
	b := Bucket{LedgerID: ledgerID, Period: p, Totals: totals, ComputedAt: e.now().UTC()}

	e.mu.Lock()
	en := e.ledgerLocked(ledgerID).entry(p)
	en.bucket = b
	en.fresh = en.version == version
	e.mu.Unlock()

	if b.Incomplete {
		e.logger.WarnContext(ctx, "Bucket incomplete",
			"ledger_id", ledgerID,
			"period", p.String(),
			"missing_rates", len(b.MissingRates))
	} else {
		e.logger.DebugContext(ctx, "Bucket recomputed",
			"ledger_id", ledgerID,
			"period", p.String(),
			"transactions", b.Count)
	}
	return b, nil
}

// Summarize returns the totals for the inclusive day range. Whole months
// come from buckets; only the partial months at either edge are scanned.
func (e *Engine) Summarize(ctx context.Context, ledgerID string, from, to core.Date) (Totals, error) {
	if from.IsZero() || to.IsZero() || to.Before(from.Time) {
		return Totals{}, fmt.Errorf("%w: %s..%s", core.ErrInvalidPeriod, from, to)
	}
	currency, err := e.currency(ctx, ledgerID)
	if err != nil {
		return Totals{}, err
	}

	acc := newAccumulator(currency)
	for _, p := range core.PeriodsBetween(core.PeriodOf(from), core.PeriodOf(to)) {
		lo, hi := p.Start(), p.End()
		whole := true
		if from.After(lo.Time) {
			lo, whole = from, false
		}
		if to.Before(hi.Time) {
			hi, whole = to, false
		}
		if whole {
			b, err := e.Bucket(ctx, ledgerID, p)
			if err != nil {
				return Totals{}, err
			}
			acc.merge(b.Totals)
			continue
		}
		t, err := e.scan(ctx, ledgerID, currency, lo, hi)
		if err != nil {
			return Totals{}, err
		}
		acc.merge(t)
	}
	return acc.totals(), nil
}

// RefreshStale recomputes every stale bucket, one goroutine per ledger.
func (e *Engine) RefreshStale(ctx context.Context) (int, error) {
	targets := e.staleTargets()
	if len(targets) == 0 {
		return 0, nil
	}

	var refreshed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshParallelism)
	for ledgerID, periods := range targets {
		g.Go(func() error {
			for _, p := range periods {
				if _, err := e.Recompute(ctx, ledgerID, p); err != nil {
					return fmt.Errorf("refresh %s %s: %w", ledgerID, p, err)
				}
				refreshed.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return int(refreshed.Load()), err
}

// Periods lists the months the engine has seen for a ledger.
func (e *Engine) Periods(ledgerID string) []core.Period {
	e.mu.Lock()
	defer e.mu.Unlock()
	lb, ok := e.ledgers[ledgerID]
	if !ok {
		return nil
	}
	out := make([]core.Period, 0, len(lb.entries))
	for p := range lb.entries {
		out = append(out, p)
	}
	sortPeriods(out)
	return out
}

func (e *Engine) scan(ctx context.Context, ledgerID string, currency core.Currency, from, to core.Date) (Totals, error) {
	unlock, err := e.locks.Lock(ctx, ledgerID)
	if err != nil {
		return Totals{}, err
	}
	defer unlock()
	txs, err := e.src.ListTransactions(ctx, ledgerID, core.TransactionFilter{From: from, To: to})
	if err != nil {
		return Totals{}, fmt.Errorf("list transactions %s..%s: %w", from, to, err)
	}
	return tally(currency, txs, e.rates)
}

func (e *Engine) staleTargets() map[string][]core.Period {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := map[string][]core.Period{}
	for id, lb := range e.ledgers {
		for p, en := range lb.entries {
			if !en.fresh {
				out[id] = append(out[id], p)
			}
		}
		sortPeriods(out[id])
	}
	return out
}

// currency returns the ledger's reporting currency, loading it once.
func (e *Engine) currency(ctx context.Context, ledgerID string) (core.Currency, error) {
	e.mu.Lock()
	if lb, ok := e.ledgers[ledgerID]; ok && lb.currency != "" {
		c := lb.currency
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	b, err := e.src.GetBudget(ctx, ledgerID)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.ledgerLocked(ledgerID).currency = b.ReportingCurrency
	e.mu.Unlock()
	return b.ReportingCurrency, nil
}

func (e *Engine) version(ledgerID string, p core.Period) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledgerLocked(ledgerID).entry(p).version
}

func (e *Engine) ledgerLocked(ledgerID string) *ledgerBuckets {
	lb, ok := e.ledgers[ledgerID]
	if !ok {
		lb = &ledgerBuckets{entries: map[core.Period]*entry{}}
		e.ledgers[ledgerID] = lb
	}
	return lb
}

func (lb *ledgerBuckets) entry(p core.Period) *entry {
	en, ok := lb.entries[p]
	if !ok {
		en = &entry{}
		lb.entries[p] = en
	}
	return en
}

func markLocked(lb *ledgerBuckets, p core.Period) {
	en := lb.entry(p)
	en.fresh = false
	en.version++
}

func sortPeriods(ps []core.Period) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Before(ps[j]) })
}
