package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"budgetledger/internal/aggregate"
	"budgetledger/internal/analytics"
	"budgetledger/internal/core"
	"budgetledger/internal/sheets"
)

type (
	BudgetReader interface {
		GetBudget(ctx context.Context, id string) (core.Budget, error)
	}

	SeriesReader interface {
		TimeSeries(ctx context.Context, ledgerID string, from, to core.Period, g analytics.Granularity) ([]core.PeriodOverview, error)
	}

	BucketReader interface {
		Bucket(ctx context.Context, ledgerID string, p core.Period) (aggregate.Bucket, error)
	}
)

// ReportProcessorConfig holds configuration for the report processor
type ReportProcessorConfig struct {
	// PollInterval is how often queued ledger-months are exported (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of ledger-months exported per cycle (default: 10)
	BatchSize int

	// MaxRetries is how many failed exports a ledger-month gets before it is dropped (default: 3)
	MaxRetries int
}

func DefaultReportProcessorConfig() ReportProcessorConfig {
	return ReportProcessorConfig{
		PollInterval: 10 * time.Second,
		BatchSize:    10,
		MaxRetries:   3,
	}
}

type reportKey struct {
	ledgerID string
	period   core.Period
}

// ReportProcessor exports monthly reports for ledger-months queued by the
// worker. A month queued again while waiting is exported once.
type ReportProcessor struct {
	budgets BudgetReader
	series  SeriesReader
	buckets BucketReader
	writer  sheets.ReportWriter
	config  ReportProcessorConfig
	now     func() time.Time
	logger  *slog.Logger

	qmu      sync.Mutex
	queue    []reportKey
	queued   map[reportKey]bool
	attempts map[reportKey]int

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewReportProcessor(budgets BudgetReader, series SeriesReader, buckets BucketReader, writer sheets.ReportWriter, config ReportProcessorConfig) *ReportProcessor {
	def := DefaultReportProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	return &ReportProcessor{
		budgets:  budgets,
		series:   series,
		buckets:  buckets,
		writer:   writer,
		config:   config,
		now:      time.Now,
		logger:   slog.Default().With("component", "sheets"),
		queued:   map[reportKey]bool{},
		attempts: map[reportKey]int{},
	}
}

// Enqueue schedules the given months of a ledger for export. A month
// queued while its previous export is in flight is exported again.
func (p *ReportProcessor) Enqueue(ledgerID string, periods ...core.Period) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	for _, period := range periods {
		p.pushLocked(reportKey{ledgerID, period})
	}
}

func (p *ReportProcessor) pushLocked(k reportKey) {
	if p.queued[k] {
		return
	}
	p.queued[k] = true
	p.queue = append(p.queue, k)
}

// Pending returns the number of queued ledger-months.
func (p *ReportProcessor) Pending() int {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	return len(p.queue)
}

// Start begins the processing loop. Returns an error if already running.
func (p *ReportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("report processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	p.logger.InfoContext(ctx, "Report processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *ReportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		p.logger.InfoContext(ctx, "Report processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Report processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *ReportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ReportProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch exports up to BatchSize queued ledger-months and returns how
// many were written. Failures are requeued until MaxRetries is reached.
func (p *ReportProcessor) ProcessBatch(ctx context.Context) int {
	batch := p.take(p.config.BatchSize)
	if len(batch) == 0 {
		return 0
	}
	p.logger.DebugContext(ctx, "Exporting report batch", "count", len(batch))

	written := 0
	for i, k := range batch {
		if ctx.Err() != nil {
			p.requeue(batch[i:]...)
			return written
		}
		ref, err := p.export(ctx, k)
		if err != nil {
			p.handleFailure(ctx, k, err)
			continue
		}
		p.done(k)
		written++
		p.logger.InfoContext(ctx, "Exported monthly report",
			"ledger_id", k.ledgerID,
			"period", k.period.String(),
			"sheets_ref", ref)
	}
	return written
}

func (p *ReportProcessor) export(ctx context.Context, k reportKey) (string, error) {
	budget, err := p.budgets.GetBudget(ctx, k.ledgerID)
	if err != nil {
		return "", fmt.Errorf("get budget: %w", err)
	}
	series, err := p.series.TimeSeries(ctx, k.ledgerID, k.period, k.period, analytics.Month)
	if err != nil {
		return "", fmt.Errorf("monthly overview: %w", err)
	}
	if len(series) != 1 {
		return "", fmt.Errorf("monthly overview: got %d groups", len(series))
	}
	bucket, err := p.buckets.Bucket(ctx, k.ledgerID, k.period)
	if err != nil {
		return "", fmt.Errorf("bucket: %w", err)
	}
	return p.writer.WriteMonth(ctx, sheets.MonthlyReport{
		LedgerID:    k.ledgerID,
		LedgerName:  budget.Name,
		Period:      k.period,
		Overview:    series[0],
		Count:       bucket.Count,
		GeneratedAt: p.now().UTC(),
	})
}

func (p *ReportProcessor) take(n int) []reportKey {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if n > len(p.queue) {
		n = len(p.queue)
	}
	batch := append([]reportKey(nil), p.queue[:n]...)
	p.queue = p.queue[n:]
	for _, k := range batch {
		delete(p.queued, k)
	}
	return batch
}

func (p *ReportProcessor) requeue(keys ...reportKey) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	for _, k := range keys {
		p.pushLocked(k)
	}
}

func (p *ReportProcessor) done(k reportKey) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	delete(p.attempts, k)
}

func (p *ReportProcessor) handleFailure(ctx context.Context, k reportKey, err error) {
	p.qmu.Lock()
	p.attempts[k]++
	attempts := p.attempts[k]
	if attempts >= p.config.MaxRetries {
		delete(p.attempts, k)
	} else {
		p.pushLocked(k)
	}
	p.qmu.Unlock()

	if attempts >= p.config.MaxRetries {
		p.logger.ErrorContext(ctx, "Report export failed permanently after max retries",
			"ledger_id", k.ledgerID,
			"period", k.period.String(),
			"attempts", attempts,
			"error", err)
		return
	}
	p.logger.WarnContext(ctx, "Report export failed",
		"ledger_id", k.ledgerID,
		"period", k.period.String(),
		"attempt", attempts,
		"error", err)
}
