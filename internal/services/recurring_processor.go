package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"budgetledger/internal/core"
)

// RecurringProcessor materializes due recurring rules into transactions.
type RecurringProcessor struct {
	service *LedgerService
	logger  *slog.Logger
}

func NewRecurringProcessor(service *LedgerService) *RecurringProcessor {
	return &RecurringProcessor{
		service: service,
		logger:  slog.Default().With("component", "recurring"),
	}
}

// ProcessDue creates one transaction, dated today, for every rule due on
// now's calendar day, and records the run on the rule. A failing rule is
// logged and skipped so the rest still run.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if p.service == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	rules, err := p.service.ListRecurringRules(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list recurring rules: %w", err)
	}
	today := core.DateOf(now)

	p.logger.InfoContext(ctx, "Processing recurring rules",
		"total", len(rules),
		"processing_date", today.String())

	processed := 0
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		due, err := IsRuleDue(rule, today)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to check if rule is due",
				"rule_id", rule.ID,
				"error", err)
			continue
		}
		if !due {
			continue
		}

		tx := rule.Template
		tx.LedgerID = rule.LedgerID
		tx.OccurredAt = today
		tx.Source = core.SourceRecurring

		created, err := p.service.CreateTransaction(ctx, tx)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to create transaction from recurring rule",
				"rule_id", rule.ID,
				"ledger_id", rule.LedgerID,
				"error", err)
			continue
		}

		if err := p.service.MarkRuleRun(ctx, rule, today); err != nil {
			// the transaction exists; the next pass would create a duplicate
			p.logger.ErrorContext(ctx, "Failed to record rule run",
				"rule_id", rule.ID,
				"transaction_id", created.ID,
				"error", err)
		}

		processed++
		p.logger.InfoContext(ctx, "Created transaction from recurring rule",
			"rule_id", rule.ID,
			"ledger_id", rule.LedgerID,
			"transaction_id", created.ID,
			"amount_minor", created.Amount.Minor,
			"currency", created.Amount.Currency,
			"frequency", rule.Every)
	}

	p.logger.InfoContext(ctx, "Recurring rule processing complete",
		"processed", processed,
		"total_checked", len(rules))

	return processed, nil
}
