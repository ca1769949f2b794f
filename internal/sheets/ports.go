package sheets

import (
	"context"
	"time"

	"budgetledger/internal/core"
)

type (
	// MonthlyReport is one ledger-month of aggregates in the reporting currency.
	MonthlyReport struct {
		LedgerID    string
		LedgerName  string
		Period      core.Period
		Overview    core.PeriodOverview
		Count       int
		GeneratedAt time.Time
	}

	// ReportWriter stores monthly reports. Writing the same ledger-month
	// again replaces the previous report.
	ReportWriter interface {
		WriteMonth(ctx context.Context, r MonthlyReport) (rowRef string, err error)
	}
)
