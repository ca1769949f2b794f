package google

import (
	"fmt"
	"strings"
	"time"

	"budgetledger/internal/core"
	ports "budgetledger/internal/sheets"
)

// Columns A..K of a report sheet.
var reportHeader = []any{
	"Ledger ID", "Ledger", "Period", "Currency", "Income", "Expense", "Net",
	"Transactions", "Incomplete", "Categories", "Updated",
}

func reportRow(r ports.MonthlyReport) []any {
	o := r.Overview
	return []any{
		r.LedgerID,
		r.LedgerName,
		r.Period.String(),
		string(o.Income.Currency),
		o.Income.String(),
		o.Expense.String(),
		o.Net().String(),
		r.Count,
		o.Incomplete,
		formatCategories(o.ByCategory),
		r.GeneratedAt.UTC().Format(time.RFC3339),
	}
}

// formatCategories renders "Food=120.00; Rent=900.00".
func formatCategories(cats []core.CategoryAmount) string {
	parts := make([]string, 0, len(cats))
	for _, c := range cats {
		name := c.Name
		if name == "" {
			name = c.CategoryID
		}
		parts = append(parts, fmt.Sprintf("%s=%s", name, c.Amount.String()))
	}
	return strings.Join(parts, "; ")
}

func rowKey(ledgerID, period string) string {
	return ledgerID + "|" + period
}

// indexRows maps ledger-month keys to 1-based row numbers from the A:C
// values of a report sheet and returns the first free row. Rows without a
// valid period, the header included, are skipped.
func indexRows(values [][]any) (map[string]int, int) {
	rows := make(map[string]int, len(values))
	for i, row := range values {
		cols := toStrings(row)
		if len(cols) < 3 || cols[0] == "" {
			continue
		}
		if _, err := core.ParsePeriod(cols[2]); err != nil {
			continue
		}
		rows[rowKey(cols[0], cols[2])] = i + 1
	}
	return rows, len(values) + 1
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}
