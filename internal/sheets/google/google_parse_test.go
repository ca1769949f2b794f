package google

import (
	"testing"
	"time"

	"budgetledger/internal/core"
	ports "budgetledger/internal/sheets"
)

func TestIndexRows(t *testing.T) {
	values := [][]any{
		{"Ledger ID", "Ledger", "Period"},
		{"b1", "Family", "2024-01"},
		{"b2", "Trip", "2024-01"},
		{},
		{"b1", "Family", "2024-02"},
		{"b1", "Family", "not a period"},
	}

	rows, next := indexRows(values)

	want := map[string]int{
		"b1|2024-01": 2,
		"b2|2024-01": 3,
		"b1|2024-02": 5,
	}
	if len(rows) != len(want) {
		t.Fatalf("indexRows() = %v, want %v", rows, want)
	}
	for k, row := range want {
		if rows[k] != row {
			t.Errorf("row for %s = %d, want %d", k, rows[k], row)
		}
	}
	if next != 7 {
		t.Errorf("next row = %d, want 7", next)
	}
}

func TestReportRow(t *testing.T) {
	r := ports.MonthlyReport{
		LedgerID:   "b1",
		LedgerName: "Family",
		Period:     core.Period{Year: 2024, Month: 3},
		Overview: core.PeriodOverview{
			Income:  core.NewMoney(500000, core.USD),
			Expense: core.NewMoney(125050, core.USD),
			ByCategory: []core.CategoryAmount{
				{CategoryID: "c1", Name: "Rent", Amount: core.NewMoney(100000, core.USD)},
				{CategoryID: "c2", Amount: core.NewMoney(25050, core.USD)},
			},
			Incomplete: true,
		},
		Count:       7,
		GeneratedAt: time.Date(2024, 4, 1, 8, 30, 0, 0, time.UTC),
	}

	got := reportRow(r)

	want := []any{"b1", "Family", "2024-03", "USD", "5000.00", "1250.50", "3749.50", 7, true,
		"Rent=1000.00; c2=250.50", "2024-04-01T08:30:00Z"}
	if len(got) != len(reportHeader) {
		t.Fatalf("row has %d columns, header has %d", len(got), len(reportHeader))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("column %d = %v, want %v", i, got[i], want[i])
		}
	}
}
