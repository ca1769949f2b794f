package memory

import (
	"context"
	"testing"

	"budgetledger/internal/core"
	"budgetledger/internal/sheets"
)

func TestMemoryStoreWriteAndRewrite(t *testing.T) {
	s := New()
	ctx := context.Background()
	jan := core.Period{Year: 2024, Month: 1}
	feb := core.Period{Year: 2024, Month: 2}

	ref, err := s.WriteMonth(ctx, sheets.MonthlyReport{LedgerID: "b1", Period: jan, Count: 1})
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected write: ref=%q err=%v", ref, err)
	}
	if ref, _ := s.WriteMonth(ctx, sheets.MonthlyReport{LedgerID: "b1", Period: feb}); ref != "mem:2" {
		t.Fatalf("second month ref = %q, want mem:2", ref)
	}
	ref, err = s.WriteMonth(ctx, sheets.MonthlyReport{LedgerID: "b1", Period: jan, Count: 3})
	if err != nil || ref != "mem:1" {
		t.Fatalf("rewrite should keep the row: ref=%q err=%v", ref, err)
	}

	got, ok := s.Report("b1", jan)
	if !ok || got.Count != 3 {
		t.Errorf("Report(b1, 2024-01) = %+v, %v", got, ok)
	}
	if n := len(s.Reports()); n != 2 {
		t.Errorf("Reports() len = %d, want 2", n)
	}
	if s.Writes() != 3 {
		t.Errorf("Writes() = %d, want 3", s.Writes())
	}
}

func TestMemoryStoreRejectsMissingLedger(t *testing.T) {
	if _, err := New().WriteMonth(context.Background(), sheets.MonthlyReport{}); err == nil {
		t.Error("expected error for a report without ledger id")
	}
}

func TestReportsOrdered(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.WriteMonth(ctx, sheets.MonthlyReport{LedgerID: "b2", Period: core.Period{Year: 2024, Month: 1}})
	s.WriteMonth(ctx, sheets.MonthlyReport{LedgerID: "b1", Period: core.Period{Year: 2024, Month: 3}})
	s.WriteMonth(ctx, sheets.MonthlyReport{LedgerID: "b1", Period: core.Period{Year: 2023, Month: 12}})

	got := s.Reports()
	want := []string{"b1 2023-12", "b1 2024-03", "b2 2024-01"}
	for i, r := range got {
		if s := r.LedgerID + " " + r.Period.String(); s != want[i] {
			t.Errorf("Reports()[%d] = %s, want %s", i, s, want[i])
		}
	}
}
