package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"budgetledger/internal/core"
	"budgetledger/internal/sheets"
)

type key struct {
	ledgerID string
	period   core.Period
}

// Store keeps the latest report per ledger-month in memory.
type Store struct {
	mu      sync.Mutex
	reports map[key]sheets.MonthlyReport
	rows    map[key]int
	writes  int
}

var _ sheets.ReportWriter = (*Store)(nil)

func New() *Store {
	return &Store{reports: map[key]sheets.MonthlyReport{}, rows: map[key]int{}}
}

// WriteMonth stores the report and returns a synthetic row reference that
// stays stable across rewrites.
func (s *Store) WriteMonth(_ context.Context, r sheets.MonthlyReport) (string, error) {
	if r.LedgerID == "" {
		return "", fmt.Errorf("report without ledger id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{r.LedgerID, r.Period}
	row, ok := s.rows[k]
	if !ok {
		row = len(s.rows) + 1
		s.rows[k] = row
	}
	s.reports[k] = r
	s.writes++
	return fmt.Sprintf("mem:%d", row), nil
}

// Report returns the stored report for a ledger-month.
func (s *Store) Report(ledgerID string, p core.Period) (sheets.MonthlyReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[key{ledgerID, p}]
	return r, ok
}

// Reports lists stored reports ordered by ledger and period.
func (s *Store) Reports() []sheets.MonthlyReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sheets.MonthlyReport, 0, len(s.reports))
	for _, r := range s.reports {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LedgerID != out[j].LedgerID {
			return out[i].LedgerID < out[j].LedgerID
		}
		return out[i].Period.Before(out[j].Period)
	})
	return out
}

// Writes counts WriteMonth calls, rewrites included.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
