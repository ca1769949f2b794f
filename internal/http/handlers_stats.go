package http

import (
	"net/http"

	"budgetledger/internal/analytics"
	"budgetledger/internal/core"
	"budgetledger/internal/log"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.stats.Dashboard(r.Context(), r.PathValue("budgetID"))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboard(d))
}

// handleByCategory defaults to the current month and to expenses.
func (s *Server) handleByCategory(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriodParam(r, "period", s.currentPeriod())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	typ, err := parseTransactionType("type", r.URL.Query().Get("type"), core.Expense)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	report, err := s.stats.ByCategory(r.Context(), r.PathValue("budgetID"), period, typ)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryReport(report))
}

// periodRange reads from and to; both default to the current month.
func (s *Server) periodRange(r *http.Request) (from, to core.Period, err error) {
	current := s.currentPeriod()
	if to, err = parsePeriodParam(r, "to", current); err != nil {
		return
	}
	from, err = parsePeriodParam(r, "from", to)
	return
}

func (s *Server) handleIncomeVsExpenses(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.periodRange(r)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	report, err := s.stats.IncomeVsExpenses(r.Context(), r.PathValue("budgetID"), from, to)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toIncomeVsExpenses(report))
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.periodRange(r)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	g, err := analytics.ParseGranularity(r.URL.Query().Get("granularity"))
	if err != nil {
		writeError(w, r, log.OpRead, invalidField("granularity", err))
		return
	}
	series, err := s.stats.TimeSeries(r.Context(), r.PathValue("budgetID"), from, to, g)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"granularity": g,
		"series":      toOverviews(series),
	})
}

func (s *Server) currentPeriod() core.Period {
	return core.PeriodOf(core.DateOf(s.today()))
}
