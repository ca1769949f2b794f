package http

import (
	"net/http"

	"budgetledger/internal/core"
	"budgetledger/internal/log"
)

// handleSetRate records a rate. Repeating an identical rate is accepted;
// a different rate for the same pair and instant is a 409.
func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	rate, err := s.rateFromRequest(req)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	if err := s.ledger.SetRate(r.Context(), rate); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRate(rate))
}

func (s *Server) rateFromRequest(req rateRequest) (core.ExchangeRate, error) {
	base, err := parseCurrencyField("base", req.Base)
	if err != nil {
		return core.ExchangeRate{}, err
	}
	quote, err := parseCurrencyField("quote", req.Quote)
	if err != nil {
		return core.ExchangeRate{}, err
	}
	value, err := parseRateValue(req.Rate)
	if err != nil {
		return core.ExchangeRate{}, err
	}
	asOf, err := parseInstant("as_of", req.AsOf, s.today())
	if err != nil {
		return core.ExchangeRate{}, err
	}
	return core.ExchangeRate{Base: base, Quote: quote, Rate: value, AsOf: asOf}, nil
}

// handleGetRate resolves base->quote at as_of, directly, by inversion or
// through a pivot currency.
func (s *Server) handleGetRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	base, err := parseCurrencyField("base", q.Get("base"))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	quote, err := parseCurrencyField("quote", q.Get("quote"))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	asOf, err := parseInstant("as_of", q.Get("as_of"), s.today())
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	rate, err := s.ledger.GetRate(base, quote, asOf)
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toRate(rate))
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("budgetID")
	var req recurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	today := core.DateOf(s.today())
	start, err := parseDateField("start_date", req.StartDate, today)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	end, err := parseDateField("end_date", req.EndDate, core.Date{})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	template, err := req.Transaction.transaction(ledgerID, start)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	rule, err := s.ledger.CreateRecurringRule(r.Context(), core.RecurringRule{
		LedgerID:  ledgerID,
		Template:  template,
		Every:     core.RepetitionTypes(sanitizeInput(req.Every)),
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecurring(rule))
}

func (s *Server) handleListRecurring(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("budgetID")
	if _, err := s.ledger.GetBudget(r.Context(), ledgerID); err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	rules, err := s.ledger.ListRecurringRules(r.Context(), ledgerID)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]recurringDTO, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRecurring(rule))
	}
	writeJSON(w, http.StatusOK, out)
}
