package http

import (
	"net/http"

	"budgetledger/internal/core"
	"budgetledger/internal/log"
)

// handleCreateBudget falls back to the configured reporting currency.
func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	currency := s.defaultCurrency
	if req.ReportingCurrency != "" {
		var err error
		if currency, err = parseCurrencyField("reporting_currency", req.ReportingCurrency); err != nil {
			writeError(w, r, log.OpCreate, err)
			return
		}
	}
	b, err := s.ledger.CreateBudget(r.Context(), core.Budget{Name: sanitizeInput(req.Name), ReportingCurrency: currency})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBudget(b))
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.ledger.ListBudgets(r.Context())
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]budgetDTO, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, toBudget(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := s.ledger.GetBudget(r.Context(), r.PathValue("budgetID"))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudget(b))
}

// handleListAccounts returns accounts with balances derived from history.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	bal, err := s.stats.Balances(r.Context(), r.PathValue("budgetID"))
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]accountDTO, 0, len(bal.Accounts))
	for _, a := range bal.Accounts {
		out = append(out, toAccountBalance(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	currency, err := parseCurrencyField("default_currency", req.DefaultCurrency)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	initial, err := parseSignedMoney("initial_balance", req.InitialBalance, currency)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	accType := core.AccountType(sanitizeInput(req.Type))
	if accType == "" {
		accType = core.Cash
	}
	a, err := s.ledger.CreateAccount(r.Context(), core.Account{
		LedgerID:        r.PathValue("budgetID"),
		Name:            sanitizeInput(req.Name),
		Type:            accType,
		DefaultCurrency: currency,
		InitialBalance:  initial,
	})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccount(a))
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.ledger.ListCategories(r.Context(), r.PathValue("budgetID"))
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	out := make([]categoryDTO, 0, len(cats))
	for _, c := range cats {
		out = append(out, toCategory(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	typ, err := parseTransactionType("type", req.Type, "")
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	c, err := s.ledger.CreateCategory(r.Context(), core.Category{
		LedgerID: r.PathValue("budgetID"),
		Name:     sanitizeInput(req.Name),
		Type:     typ,
		ParentID: sanitizeInput(req.ParentID),
	})
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategory(c))
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	typ, err := parseTransactionType("type", req.Type, "")
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	c, err := s.ledger.UpdateCategory(r.Context(), core.Category{
		ID:       r.PathValue("categoryID"),
		LedgerID: r.PathValue("budgetID"),
		Name:     sanitizeInput(req.Name),
		Type:     typ,
		ParentID: sanitizeInput(req.ParentID),
	})
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategory(c))
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteCategory(r.Context(), r.PathValue("budgetID"), r.PathValue("categoryID")); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetVocabulary(w http.ResponseWriter, r *http.Request) {
	v, err := s.ledger.Vocabulary(r.Context(), r.PathValue("budgetID"))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toVocabulary(v))
}

func (s *Server) handleSetVocabulary(w http.ResponseWriter, r *http.Request) {
	var req vocabularyDTO
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	v := req.vocabulary()
	if err := s.ledger.SetVocabulary(r.Context(), r.PathValue("budgetID"), v); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, toVocabulary(v))
}
