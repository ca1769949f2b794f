package http

import (
	"net/http"
	"strings"

	"budgetledger/internal/core"
	"budgetledger/internal/log"
	"budgetledger/internal/parser"
)

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("budgetID")
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	tx, err := req.transaction(ledgerID, core.DateOf(s.today()))
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	created, err := s.ledger.CreateTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, r, log.OpCreate, err)
		return
	}
	log.NewStructuredLogger(log.FromContext(r.Context())).LogTransactionCreated(r.Context(), ledgerID, created.ID,
		string(created.Type), created.Amount.Minor, string(created.Amount.Currency), created.CategoryID)
	writeJSON(w, http.StatusCreated, toTransaction(created))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseTransactionFilter(r)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), r.PathValue("budgetID"), f)
	if err != nil {
		writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactions(txs))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.GetTransaction(r.Context(), r.PathValue("budgetID"), r.PathValue("txID"))
	if err != nil {
		writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(tx))
}

func (s *Server) handleUpdateTransaction(w http.ResponseWriter, r *http.Request) {
	ledgerID, id := r.PathValue("budgetID"), r.PathValue("txID")
	var req transactionPatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	updated, err := s.ledger.UpdateTransaction(r.Context(), ledgerID, id, patch)
	if err != nil {
		writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(updated))
}

func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.RemoveTransaction(r.Context(), r.PathValue("budgetID"), r.PathValue("txID")); err != nil {
		writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeText(w http.ResponseWriter, r *http.Request) (textRequest, error) {
	var req textRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return req, err
	}
	req.Text = sanitizeInput(req.Text)
	req.AccountID = sanitizeInput(req.AccountID)
	if req.Text == "" {
		return req, invalidField("text", core.ErrAmbiguousAmount)
	}
	return req, nil
}

// handleParse returns the parsed candidate without persisting it.
func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	req, err := decodeText(w, r)
	if err != nil {
		writeError(w, r, log.OpParse, err)
		return
	}
	cand, err := s.ledger.Parse(r.Context(), r.PathValue("budgetID"), req.Text)
	if err != nil {
		writeError(w, r, log.OpParse, err)
		return
	}
	writeJSON(w, http.StatusOK, toCandidate(cand, cand.Uncertain(s.ledger.Threshold())))
}

// handleSmartAdd parses and persists free text. A repeated Idempotency-Key
// replays the first response instead of appending again.
func (s *Server) handleSmartAdd(w http.ResponseWriter, r *http.Request) {
	ledgerID := r.PathValue("budgetID")
	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKeyLen {
		BadRequestError("idempotency key too long").Write(w)
		return
	}
	if key == "" {
		s.smartAdd(w, r, ledgerID).Write(w)
		return
	}

	cacheKey := idempotencyKey(ledgerID, key)
	stored, claimed, err := s.idempotency.begin(cacheKey)
	if err != nil {
		ErrorResponse(http.StatusConflict, "in_progress", err.Error()).Write(w)
		return
	}
	if !claimed {
		stored.write(w)
		return
	}
	resp := s.smartAdd(w, r, ledgerID)
	body, err := resp.Bytes()
	if err != nil {
		s.idempotency.finish(cacheKey, http.StatusInternalServerError, nil)
	} else {
		s.idempotency.finish(cacheKey, resp.statusCode, body)
	}
	resp.Write(w)
}

func (s *Server) smartAdd(w http.ResponseWriter, r *http.Request, ledgerID string) *JSONResponseBuilder {
	req, err := decodeText(w, r)
	if err != nil {
		return s.errorResponse(r, log.OpAppend, err)
	}
	res, err := s.ledger.SmartAdd(r.Context(), ledgerID, req.Text, req.AccountID)
	if err != nil {
		return s.errorResponse(r, log.OpAppend, err)
	}
	tx := res.Transaction
	log.NewStructuredLogger(log.FromContext(r.Context())).LogTransactionCreated(r.Context(), ledgerID, tx.ID,
		string(tx.Type), tx.Amount.Minor, string(tx.Amount.Currency), tx.CategoryID)
	if len(res.Uncertain) > 0 {
		log.FromContext(r.Context()).InfoContext(r.Context(), "Smart add left fields for review",
			"ledger_id", ledgerID, "transaction_id", tx.ID, "uncertain", fieldNames(res.Uncertain))
	}
	return NewJSONResponse().Status(http.StatusCreated).Body(toSmartAdd(res))
}

// errorResponse is writeError for handlers that build the response first.
func (s *Server) errorResponse(r *http.Request, op string, err error) *JSONResponseBuilder {
	resp := ErrorFromDomain(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(), "Request failed", err,
			log.ComponentHTTP, op, log.NewFields().WithLedger(r.PathValue("budgetID")))
	}
	return resp
}

func fieldNames(fields []parser.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = string(f)
	}
	return out
}
