package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"budgetledger/internal/core"
	"budgetledger/internal/log"
	"budgetledger/internal/rates"
)

// JSONResponseBuilder provides a fluent API for building JSON responses.
type JSONResponseBuilder struct {
	statusCode int
	body       any
	headers    map[string]string
}

// NewJSONResponse creates a new response builder with default 200 status.
func NewJSONResponse() *JSONResponseBuilder {
	return &JSONResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

func (b *JSONResponseBuilder) Status(code int) *JSONResponseBuilder {
	b.statusCode = code
	return b
}

func (b *JSONResponseBuilder) Header(name, value string) *JSONResponseBuilder {
	b.headers[name] = value
	return b
}

// Body sets the value encoded as the response body. A nil body sends none.
func (b *JSONResponseBuilder) Body(v any) *JSONResponseBuilder {
	b.body = v
	return b
}

// Bytes returns the encoded body, used to replay idempotent responses.
func (b *JSONResponseBuilder) Bytes() ([]byte, error) {
	if b.body == nil {
		return nil, nil
	}
	return json.Marshal(b.body)
}

// Write sends the built response to the http.ResponseWriter.
func (b *JSONResponseBuilder) Write(w http.ResponseWriter) {
	payload, err := b.Bytes()
	if err != nil {
		payload, _ = json.Marshal(errorBody{Error: errorDetail{Code: "internal", Message: "failed to encode response"}})
		b.statusCode = http.StatusInternalServerError
	}
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	if payload != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(b.statusCode)
	if payload != nil {
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n"))
	}
}

type (
	errorBody struct {
		Error errorDetail `json:"error"`
	}

	errorDetail struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Field   string   `json:"field,omitempty"`
		Fields  []string `json:"fields,omitempty"`
	}
)

// ErrorResponse creates a standard JSON error response.
func ErrorResponse(statusCode int, code, message string) *JSONResponseBuilder {
	return NewJSONResponse().
		Status(statusCode).
		Body(errorBody{Error: errorDetail{Code: code, Message: message}})
}

func BadRequestError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, "bad_request", message)
}

func NotFoundError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusNotFound, "not_found", message)
}

func InternalServerError(message string) *JSONResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, "internal", message)
}

// validationSentinels are domain errors caused by bad input.
var validationSentinels = []error{
	core.ErrInvalidCurrency,
	core.ErrInvalidCategory,
	core.ErrInvalidAccount,
	core.ErrInvalidAmount,
	core.ErrInvalidType,
	core.ErrInvalidDay,
	core.ErrInvalidMonth,
	core.ErrInvalidPeriod,
	core.ErrEmptyName,
	core.ErrDescriptionTooLong,
	core.ErrUnbalancedTransfer,
}

// ErrorFromDomain maps an operation error to a response:
// validation problems are 422, missing entities 404, missing rates, rate
// conflicts and deletes of referenced entities 409, anything else 500.
func ErrorFromDomain(err error) *JSONResponseBuilder {
	var (
		verr *core.ValidationError
		amb  *core.AmbiguousFieldError
	)
	switch {
	case errors.Is(err, errBadRequest):
		return BadRequestError(err.Error())
	case errors.As(err, &verr):
		resp := ErrorResponse(http.StatusUnprocessableEntity, "validation_failed", err.Error())
		resp.body = errorBody{Error: errorDetail{Code: "validation_failed", Message: err.Error(), Field: verr.Field}}
		return resp
	case errors.Is(err, core.ErrAmbiguousAmount):
		return ErrorResponse(http.StatusUnprocessableEntity, "ambiguous_amount", err.Error())
	case errors.As(err, &amb):
		resp := ErrorResponse(http.StatusUnprocessableEntity, "ambiguous_field", err.Error())
		resp.body = errorBody{Error: errorDetail{Code: "ambiguous_field", Message: err.Error(), Fields: amb.Fields}}
		return resp
	case errors.Is(err, core.ErrNotFound):
		return NotFoundError(err.Error())
	case errors.Is(err, core.ErrRateNotFound):
		return ErrorResponse(http.StatusConflict, "rate_not_found", err.Error())
	case errors.Is(err, rates.ErrRateConflict):
		return ErrorResponse(http.StatusConflict, "rate_conflict", err.Error())
	case errors.Is(err, core.ErrInUse):
		return ErrorResponse(http.StatusConflict, "in_use", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorResponse(http.StatusServiceUnavailable, "unavailable", "request timed out")
	}
	for _, sentinel := range validationSentinels {
		if errors.Is(err, sentinel) {
			return ErrorResponse(http.StatusUnprocessableEntity, "validation_failed", err.Error())
		}
	}
	return InternalServerError("internal error")
}

// writeError logs unexpected failures and writes the mapped response.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := ErrorFromDomain(err)
	if resp.statusCode >= http.StatusInternalServerError {
		log.NewStructuredLogger(log.FromContext(r.Context())).LogError(r.Context(), "Request failed", err,
			log.ComponentHTTP, op, log.NewFields().WithHTTPRequest(r.Method, r.URL.Path, r.URL.RawQuery, r.UserAgent(), r.Referer()))
	}
	resp.Write(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	NewJSONResponse().Status(status).Body(v).Write(w)
}
