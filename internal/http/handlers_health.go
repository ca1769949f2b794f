package http

import (
	"context"
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady fails with 503 while a dependency cannot serve traffic.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", "error", err)
			ErrorResponse(http.StatusServiceUnavailable, "not_ready", err.Error()).Write(w)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type metricsDTO struct {
	Requests struct {
		Total             int64 `json:"total"`
		ServerErrors      int64 `json:"server_errors"`
		AverageResponseUs int64 `json:"average_response_us"`
	} `json:"requests"`
	RateLimit struct {
		Throttled     int64 `json:"throttled"`
		ActiveClients int64 `json:"active_clients"`
	} `json:"rate_limit"`
	Security struct {
		Suspicious int64 `json:"suspicious"`
		Blocked    int64 `json:"blocked"`
	} `json:"security"`
	IdempotencyKeys int `json:"idempotency_keys"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m metricsDTO
	tm := s.traceMiddleware.GetMetrics()
	m.Requests.Total = tm.TotalRequests
	m.Requests.ServerErrors = tm.ServerErrors
	m.Requests.AverageResponseUs = tm.AverageResponseTime
	rl := s.rateLimiter.GetMetrics()
	m.RateLimit.Throttled = rl.TotalHits
	m.RateLimit.ActiveClients = rl.ClientCount
	sec := s.securityDetector.GetMetrics()
	m.Security.Suspicious = sec.SuspiciousRequests
	m.Security.Blocked = sec.BlockedRequests
	m.IdempotencyKeys = s.idempotency.size()
	writeJSON(w, http.StatusOK, m)
}
