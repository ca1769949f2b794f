package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"budgetledger/internal/analytics"
	"budgetledger/internal/core"
	"budgetledger/internal/log"
	"budgetledger/internal/middleware/ratelimit"
	"budgetledger/internal/middleware/security"
	"budgetledger/internal/middleware/trace"
	"budgetledger/internal/services"
)

// Options configure the server. Zero values fall back to defaults.
type Options struct {
	Logger         *log.Logger
	RateLimitRPM   int
	IdempotencyTTL time.Duration
	// Ready reports whether dependencies (storage, broker) can serve traffic.
	Ready func(ctx context.Context) error
	Now   func() time.Time
	// DefaultCurrency applies to budgets created without a reporting currency.
	DefaultCurrency core.Currency
}

type Server struct {
	http.Server
	ledger *services.LedgerService
	stats  *analytics.Service
	logger *log.Logger
	ready  func(ctx context.Context) error
	now    func() time.Time

	defaultCurrency core.Currency

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware
	idempotency      *idempotencyStore

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, ledger *services.LedgerService, stats *analytics.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = core.USD
	}
	logger := opts.Logger.WithComponent(log.ComponentHTTP)
	detector := security.NewDetector()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		ledger:           ledger,
		stats:            stats,
		logger:           logger,
		ready:            opts.Ready,
		now:              opts.Now,
		defaultCurrency:  opts.DefaultCurrency,
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitRPM}),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(detector.ExtractClientIP, logger.WithComponent(log.ComponentTrace)),
		idempotency:      newIdempotencyStore(opts.IdempotencyTTL),
	}

	mux := http.NewServeMux()
	s.routes(mux)
	s.Handler = s.middleware(mux)
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/budgets", s.handleCreateBudget)
	mux.HandleFunc("GET /api/budgets", s.handleListBudgets)
	mux.HandleFunc("GET /api/budgets/{budgetID}", s.handleGetBudget)

	mux.HandleFunc("GET /api/budgets/{budgetID}/accounts", s.handleListAccounts)
	mux.HandleFunc("POST /api/budgets/{budgetID}/accounts", s.handleCreateAccount)

	mux.HandleFunc("GET /api/budgets/{budgetID}/categories", s.handleListCategories)
	mux.HandleFunc("POST /api/budgets/{budgetID}/categories", s.handleCreateCategory)
	mux.HandleFunc("PATCH /api/budgets/{budgetID}/categories/{categoryID}", s.handleUpdateCategory)
	mux.HandleFunc("DELETE /api/budgets/{budgetID}/categories/{categoryID}", s.handleDeleteCategory)

	mux.HandleFunc("GET /api/budgets/{budgetID}/vocabulary", s.handleGetVocabulary)
	mux.HandleFunc("PUT /api/budgets/{budgetID}/vocabulary", s.handleSetVocabulary)

	mux.HandleFunc("POST /api/budgets/{budgetID}/parse", s.handleParse)
	mux.HandleFunc("POST /api/budgets/{budgetID}/smart-add", s.handleSmartAdd)

	mux.HandleFunc("GET /api/budgets/{budgetID}/transactions", s.handleListTransactions)
	mux.HandleFunc("POST /api/budgets/{budgetID}/transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /api/budgets/{budgetID}/transactions/{txID}", s.handleGetTransaction)
	mux.HandleFunc("PATCH /api/budgets/{budgetID}/transactions/{txID}", s.handleUpdateTransaction)
	mux.HandleFunc("DELETE /api/budgets/{budgetID}/transactions/{txID}", s.handleDeleteTransaction)

	mux.HandleFunc("GET /api/budgets/{budgetID}/stats/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/budgets/{budgetID}/stats/expenses-by-category", s.handleByCategory)
	mux.HandleFunc("GET /api/budgets/{budgetID}/stats/income-vs-expenses", s.handleIncomeVsExpenses)
	mux.HandleFunc("GET /api/budgets/{budgetID}/stats/time-series", s.handleTimeSeries)

	mux.HandleFunc("GET /api/budgets/{budgetID}/recurring", s.handleListRecurring)
	mux.HandleFunc("POST /api/budgets/{budgetID}/recurring", s.handleCreateRecurring)

	mux.HandleFunc("GET /api/rates", s.handleGetRate)
	mux.HandleFunc("POST /api/rates", s.handleSetRate)
}

// middleware wraps h, outermost first: tracing, request logger, security
// headers, probe detection, then rate limiting of writes.
func (s *Server) middleware(h http.Handler) http.Handler {
	h = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, isWrite, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, please try again later").Write(w)
	})(h)
	h = s.securityDetector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = log.RequestIDMiddleware(func(r *http.Request) string { return trace.GetRequestID(r.Context()) })(h)
	h = log.Middleware(s.logger)(h)
	return s.traceMiddleware.Middleware(h)
}

func isWrite(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// Shutdown stops accepting requests and releases background resources.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) today() time.Time {
	return s.now().UTC()
}
