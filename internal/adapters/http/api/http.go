// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/calcstore/internal/adapters/ratelimit"
	"github.com/okian/calcstore/internal/domain/calculation"
	"github.com/okian/calcstore/pkg/logger"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 100 << 10

// Dependencies required by the calculation handlers.
type Dependencies interface {
	AddCalculation(ctx context.Context, ops calculation.Operands) (calculation.Calculation, error)
	ListCalculations(ctx context.Context, limit int) ([]calculation.Calculation, error)
	GetCalculation(ctx context.Context, id string) (calculation.Calculation, error)
	DeleteCalculation(ctx context.Context, id string) (calculation.Calculation, error)
}

// HealthChecker reports whether storage is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	logger       logger.Logger
	maxBodyBytes int64

	limiter  *ratelimit.Limiter
	keyFunc  ratelimit.KeyFunc
	recorder ratelimit.StatsRecorder

	rootHandler        *RootHandler
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	calculationHandler *CalculationHandler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxBodyBytes bounds the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithRateLimit enables per-client admission control. keyFn and recorder
// may be nil.
func WithRateLimit(l *ratelimit.Limiter, keyFn ratelimit.KeyFunc, recorder ratelimit.StatsRecorder) Option {
	return func(s *Server) {
		s.limiter = l
		s.keyFunc = keyFn
		s.recorder = recorder
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, health HealthChecker, stats StatsProvider, opts ...Option) *Server {
	s := &Server{
		logger:       logger.Nop(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter != nil && s.keyFunc == nil {
		s.keyFunc = ratelimit.DefaultKeyFunc("", false)
	}

	totals, _ := s.recorder.(TotalsReader)
	s.rootHandler = NewRootHandler()
	s.healthHandler = NewHealthHandler(health)
	s.statsHandler = NewStatsHandler(stats, totals)
	s.calculationHandler = NewCalculationHandler(deps, s.logger, s.maxBodyBytes)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	c := s.calculationHandler
	route := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.Handle(pattern, s.Wrap(MetricsMiddleware(h, endpoint)))
	}

	route("GET /{$}", "root", s.rootHandler.HandleRoot)
	route("GET /healthz", "healthz", s.healthHandler.HandleHealth)
	route("GET /stats", "stats", s.statsHandler.HandleStats)
	mux.Handle("GET /metrics", CORSMiddleware(MetricsHandler()))

	route("POST /api/calculations/add", "add_calculation", c.HandleAdd)
	route("GET /api/calculations", "list_calculations", c.HandleList)
	route("GET /api/calculations/{$}", "list_calculations", c.HandleList)
	route("GET /api/calculations/{id}", "get_calculation", c.HandleGet)
	route("DELETE /api/calculations/{id}", "delete_calculation", c.HandleDelete)

	// Preflight and unmatched routes fall through to here.
	route("/", "not_found", handleNotFound)
}

// Wrap applies the request middleware chain, outermost first.
func (s *Server) Wrap(h http.Handler) http.Handler {
	h = BodyLimitMiddleware(h, s.maxBodyBytes)
	if s.limiter != nil {
		h = RateLimitMiddleware(h, s.limiter, s.keyFunc, s.recorder, s.logger)
	}
	h = CORSMiddleware(h)
	h = RequestIDMiddleware(h)
	return RecoverMiddleware(h, s.logger)
}

// envelope is the JSON shape of every business response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   *int   `json:"count,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	env := envelope{Success: false, Message: message}
	if err != nil {
		env.Error = err.Error()
	}
	writeJSON(w, status, env)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Route not found", nil)
}
