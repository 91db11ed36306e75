package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"savings/internal/exchange"
	"savings/internal/log"
	"savings/internal/middleware/ratelimit"
	"savings/internal/middleware/security"
	"savings/internal/middleware/trace"
	"savings/internal/services"
	appweb "savings/web"
)

// RateRefresher forces a new exchange-rate fetch.
type RateRefresher interface {
	ForceRefresh(ctx context.Context) exchange.Snapshot
}

// Config holds what NewServer needs besides the listen address.
type Config struct {
	Goals *services.GoalService
	// Rates may be nil, in which case /api/rates/refresh is unavailable.
	Rates             RateRefresher
	RequestsPerMinute int
	Logger            *log.Logger
}

type Server struct {
	http.Server
	templates *template.Template
	goals     *services.GoalService
	rates     RateRefresher
	validate  *validator.Validate
	logger    *log.Logger
	now       func() time.Time
	startedAt time.Time

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	shutdownOnce sync.Once
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run server.
func NewServer(addr string, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}

	limiterCfg := ratelimit.DefaultConfig()
	if cfg.RequestsPerMinute > 0 {
		limiterCfg.RequestsPerMinute = cfg.RequestsPerMinute
	}

	s := &Server{
		goals:            cfg.Goals,
		rates:            cfg.Rates,
		logger:           logger.WithComponent(log.ComponentHTTP),
		now:              time.Now,
		startedAt:        time.Now(),
		rateLimiter:      ratelimit.NewLimiter(limiterCfg),
		securityDetector: security.NewDetector(logger),
	}
	s.validate = newValidator(func() time.Time { return s.now() })
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)

	t, err := template.New("").Funcs(templateFuncs(func() time.Time { return s.now() })).
		ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		s.logger.Warn("Failed parsing templates", log.FieldError, err)
	} else {
		s.templates = t
	}

	mux := http.NewServeMux()

	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	api := func(h http.HandlerFunc) http.Handler { return security.NoStore(h) }
	mux.Handle("GET /api/goals", api(s.handleListGoals))
	mux.Handle("POST /api/goals", api(s.handleCreateGoal))
	mux.Handle("GET /api/goals/{id}", api(s.handleGetGoal))
	mux.Handle("PATCH /api/goals/{id}", api(s.handleUpdateGoal))
	mux.Handle("DELETE /api/goals/{id}", api(s.handleDeleteGoal))
	mux.Handle("POST /api/goals/{id}/contributions", api(s.handleAddContribution))
	mux.Handle("GET /api/dashboard", api(s.handleDashboard))
	mux.Handle("GET /api/rates", api(s.handleRates))
	mux.Handle("POST /api/rates/refresh", api(s.handleRefreshRates))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, s.securityDetector.ExtractClientIP(r),
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded. Please try again later.").Write(w)
	})

	// trace runs first so rejected requests are still logged and counted
	var handler http.Handler = mux
	handler = limit(handler)
	handler = headers.Middleware(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter cleanup and the HTTP server once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
