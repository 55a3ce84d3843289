// Package server exposes the distribution engine over HTTP: public commit,
// claim and read endpoints plus signature-authenticated admin endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sparkchain/tge/pkg/metrics"
	"github.com/sparkchain/tge/pkg/tge"
)

// Config configures a Server.
type Config struct {
	Logger *slog.Logger
	Engine *tge.Engine
	Pool   *pgxpool.Pool

	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// AllowedOrigins enables CORS for browser clients; empty disables it.
	AllowedOrigins []string

	// RateLimit throttles mutating endpoints per client IP. Zero values
	// pick the defaults below.
	RateLimit rate.Limit
	RateBurst int

	Version string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Engine == nil {
		return errors.New("engine is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		// 100 requests/minute per IP with a burst of 20.
		cfg.RateLimit = rate.Every(time.Minute / 100)
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 20
	}
	return nil
}

// Server is the HTTP front end of the distribution service.
type Server struct {
	log     *slog.Logger
	cfg     Config
	engine  *tge.Engine
	limiter *RateLimiter
	httpSrv *http.Server
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	s := &Server{
		log:     cfg.Logger,
		cfg:     cfg,
		engine:  cfg.Engine,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	return s, nil
}

// Router builds the HTTP routes. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", HeaderAuthority, HeaderSignature},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/version", s.handleVersion)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleGetState)
		r.Get("/commitments/{owner}", s.handleGetCommitment)
		r.Get("/events", s.handleGetEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Post("/commits", s.handleCommit)
			r.Post("/claims", s.handleClaim)

			r.Route("/admin", func(r chi.Router) {
				r.Post("/initialize", s.signed(s.handleInitialize))
				r.Post("/vault", s.signed(s.handleCreateVault))
				r.Post("/vault/fund", s.signed(s.handleFundVault))
				r.Post("/signer", s.signed(s.handleInitializeSigner))
				r.Patch("/signer", s.signed(s.handleUpdateSigner))
				r.Put("/commit-end-time", s.signed(s.handleSetCommitEndTime))
				r.Post("/withdraw", s.signed(s.handleWithdraw))
			})
		})
	})

	return r
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err)
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Pool.Ping(r.Context()); err != nil {
		s.log.Debug("readyz: database not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, werr := w.Write([]byte("database not ready\n")); werr != nil {
			s.log.Error("failed to write readyz response", "error", werr)
		}
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(s.log, w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.HTTPRequestsTotal.WithLabelValues(
			routePattern(r), fmt.Sprintf("%d", ww.Status())).Inc()
	})
}

// routePattern returns the chi route pattern so path parameters do not blow
// up metric cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
