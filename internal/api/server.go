package api

import (
	"context"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nunnr/gephiserver/internal/engine"
	"github.com/nunnr/gephiserver/internal/pipeline"
	"github.com/nunnr/gephiserver/internal/store"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
	// writeTimeout leaves room for the longest synchronous render wait.
	writeTimeout = 2 * time.Minute
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router          *chi.Mux
	store           store.Store
	registry        *pipeline.Registry
	scheduler       *engine.Scheduler
	logger          *slog.Logger
	addr            string
	shutdownTimeout time.Duration
	limiter         *clientLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithRateLimit limits every client to rps render requests per second with
// the given burst. A zero rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newClientLimiter(rps, burst)
		}
	}
}

// WithShutdownTimeout bounds how long Run waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) { s.shutdownTimeout = d }
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, st store.Store, reg *pipeline.Registry, sched *engine.Scheduler, logger *slog.Logger, opts ...Option) *Server {
	srv := &Server{
		router:          chi.NewRouter(),
		store:           st,
		registry:        reg,
		scheduler:       sched,
		logger:          logger,
		addr:            addr,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Job-Id", "Location", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Get("/v1/pipelines", s.handleListPipelines)
	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Route("/v1/graphs", func(r chi.Router) {
		r.Get("/", s.handleListGraphs)
		r.Get("/{graphID}", s.handleGetGraph)
		r.With(s.rateLimit).Get("/{graphID}/render", s.handleRenderQuery)
	})

	s.router.Route("/v1/render", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/", s.handleRender)
		r.Post("/async", s.handleRenderAsync)
	})

	s.router.Route("/v1/jobs", func(r chi.Router) {
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handlePollJob)
		r.Delete("/{id}", s.handleCancelJob)
		r.Get("/{id}/result", s.handleCollectJob)
		r.Get("/{id}/record", s.handleGetJobRecord)
		r.Get("/{id}/events", s.handleStreamEvents)
		r.Get("/{id}/events/history", s.handleGetEventHistory)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is done or SIGINT/SIGTERM arrives, then drains
// in-flight requests. The scheduler is not shut down here.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "cause", context.Cause(ctx).Error())
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "server error")
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
