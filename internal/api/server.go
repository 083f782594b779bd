// Package api serves the inventory over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/breeze-rmm/swtrack/internal/health"
	"github.com/breeze-rmm/swtrack/internal/logging"
	"github.com/breeze-rmm/swtrack/internal/tracker"
	"github.com/breeze-rmm/swtrack/internal/workerpool"
)

var log = logging.L("api")

const shutdownGrace = 10 * time.Second

// Options configures a Server.
type Options struct {
	Health   *health.Monitor
	Gatherer prometheus.Gatherer
}

// Server routes requests to the tracker service.
type Server struct {
	router   *chi.Mux
	svc      *tracker.Service
	health   *health.Monitor
	gatherer prometheus.Gatherer
	scans    *workerpool.Pool
	http     *http.Server
}

// NewServer builds the router. Background scans run on a single worker.
func NewServer(svc *tracker.Service, opts Options) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		svc:      svc,
		health:   opts.Health,
		gatherer: opts.Gatherer,
		scans:    workerpool.New("scan", 1, 1),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", ln.Addr().String())
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.scans.Shutdown(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	log.Info("shutting down http server")
	err := s.http.Shutdown(shutdownCtx)
	s.scans.Shutdown(shutdownCtx)
	return err
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// requestLogger logs each request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			logging.KeyDurationMs, time.Since(start).Milliseconds(),
			"requestId", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) metricsHandler() http.Handler {
	g := s.gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
