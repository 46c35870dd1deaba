package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/marmos91/webhdfsfs/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultMetricsPort = 9090
	healthProbeTimeout = 5 * time.Second
	shutdownTimeout    = 5 * time.Second
)

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Zero selects 9090.
	Port int

	// Health probes the remote endpoint for /healthz. Nil reports healthy.
	Health func(ctx context.Context) error
}

// Server exposes /metrics and /healthz over HTTP.
//
// /metrics answers 503 when collection is disabled. /healthz runs the
// configured probe on every request and answers 503 with the probe error
// when the WebHDFS endpoint cannot be reached.
type Server struct {
	cfg  ServerConfig
	http *http.Server

	mu    sync.Mutex
	bound int

	stopOnce sync.Once
	stopErr  error
}

// NewServer returns a server that is not listening yet. Call Start.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Port <= 0 {
		cfg.Port = defaultMetricsPort
	}

	s := &Server{cfg: cfg}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
	return s
}

// Handler returns the routing table of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	if reg := GetRegistry(); reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorLog:          promErrorLog{},
		}))
	} else {
		mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}

	mux.HandleFunc("GET /healthz", s.serveHealth)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprint(w, "webhdfsfs\n\n/metrics  Prometheus exposition\n/healthz  WebHDFS endpoint reachability\n")
	})

	return mux
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")

	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()

		if err := s.cfg.Health(ctx); err != nil {
			logger.Debug("Health probe failed: %v", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "unhealthy: %v\n", err)
			return
		}
	}
	_, _ = fmt.Fprint(w, "ok\n")
}

// Start listens on the configured port and serves until ctx is cancelled,
// then shuts down gracefully. A failure to bind is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return fmt.Errorf("metrics server listen on port %d: %w", s.cfg.Port, err)
	}

	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.mu.Lock()
		s.bound = addr.Port
		s.mu.Unlock()
	}
	logger.Info("Metrics server listening on %s", ln.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- s.http.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Stop shuts the server down. Only the first call has an effect.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		if err := s.http.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("metrics server shutdown: %w", err)
			logger.Warn("Metrics server shutdown: %v", err)
			return
		}
		logger.Debug("Metrics server stopped")
	})
	return s.stopErr
}

// Port returns the port the server is bound to, or the configured port
// before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != 0 {
		return s.bound
	}
	return s.cfg.Port
}

// promErrorLog routes promhttp encoding errors to the mount's logger.
type promErrorLog struct{}

func (promErrorLog) Println(v ...any) {
	logger.Error("Metrics exposition: %s", fmt.Sprint(v...))
}
