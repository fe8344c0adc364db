package metric

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
)

// HealthFunc reports the current health document and whether it is healthy.
type HealthFunc func() (any, bool)

// Server serves /metrics and /health over HTTP.
type Server struct {
	addr     string
	path     string
	registry *MetricsRegistry
	health   HealthFunc

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	stopped  bool
}

// NewServer creates a metrics server. An empty path defaults to /metrics and
// an empty addr to :9090.
func NewServer(addr, path string, registry *MetricsRegistry, health HealthFunc) *Server {
	if path == "" {
		path = "/metrics"
	}
	if addr == "" {
		addr = ":9090"
	}
	return &Server{addr: addr, path: path, registry: registry, health: health}
}

// Handler returns the HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}

	doc, healthy := s.health()
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(doc)
}

// Listen binds the listening socket so that bind errors surface at startup.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "MetricsServer", "Listen", "start server")
	}
	if s.registry == nil {
		return errors.WrapFatal(fmt.Errorf("nil registry"), "MetricsServer", "Listen", "metrics registry not provided")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "MetricsServer", "Listen", fmt.Sprintf("listen on %s", s.addr))
	}

	s.listener = ln
	s.stopped = false
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Serve blocks serving requests until Shutdown. Listen must be called first.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, ln, stopped := s.server, s.listener, s.stopped
	s.mu.Unlock()

	if srv == nil {
		if stopped {
			return nil
		}
		return errors.WrapInvalid(errors.ErrNotStarted, "MetricsServer", "Serve", "serve")
	}
	if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapTransient(err, "MetricsServer", "Serve", "serve http")
	}
	return nil
}

// Shutdown gracefully stops the server. A later Serve returns nil.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, ln := s.server, s.listener
	s.server = nil
	s.listener = nil
	if srv != nil {
		s.stopped = true
	}
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	var err error
	if serr := srv.Shutdown(ctx); serr != nil {
		err = errors.WrapTransient(serr, "MetricsServer", "Shutdown", "stop http server")
	}
	// Shutdown only closes listeners that reached Serve.
	if cerr := ln.Close(); cerr != nil && !stderrors.Is(cerr, net.ErrClosed) {
		err = stderrors.Join(err, errors.WrapTransient(cerr, "MetricsServer", "Shutdown", "close listener"))
	}
	return err
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
