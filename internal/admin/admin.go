// Package admin serves the chat server's operational HTTP endpoints.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zwy2021/ChatRoom/internal/chat"
)

// Stats is the read-only view of the reactor the endpoints report on.
type Stats interface {
	State() chat.ServerState
	ClientCount() int
}

type health struct {
	State   string `json:"state"`
	Clients int    `json:"clients"`
}

// NewRouter returns a router exposing /metrics from g and /healthz from
// stats.
func NewRouter(stats Stats, g prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(stats)).Methods(http.MethodGet, http.MethodHead)
	return r
}

func healthHandler(stats Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := stats.State()
		code := http.StatusOK
		if state != chat.ServerRunning {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(health{State: state.String(), Clients: stats.ClientCount()})
	}
}

// Server is the admin HTTP listener.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// Listen binds addr and prepares h to be served on it.
func Listen(addr string, h http.Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		srv:    &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger,
	}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve blocks until ctx is done, then shuts the listener down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.ln) }()
	s.logger.Info("admin endpoint listening", "addr", s.ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.srv.Close()
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
