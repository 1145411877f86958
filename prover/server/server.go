package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/GPTx-global/marketplace/prover/health"
	"github.com/GPTx-global/marketplace/prover/log"
	"github.com/GPTx-global/marketplace/prover/metrics"
)

// HealthProvider exposes the last health check results.
type HealthProvider interface {
	IsHealthy() bool
	GetStatus() map[string]health.HealthStatus
}

// Server serves /healthz and /metrics.
type Server struct {
	addr    string
	health  HealthProvider
	metrics *metrics.Metrics
	server  *http.Server
}

type checkResponse struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
}

type healthResponse struct {
	Healthy bool                     `json:"healthy"`
	Checks  map[string]checkResponse `json:"checks"`
}

// New returns a status server for addr. It does not listen until Run.
func New(addr string, health HealthProvider, m *metrics.Metrics) *Server {
	s := &Server{
		addr:    addr,
		health:  health,
		metrics: m,
	}
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return s
}

// Router returns the handler serving /healthz and /metrics.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	return router
}

// Run serves until ctx ends, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listener)
}

// Serve is Run on a listener the caller already opened.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("serving status at http://%s", listener.Addr())
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Healthy: s.health.IsHealthy(),
		Checks:  make(map[string]checkResponse),
	}
	for name, status := range s.health.GetStatus() {
		check := checkResponse{Healthy: status.Healthy, LastCheck: status.LastCheck}
		if status.LastError != nil {
			check.Error = status.LastError.Error()
		}
		resp.Checks[name] = check
	}

	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Debugf("failed to write health response: %v", err)
	}
}
