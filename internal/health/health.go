// Package health provides HTTP health check endpoints.
package health

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 2 * time.Second

// Status represents the health check response.
type Status struct {
	Status    string           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Version   string           `json:"version,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// Check represents an individual health check.
type Check struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) (bool, string)

type registered struct {
	fn       CheckFunc
	critical bool
}

// CheckOption configures a registered check.
type CheckOption func(*registered)

// Informational keeps a failing check out of the readiness verdict; it is
// still reported by /health.
func Informational() CheckOption {
	return func(r *registered) { r.critical = false }
}

// Server provides health check HTTP endpoints.
type Server struct {
	port         int
	version      string
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]registered
	mounts map[string]http.Handler
	server *http.Server
	addr   net.Addr
}

// NewServer creates a new health check server.
func NewServer(port int, version string) *Server {
	return &Server{
		port:         port,
		version:      version,
		checkTimeout: defaultCheckTimeout,
		checks:       make(map[string]registered),
		mounts:       make(map[string]http.Handler),
	}
}

// Mount serves h under pattern next to the health endpoints. Mounts must be
// added before Start.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mounts[pattern] = h
}

// RegisterCheck registers a check. Checks are critical unless marked
// Informational.
func (s *Server) RegisterCheck(name string, check CheckFunc, opts ...CheckOption) {
	r := registered{fn: check, critical: true}
	for _, o := range opts {
		o(&r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = r
}

// Handler returns the endpoint mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)

	s.mu.RLock()
	for pattern, h := range s.mounts {
		mux.Handle(pattern, h)
	}
	s.mu.RUnlock()
	return mux
}

// Start binds the port and serves in the background. Bind errors are
// returned; later serve errors are dropped since the endpoint is optional.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() { _ = srv.Serve(ln) }()
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop gracefully stops the health check server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// run executes every check concurrently, each under its own timeout.
func (s *Server) run(ctx context.Context) map[string]Check {
	s.mu.RLock()
	checks := make(map[string]registered, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()

	var mu sync.Mutex
	out := make(map[string]Check, len(checks))
	var g errgroup.Group
	for name, c := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, s.checkTimeout)
			defer cancel()

			healthy, msg := c.fn(cctx)
			if cctx.Err() != nil && healthy {
				healthy, msg = false, "check timed out"
			}
			mu.Lock()
			out[name] = Check{Healthy: healthy, Critical: c.critical, Message: msg}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func ready(checks map[string]Check) bool {
	for _, c := range checks {
		if c.Critical && !c.Healthy {
			return false
		}
	}
	return true
}

// handleHealth reports every check. The status is "degraded" when only
// informational checks fail and "unhealthy" when a critical one does.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := s.run(r.Context())

	status := Status{
		Status:    "ok",
		Checks:    checks,
		Version:   s.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK
	for _, c := range checks {
		if !c.Healthy && status.Status == "ok" {
			status.Status = "degraded"
		}
	}
	if !ready(checks) {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !ready(s.run(r.Context())) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
