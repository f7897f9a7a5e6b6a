// Package gateway ties the configuration store, cache, and backend
// together behind the HTTP/WS surface spec.md §4.H/§4.I names. Its
// Server type is the generalization of the teacher's orchestrator.App
// (construct once at startup, hold shared dependencies, expose them to
// handlers via closures/methods rather than globals).
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NickScherbakov/GC-Forged-Pylot/services/backend"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/cache"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/config"
	"github.com/NickScherbakov/GC-Forged-Pylot/services/gateway/observability"
)

// Server holds every dependency a gateway HTTP/WS handler needs. It is
// constructed once by Lifecycle.Start and passed to routes.SetupRoutes.
type Server struct {
	Config  *config.Store
	Cache   *cache.Cache
	Logger  *slog.Logger
	Metrics *observability.Metrics
	started time.Time

	backendMu sync.RWMutex
	backend   backend.Backend

	liveConns int64 // atomic, incremented/decremented around WS/stream lifetimes

	inFlightMu sync.Mutex
	inFlight   map[string]struct{} // request IDs currently streaming, for Stop's mass-cancel
}

// NewServer builds a Server. backend may be swapped later via SetBackend
// when a POST /v1/config reload replaces the active model.
func NewServer(cfg *config.Store, c *cache.Cache, b backend.Backend, logger *slog.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		Config:   cfg,
		Cache:    c,
		Logger:   logger,
		Metrics:  metrics,
		started:  time.Now(),
		backend:  b,
		inFlight: make(map[string]struct{}),
	}
}

// Backend returns the currently active backend. Safe for concurrent use
// with SetBackend (spec.md §5: "configuration object... mutation takes a
// write lock and publishes a new immutable snapshot" — the same pattern
// applied to the backend handle a config reload may replace).
func (s *Server) Backend() backend.Backend {
	s.backendMu.RLock()
	defer s.backendMu.RUnlock()
	return s.backend
}

// SetBackend swaps the active backend, used when a config reload changes
// model_path or backend kind (spec.md §4.H POST /v1/config: "responses
// flag whether a model reload is required").
func (s *Server) SetBackend(b backend.Backend) {
	s.backendMu.Lock()
	defer s.backendMu.Unlock()
	s.backend = b
}

// Uptime is the duration since the server started serving.
func (s *Server) Uptime() time.Duration {
	return time.Since(s.started)
}

// AddConn/RemoveConn track the live connection count GET /v1/status
// reports (spec.md §4.H).
func (s *Server) AddConn()    { atomic.AddInt64(&s.liveConns, 1) }
func (s *Server) RemoveConn() { atomic.AddInt64(&s.liveConns, -1) }
func (s *Server) LiveConns() int64 {
	return atomic.LoadInt64(&s.liveConns)
}

// WatchCancellation registers requestID as an in-flight backend call and
// arranges for the active backend's cancel contract (backend.Backend.Cancel,
// spec.md §4.D) to be invoked if ctx is cancelled — the client-disconnect
// case spec.md §5 describes ("client disconnect cancels the token; the
// cancellation propagates into the backend via its cancel contract").
// Callers must invoke the returned stop func (typically via defer) once
// the call finishes normally, so the watcher goroutine exits and the
// request ID stops being tracked for CancelAll.
func (s *Server) WatchCancellation(ctx context.Context, requestID string) (stop func()) {
	if requestID == "" {
		return func() {}
	}

	s.inFlightMu.Lock()
	s.inFlight[requestID] = struct{}{}
	s.inFlightMu.Unlock()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.Backend().Cancel(requestID)
		case <-done:
		}
	}()

	return func() {
		close(done)
		s.inFlightMu.Lock()
		delete(s.inFlight, requestID)
		s.inFlightMu.Unlock()
	}
}

// CancelAll signals cancellation to every backend call currently tracked by
// WatchCancellation, per spec.md §4.I's stop sequence ("signal cancellation
// to all in-flight backend calls"). Unlike relying solely on request-context
// cancellation, this reaches calls whose HTTP request context survives
// http.Server.Shutdown (Shutdown stops new connections and waits for
// handlers to return; it does not cancel their contexts).
func (s *Server) CancelAll() {
	s.inFlightMu.Lock()
	ids := make([]string, 0, len(s.inFlight))
	for id := range s.inFlight {
		ids = append(ids, id)
	}
	s.inFlightMu.Unlock()

	b := s.Backend()
	for _, id := range ids {
		b.Cancel(id)
	}
}

// Drain waits for all live connections to finish, up to timeout, for use
// during shutdown (spec.md §4.I: "drain up to a bounded grace period").
// It returns true if the drain completed cleanly before the deadline.
func (s *Server) Drain(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.LiveConns() == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
