package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"github.com/rpcgate/rpcgate/internal/domain/rpc"
)

// Executor is the scheduling substrate the server runs its background work
// on: connection loops, keep-alive pings, listener accept loops. The caller
// supplies it so server goroutines live inside the caller's lifecycle
// management (wait groups, error groups).
type Executor interface {
	Spawn(fn func())
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(fn func())

// Spawn implements Executor.
func (f ExecutorFunc) Spawn(fn func()) { f(fn) }

// Params carries everything Start needs. Registry and Executor are
// required; the rest defaults sensibly.
type Params struct {
	// Addrs are the listen addresses. At least one is required.
	Addrs []string

	// AllowedOrigins configures browser cross-origin access as an
	// exact-match allow-list. Empty (or "*") allows any origin.
	AllowedOrigins []string

	// Config carries the resource ceilings.
	Config Config

	// Registry holds the callable methods. The server enriches it with
	// rpc_methods and freezes it; it must not be shared between servers.
	Registry *rpc.Registry

	// Policy is the optional call policy. Nil allows every call.
	Policy PolicyChecker

	// Observer receives server events. Nil means no observation.
	Observer Observer

	// IDProvider mints subscription IDs. Nil selects the default
	// 16-character random-string provider.
	IDProvider rpc.IDProvider

	// Executor runs the server's background work. Required.
	Executor Executor

	// TokenHash enables bearer-token authentication when non-empty.
	TokenHash string

	// Logger is the server logger. Nil means slog.Default().
	Logger *slog.Logger
}

// server is the running state shared by all listeners.
type server struct {
	disp       *dispatcher
	limits     limits
	idProvider rpc.IDProvider
	exec       Executor
	observer   Observer
	logger     *slog.Logger

	connSem   *semaphore.Weighted
	connCount atomic.Int64

	mu       sync.Mutex
	sessions map[*wsSession]struct{}
	draining bool
}

// Handle is the lifecycle handle of a started server. The server runs until
// Stop is called; dropping the handle does not stop it.
type Handle struct {
	addrs     []net.Addr
	listeners []net.Listener
	httpSrvs  []*http.Server
	srv       *server
	logger    *slog.Logger
	stopOnce  sync.Once
	stopErr   error
}

// Start binds the configured addresses and begins serving. On any bind
// failure every already-bound listener is closed and an error returned; a
// server either runs on all its addresses or not at all.
func Start(ctx context.Context, params Params) (*Handle, error) {
	if params.Registry == nil {
		return nil, errors.New("rpcserver: Registry is required")
	}
	if params.Executor == nil {
		return nil, errors.New("rpcserver: Executor is required")
	}
	if len(params.Addrs) == 0 {
		return nil, errors.New("rpcserver: at least one listen address is required")
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := params.Observer
	if observer == nil {
		observer = NoopObserver{}
	}
	idProvider := params.IDProvider
	if idProvider == nil {
		idProvider = rpc.NewRandomStringIDProvider(rpc.DefaultIDLength)
	}

	cors, err := newCORSPolicy(params.AllowedOrigins)
	if err != nil {
		return nil, err
	}

	enrichRegistry(params.Registry)
	params.Registry.Freeze()

	resolved := params.Config.resolve()
	srv := &server{
		disp: &dispatcher{
			registry:         params.Registry,
			policy:           params.Policy,
			observer:         observer,
			maxResponseBytes: resolved.maxResponseBytes,
			logger:           logger,
		},
		limits:     resolved,
		idProvider: idProvider,
		exec:       params.Executor,
		observer:   observer,
		logger:     logger,
		connSem:    semaphore.NewWeighted(int64(resolved.maxConnections)),
		sessions:   make(map[*wsSession]struct{}),
	}

	listeners := make([]net.Listener, 0, len(params.Addrs))
	for _, addr := range params.Addrs {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, open := range listeners {
				_ = open.Close()
			}
			return nil, fmt.Errorf("rpcserver: failed to bind %s: %w", addr, err)
		}
		listeners = append(listeners, ln)
	}

	addrs := make([]net.Addr, len(listeners))
	for i, ln := range listeners {
		addrs[i] = ln.Addr()
	}
	hosts := allowedHosts(boundPorts(addrs))

	var metrics *Metrics
	if m, ok := observer.(*Metrics); ok {
		metrics = m
	}

	// Middleware chain, outermost first:
	// 1. RequestID       - correlation ID and enriched logger
	// 2. HTTPMetrics     - request duration and status
	// 3. HostFilter      - DNS rebinding defense on the Host header
	// 4. healthProxy     - GET /health, before CORS so probes skip it
	// 5. CORS            - Origin allow-list
	// 6. BearerAuth      - optional token check
	// 7. srv             - JSON-RPC over HTTP or WebSocket
	var handler http.Handler = srv
	handler = BearerAuthMiddleware(params.TokenHash)(handler)
	handler = cors.Middleware(handler)
	handler = healthProxy(srv.disp)(handler)
	handler = HostFilter(hosts)(handler)
	handler = HTTPMetricsMiddleware(metrics)(handler)
	handler = RequestIDMiddleware(logger)(handler)

	h := &Handle{
		addrs:     addrs,
		listeners: listeners,
		srv:       srv,
		logger:    logger,
	}
	for _, ln := range listeners {
		httpSrv := &http.Server{
			Handler: handler,
			BaseContext: func(net.Listener) context.Context {
				return ctx
			},
		}
		h.httpSrvs = append(h.httpSrvs, httpSrv)

		ln := ln
		params.Executor.Spawn(func() {
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("listener stopped", "addr", ln.Addr().String(), "error", err)
			}
		})
		logger.Info("rpc server listening", "addr", ln.Addr().String())
	}

	origins := "any"
	if !cors.allowAny {
		origins = fmt.Sprintf("%d allowed", len(params.AllowedOrigins))
	}
	logger.Info("rpc server started",
		"listeners", len(listeners),
		"origins", origins,
		"max_connections", resolved.maxConnections,
		"max_subscriptions_per_conn", resolved.maxSubsPerConn,
	)

	return h, nil
}

// Addrs returns the bound listener addresses. Useful when listening on
// port 0.
func (h *Handle) Addrs() []net.Addr {
	return h.addrs
}

// Connections reports the number of live WebSocket connections.
func (h *Handle) Connections() int {
	return int(h.srv.connCount.Load())
}

// Stop shuts the server down: listeners stop accepting, then live
// connections are drained until ctx expires, at which point the rest are
// closed. Safe to call more than once; later calls return the first result.
func (h *Handle) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() {
		h.stopErr = h.stop(ctx)
	})
	return h.stopErr
}

func (h *Handle) stop(ctx context.Context) error {
	h.logger.Info("stopping rpc server")
	h.srv.beginDrain()

	var firstErr error
	for _, httpSrv := range h.httpSrvs {
		if err := httpSrv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Shutdown does not cover hijacked WebSocket connections: drain them
	// until ctx expires, then close whatever is left.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for h.srv.sessionCount() > 0 {
		select {
		case <-ctx.Done():
			h.srv.closeSessions()
			h.logger.Info("rpc server stopped", "forced_close", true)
			return firstErr
		case <-ticker.C:
		}
	}

	h.logger.Info("rpc server stopped")
	return firstErr
}

// ServeHTTP routes a request to the WebSocket or plain HTTP transport.
func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWS(w, r)
		return
	}
	s.servePOST(w, r)
}

// serveWS upgrades the connection and runs the session loop in the request
// goroutine. The connection ceiling is enforced before the upgrade so a
// rejected client gets a clean 503.
func (s *server) serveWS(w http.ResponseWriter, r *http.Request) {
	if !s.connSem.TryAcquire(1) {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	defer s.connSem.Release(1)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		LoggerFromContext(r.Context()).Debug("websocket upgrade failed", "error", err)
		return
	}

	sess := newWSSession(r.Context(), conn, s.disp, s.idProvider, s.exec, s.observer, s.limits.maxSubsPerConn, LoggerFromContext(r.Context()))
	if !s.track(sess) {
		sess.close()
		return
	}
	s.connCount.Add(1)
	defer s.connCount.Add(-1)
	defer s.untrack(sess)

	sess.run(s.limits.maxRequestBytes)
}

// servePOST handles one JSON-RPC call (or batch) over plain HTTP.
func (s *server) servePOST(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.limits.maxRequestBytes))
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	resp := s.disp.handleMessage(r.Context(), body, transportHTTP, nil)

	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		// Notifications only: acknowledge with no body.
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write(resp)
}

func (s *server) track(sess *wsSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *server) untrack(sess *wsSession) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *server) beginDrain() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
}

func (s *server) sessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *server) closeSessions() {
	s.mu.Lock()
	sessions := make([]*wsSession, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// healthProxy answers GET /health by invoking system_health, so load
// balancers probe the same check RPC clients see. It sits before the CORS
// layer; health probes carry no Origin and must never be CORS-rejected.
func healthProxy(d *dispatcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method != http.MethodGet {
				w.Header().Set("Allow", "GET")
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}

			m, ok := d.registry.Lookup("system_health")
			if !ok {
				http.Error(w, "health method not registered", http.StatusNotFound)
				return
			}
			result, rpcErr := m.Call(r.Context(), nil)
			if rpcErr != nil {
				http.Error(w, rpcErr.Message, http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(result)
		})
	}
}

// enrichRegistry adds the rpc_methods introspection method: a sorted
// snapshot of every caller-registered name, taken before the synthetic
// method itself is added. Register panics if the caller already claimed
// the name.
func enrichRegistry(reg *rpc.Registry) {
	names := reg.MethodNames()
	sort.Strings(names)

	reg.Register("rpc_methods", func(context.Context, json.RawMessage) (any, *rpc.Error) {
		return map[string]any{"methods": names}, nil
	})
}
