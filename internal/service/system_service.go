package service

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rpcgate/rpcgate/internal/domain/rpc"
)

// HealthStatus is the result of a system health check.
type HealthStatus struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// SystemService implements the built-in system_* methods: server identity
// and a health probe. The health result also backs the HTTP /health proxy.
type SystemService struct {
	name    string
	version string
	started time.Time

	// mu guards connections: the counter is usually wired after the server
	// handle exists, which is after the methods are registered and callable.
	mu sync.RWMutex

	// connections reports the number of currently accepted WebSocket
	// connections. Nil when no connection-tracking source is wired.
	connections func() int
}

// SystemServiceOption configures SystemService.
type SystemServiceOption func(*SystemService)

// WithConnectionCounter wires a live connection count into health checks.
func WithConnectionCounter(fn func() int) SystemServiceOption {
	return func(s *SystemService) {
		s.connections = fn
	}
}

// SetConnectionCounter wires (or replaces) the live connection count source.
// Safe to call while health checks are being served.
func (s *SystemService) SetConnectionCounter(fn func() int) {
	s.mu.Lock()
	s.connections = fn
	s.mu.Unlock()
}

// NewSystemService creates a SystemService reporting the given identity.
func NewSystemService(name, version string, opts ...SystemServiceOption) *SystemService {
	s := &SystemService{
		name:    name,
		version: version,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the configured server name.
func (s *SystemService) Name() string { return s.name }

// Version returns the configured server version.
func (s *SystemService) Version() string { return s.version }

// Check performs health checks on the running server.
func (s *SystemService) Check() HealthStatus {
	checks := make(map[string]string)

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())
	checks["uptime"] = time.Since(s.started).Truncate(time.Second).String()

	s.mu.RLock()
	connections := s.connections
	s.mu.RUnlock()
	if connections != nil {
		checks["connections"] = fmt.Sprintf("%d", connections())
	}

	return HealthStatus{
		Status:  "healthy",
		Checks:  checks,
		Version: s.version,
	}
}

// RegisterMethods adds the system_* methods to the registry.
func (s *SystemService) RegisterMethods(reg *rpc.Registry) {
	reg.Register("system_health", func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
		return s.Check(), nil
	})
	reg.Register("system_name", func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
		return s.name, nil
	})
	reg.Register("system_version", func(ctx context.Context, params json.RawMessage) (any, *rpc.Error) {
		return s.version, nil
	})
}
