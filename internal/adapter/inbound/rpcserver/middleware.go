package rpcserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/rpcgate/rpcgate/internal/ctxkey"
	"github.com/rpcgate/rpcgate/internal/domain/auth"
)

// RequestIDMiddleware extracts or generates a request ID and enriches the
// logger. The request ID is stored in context using ctxkey.RequestIDKey and
// an enriched logger with a request_id field using ctxkey.LoggerKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enriched)

			// Set response header for correlation
			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// OriginFromContext retrieves the request Origin header stored by the CORS
// layer. Empty for same-origin and non-browser requests.
func OriginFromContext(ctx context.Context) string {
	if origin, ok := ctx.Value(ctxkey.OriginKey{}).(string); ok {
		return origin
	}
	return ""
}

// corsPolicy is a validated cross-origin policy.
type corsPolicy struct {
	allowAny bool
	allowed  map[string]struct{}
}

// newCORSPolicy validates the configured origins. An empty list means any
// origin is allowed; "*" spells the same thing explicitly. A malformed
// origin is a configuration mistake that should abort startup, not silently
// never match.
func newCORSPolicy(origins []string) (*corsPolicy, error) {
	p := &corsPolicy{allowed: make(map[string]struct{}, len(origins))}
	if len(origins) == 0 {
		p.allowAny = true
		return p, nil
	}
	for _, origin := range origins {
		if origin == "*" {
			p.allowAny = true
			continue
		}
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.Path != "" {
			return nil, fmt.Errorf("invalid allowed origin %q: want \"*\" or scheme://host[:port]", origin)
		}
		p.allowed[origin] = struct{}{}
	}
	return p, nil
}

// Middleware applies the policy. Requests without an Origin header pass
// through untouched (same-origin or non-browser). Requests with a
// disallowed Origin are rejected. The accepted origin is stored in context
// for call-policy evaluation.
func (p *corsPolicy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if p.allowAny {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if _, ok := p.allowed[origin]; ok {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		} else {
			http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
			return
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ctx := context.WithValue(r.Context(), ctxkey.OriginKey{}, origin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// BearerAuthMiddleware enforces bearer-token authentication when a token
// hash is configured. An empty hash disables authentication.
func BearerAuthMiddleware(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokenHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			match, err := auth.VerifyToken(token, tokenHash)
			if err != nil || !match {
				if err != nil {
					LoggerFromContext(r.Context()).Warn("token verification failed", "error", err)
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
