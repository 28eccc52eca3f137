package httpapi

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/meshfabric/agentmesh/auth"
	"github.com/meshfabric/agentmesh/meshcore"
)

// responseWriter wraps http.ResponseWriter to capture the status code for
// logging, grounded on the teacher's core/middleware.go responseWriter.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// Flush implements http.Flusher so SSE handlers can flush through the
// logging/recovery/auth middleware stack.
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// recoveryMiddleware catches panics from any handler and returns a
// generic 500, never leaking the panic value to the client.
func recoveryMiddleware(logger meshcore.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.ErrorWithContext(r.Context(), "http handler panic recovered", map[string]interface{}{
						"panic":  err,
						"path":   r.URL.Path,
						"method": r.Method,
						"stack":  string(debug.Stack()),
					})
					writeErrorResponse(w, http.StatusInternalServerError, "internal", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs every request's outcome; errors and slow
// requests always log, everything else logs only when devMode is set.
func loggingMiddleware(logger meshcore.Logger, devMode bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			duration := time.Since(start)

			shouldLog := devMode || wrapped.statusCode >= 400 || duration > time.Second
			if shouldLog {
				logger.InfoWithContext(r.Context(), "http request", map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      wrapped.statusCode,
					"duration_ms": duration.Milliseconds(),
					"remote_addr": r.RemoteAddr,
				})
			}
		})
	}
}

// tracingMiddleware starts a span named after the request's method and
// path, closing it once the handler returns. It is the outermost layer,
// wrapping CORS and auth.
func tracingMiddleware(tel meshcore.Telemetry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tel.StartSpan(r.Context(), "http "+r.Method+" "+r.URL.Path)
			defer span.End()
			span.SetAttribute("http.method", r.Method)
			span.SetAttribute("http.path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CORSConfig mirrors the teacher's core.CORSConfig shape, trimmed to
// the fields this server actually exercises.
type CORSConfig struct {
	Enabled        bool
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

func corsMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			origin := r.Header.Get("Origin")
			if isOriginAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if len(cfg.AllowedMethods) > 0 {
					w.Header().Set("Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", "))
				}
				if len(cfg.AllowedHeaders) > 0 {
					w.Header().Set("Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", "))
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isOriginAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return false
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

type principalKey struct{}

// principalFromContext returns the authenticated user, if any.
func principalFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalKey{}).(string)
	return v, ok
}

// authMiddleware enforces the bearer token on every protected route. It
// is a pass-through when the server was built with auth disabled,
// for local development.
func authMiddleware(svc *auth.Service, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				writeErrorResponse(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			sub, ok := svc.ValidateToken(strings.TrimPrefix(header, prefix))
			if !ok {
				writeErrorResponse(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
