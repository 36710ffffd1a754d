package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/fjordcrew/crewfront/internal/cookie"
	"github.com/fjordcrew/crewfront/internal/guard"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/metrics"
	"github.com/fjordcrew/crewfront/internal/ratelimit"
	"github.com/fjordcrew/crewfront/internal/requestid"
	"github.com/fjordcrew/crewfront/internal/session"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions. The first
// middleware is the innermost.
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// NewCORSMiddleware answers preflights and lets the listed website
// origins call the API with credentials. With no origins configured any
// origin may call without credentials.
func NewCORSMiddleware(allowedOrigins []string) MiddlewareFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	allowHeaders := strings.Join([]string{"Content-Type", guard.CSRFHeader, AdminSecretHeader, requestid.Header}, ", ")
	exposeHeaders := strings.Join([]string{
		ratelimit.HeaderLimit, ratelimit.HeaderRemaining, ratelimit.HeaderReset, "Retry-After", requestid.Header,
	}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			switch {
			case origin != "" && allowed[origin]:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			case len(allowed) == 0:
				h.Set("Access-Control-Allow-Origin", "*")
			}

			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", allowHeaders)
			h.Set("Access-Control-Expose-Headers", exposeHeaders)
			h.Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder remembers the status and body size written by the
// handler so the logger and metrics middleware can report them.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

// recordStatus reuses an existing recorder so stacked middleware see the
// same numbers.
func recordStatus(w http.ResponseWriter) *statusRecorder {
	if rec, ok := w.(*statusRecorder); ok {
		return rec
	}
	return &statusRecorder{ResponseWriter: w}
}

func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status != 0 {
		return
	}
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// NewLoggerMiddleware logs one line per request. Query strings are left
// out because the login callback carries the authorization code.
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := recordStatus(w)

			next.ServeHTTP(rec, r)

			log.LogInfoWithFields(prefix, "request", map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       rec.written,
				"remote_addr": r.RemoteAddr,
				"request_id":  requestid.FromContext(r.Context()),
			})
		})
	}
}

// NewMetricsMiddleware records request latency under a fixed route label.
func NewMetricsMiddleware(m *metrics.Metrics, route string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := recordStatus(w)
			next.ServeHTTP(rec, r)
			m.ObserveRequest(r.Method, route, rec.Status(), time.Since(start))
		})
	}
}

// NewRequestIDMiddleware tags the request with a correlation id and echoes
// it in the response.
func NewRequestIDMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := requestid.FromRequest(r)
			w.Header().Set(requestid.Header, id)
			next.ServeHTTP(w, r.WithContext(requestid.WithID(r.Context(), id)))
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.LogErrorWithFields(prefix, "Recovered from panic", map[string]any{
						"path":       r.URL.Path,
						"panic":      err,
						"request_id": requestid.FromContext(r.Context()),
					})
					jsonwriter.WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// NewSessionMiddleware verifies the session cookie and stores the claims
// in the request context. Requests without a valid session get 401.
func NewSessionMiddleware(sessions *session.Manager) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := cookie.GetSession(r)
			if err != nil || strings.TrimSpace(token) == "" {
				jsonwriter.WriteUnauthorized(w, jsonwriter.MsgUnauthorized)
				return
			}

			claims, err := sessions.Verify(token)
			if err != nil {
				log.LogDebugWithFields("session", "Rejected session cookie", map[string]any{
					"error": err,
				})
				jsonwriter.WriteUnauthorized(w, jsonwriter.MsgUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), claims)))
		})
	}
}
