package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/log"
)

// HealthProbeTimeout bounds all dependency probes of a detailed health check.
const HealthProbeTimeout = 3 * time.Second

// Pinger is a dependency the detailed health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck names one probed dependency.
type HealthCheck struct {
	Name   string
	Pinger Pinger
}

type checkResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latencyMs"`
}

type healthReport struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	Uptime        string                 `json:"uptime"`
	UptimeSeconds int64                  `json:"uptimeSeconds"`
	Checks        map[string]checkResult `json:"checks"`
}

// HealthHandler answers GET /health. Without the shared secret it only
// reports that the process is up.
type HealthHandler struct {
	secret  string
	version string
	started time.Time
	checks  []HealthCheck
}

// NewHealthHandler creates a health handler. An empty secret disables the
// detailed report.
func NewHealthHandler(secret, version string, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{
		secret:  secret,
		version: version,
		started: time.Now(),
		checks:  checks,
	}
}

// ServeHTTP implements http.Handler for health checks
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}

	report := h.probe(r.Context())
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	_ = jsonwriter.WriteResponse(w, status, report)
}

func (h *HealthHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	provided := r.URL.Query().Get("secret")
	if provided == "" {
		provided = r.Header.Get(AdminSecretHeader)
	}
	return provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) == 1
}

func (h *HealthHandler) probe(ctx context.Context) healthReport {
	ctx, cancel := context.WithTimeout(ctx, HealthProbeTimeout)
	defer cancel()

	results := make([]checkResult, len(h.checks))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range h.checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Pinger.Ping(gctx)
			results[i] = checkResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
			if err != nil {
				results[i].Status = "error"
				log.LogWarnWithFields("health", "Dependency probe failed", map[string]any{
					"check": check.Name,
					"error": err,
				})
			}
			// Probe failures are reported per check, not through the group
			return nil
		})
	}
	_ = g.Wait()

	uptime := time.Since(h.started)
	report := healthReport{
		Status:        "ok",
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime / time.Second),
		Checks:        make(map[string]checkResult, len(h.checks)),
	}
	for i, check := range h.checks {
		report.Checks[check.Name] = results[i]
		if results[i].Status != "ok" {
			report.Status = "degraded"
		}
	}
	return report
}
