package integration

import (
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

const (
	binaryPath = "../cmd/crewfront/crewfront"

	crewAddr    = "127.0.0.1:18080"
	crewBaseURL = "http://" + crewAddr

	testSecretKey    = "integration-secret-key-0123456789abcdef"
	testHealthSecret = "integration-health-secret"
)

// fakeVipps is started once in TestMain.
var fakeVipps *FakeVippsServer

// configOption adjusts a config map before it is written.
type configOption func(cfg map[string]any)

// withoutLogin drops the identity section so login is disabled.
func withoutLogin() configOption {
	return func(cfg map[string]any) {
		delete(cfg, "identity")
	}
}

func withRateLimit(scope string, limit int, window string) configOption {
	return func(cfg map[string]any) {
		limits, _ := cfg["rateLimits"].(map[string]any)
		if limits == nil {
			limits = map[string]any{}
			cfg["rateLimits"] = limits
		}
		limits[scope] = map[string]any{"limit": limit, "window": window}
	}
}

// buildTestConfig builds a complete crewfront config map that logs in
// against the fake Vipps server and keeps everything else in memory.
func buildTestConfig(t *testing.T, opts ...configOption) map[string]any {
	t.Helper()
	cfg := map[string]any{
		"version":     "v1",
		"environment": "development",
		"server": map[string]any{
			"baseURL":        crewBaseURL,
			"addr":           crewAddr,
			"allowedOrigins": []string{"http://localhost:3000"},
			"loginPath":      "/logg-inn",
		},
		"logging": map[string]any{
			"level":  "debug",
			"format": "json",
		},
		"security": map[string]any{
			"secretKey":    map[string]string{"$env": "SECRET_KEY"},
			"healthSecret": map[string]string{"$env": "HEALTH_SECRET"},
			"sessionTtl":   "1h",
		},
		"identity": map[string]any{
			"provider":     "vipps",
			"discoveryUrl": fakeVipps.DiscoveryURL(),
			"clientId":     map[string]string{"$env": "VIPPS_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "VIPPS_CLIENT_SECRET"},
		},
		"kv":      map[string]any{"type": "memory"},
		"storage": map[string]any{"type": "memory"},
		"uploads": map[string]any{
			"type":     "file",
			"dir":      t.TempDir(),
			"maxBytes": 1 << 20,
		},
		"email": map[string]any{
			"type":     "log",
			"from":     "post@fjordcrew.no",
			"notifyTo": []string{"bemanning@fjordcrew.no"},
		},
		"campaigns": []any{
			map[string]any{
				"id":        "nordsjo-2026",
				"title":     "Nordsjøen 2026",
				"positions": []string{"Matros", "Kokk", "Maskinist"},
			},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func writeTestConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal test config: %v", err)
	}
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close temp config: %v", err)
	}
	return f.Name()
}

func testEnv() []string {
	return []string{
		"SECRET_KEY=" + testSecretKey,
		"HEALTH_SECRET=" + testHealthSecret,
		"VIPPS_CLIENT_ID=crewfront-test",
		"VIPPS_CLIENT_SECRET=crewfront-test-secret",
	}
}

// startCrewFront starts the binary with configPath and registers a
// graceful stop on cleanup.
func startCrewFront(t *testing.T, configPath string, extraEnv ...string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(binaryPath, "-config", configPath)

	cmd.Env = append(os.Environ(), testEnv()...)
	cmd.Env = append(cmd.Env, extraEnv...)

	if logFile := os.Getenv("CREWFRONT_LOG_FILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			cmd.Stderr = f
			cmd.Stdout = f
			t.Cleanup(func() { f.Close() })
		}
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start crewfront: %v", err)
	}
	t.Cleanup(func() {
		stopCrewFront(cmd)
	})
	waitForCrewFront(t)
	return cmd
}

// stopCrewFront stops the server gracefully, killing it after 5 seconds.
func stopCrewFront(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil || cmd.ProcessState != nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
	}
}

func waitForCrewFront(t *testing.T) {
	t.Helper()
	for range 50 {
		resp, err := http.Get(crewBaseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("crewfront failed to become ready after 5 seconds")
}
