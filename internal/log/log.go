// Package log is the structured logger shared by every component. Records
// carry a component name plus free-form fields and go to stderr as text or
// JSON.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// LevelTrace sits below debug and is used for per-request detail such as
// cookie and KV operations.
const LevelTrace = slog.Level(-8)

var (
	level = new(slog.LevelVar)

	mu     sync.Mutex
	output    io.Writer = os.Stderr
	logFormat           = "text"
)

func init() {
	if lvl, err := parseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		level.Set(lvl)
	}
	logFormat = normalizeFormat(os.Getenv("LOG_FORMAT"))
	install()
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return slog.LevelError, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "TRACE":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

func normalizeFormat(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), "json") {
		return "json"
	}
	return "text"
}

// install swaps the default slog logger. Callers hold no lock.
func install() {
	mu.Lock()
	w, jsonOutput := output, logFormat == "json"
	mu.Unlock()

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				if jsonOutput {
					return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
				}
				return slog.String(slog.TimeKey, a.Value.Time().Format("2006-01-02 15:04:05.000-07:00"))
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					return slog.String(slog.LevelKey, "TRACE")
				}
			}
			return a
		},
	}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if jsonOutput {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h).With("service", "crewfront"))
}

// Configure applies the level and format from the config file. LOG_LEVEL and
// LOG_FORMAT win when set.
func Configure(lvl, fmtName string) error {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		lvl = env
	}
	if env := os.Getenv("LOG_FORMAT"); env != "" {
		fmtName = env
	}

	parsed, err := parseLevel(lvl)
	if err != nil {
		return err
	}
	level.Set(parsed)

	mu.Lock()
	logFormat = normalizeFormat(fmtName)
	mu.Unlock()
	install()
	return nil
}

// SetOutput redirects log output. Tests use it to capture records.
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	mu.Unlock()
	install()
}

// LogError logs a formatted message without fields.
func LogError(format string, args ...any) {
	slog.Default().Error(fmt.Sprintf(format, args...))
}

func fieldArgs(component string, fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", component)
	for k, v := range fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		args = append(args, k, v)
	}
	return args
}

func logWithFields(lvl slog.Level, component, message string, fields map[string]any) {
	logger := slog.Default()
	if !logger.Enabled(context.Background(), lvl) {
		return
	}
	logger.Log(context.Background(), lvl, message, fieldArgs(component, fields)...)
}

func LogInfoWithFields(component, message string, fields map[string]any) {
	logWithFields(slog.LevelInfo, component, message, fields)
}

func LogDebugWithFields(component, message string, fields map[string]any) {
	logWithFields(slog.LevelDebug, component, message, fields)
}

func LogErrorWithFields(component, message string, fields map[string]any) {
	logWithFields(slog.LevelError, component, message, fields)
}

func LogWarnWithFields(component, message string, fields map[string]any) {
	logWithFields(slog.LevelWarn, component, message, fields)
}

func LogTraceWithFields(component, message string, fields map[string]any) {
	logWithFields(LevelTrace, component, message, fields)
}

// Component returns the default logger tagged with name, for libraries that
// take a *slog.Logger.
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
