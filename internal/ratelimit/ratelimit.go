// Package ratelimit implements fixed-window request limits on top of the
// shared KV store.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjordcrew/crewfront/internal/kv"
)

// UnknownClient is used as the identity when no client address is known.
// All such requests share one bucket.
const UnknownClient = "unknown"

// Policy decides what happens when the counter store cannot be reached.
type Policy int

const (
	// FailOpen lets the request through when the store is down.
	FailOpen Policy = iota
	// FailClosed rejects the request when the store is down.
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}

// Rule is the limit for one endpoint class.
type Rule struct {
	Scope  string
	Limit  int64
	Window time.Duration
	Policy Policy
}

// Result describes a rate limit decision.
type Result struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	// Degraded is set when the store failed and the rule's policy decided
	// the outcome.
	Degraded bool
}

// RetryAfter is the number of whole seconds until the window resets.
func (r Result) RetryAfter(now time.Time) int64 {
	secs := int64(r.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Response headers describing the caller's window.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// WriteHeaders sets the X-RateLimit-* headers, plus Retry-After when the
// request was rejected.
func (r Result) WriteHeaders(w http.ResponseWriter, now time.Time) {
	if r.Limit <= 0 {
		return
	}
	h := w.Header()
	h.Set(HeaderLimit, strconv.FormatInt(r.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(r.Remaining, 10))
	h.Set(HeaderReset, strconv.FormatInt(r.ResetAt.Unix(), 10))
	if !r.Allowed {
		h.Set("Retry-After", strconv.FormatInt(r.RetryAfter(now), 10))
	}
}

// Limiter checks requests against fixed windows stored in a kv.Store.
type Limiter struct {
	store kv.Store
	now   func() time.Time
}

// New creates a limiter over store.
func New(store kv.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Now returns the limiter's current time.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Check counts one request against key. An error means the store failed
// and no decision was made; Apply resolves that with a policy.
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration) (Result, error) {
	count, ttl, err := l.store.IncrWindow(ctx, "ratelimit:"+key, window)
	if err != nil {
		return Result{Limit: limit}, fmt.Errorf("rate limit check: %w", err)
	}
	if ttl <= 0 {
		ttl = window
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   l.now().Add(ttl),
	}, nil
}

// Apply checks rule for the identity and resolves store failures with the
// rule's policy. The error is returned for logging only.
func (l *Limiter) Apply(ctx context.Context, rule Rule, identity string) (Result, error) {
	res, err := l.Check(ctx, rule.Scope+":"+identity, rule.Limit, rule.Window)
	if err == nil {
		return res, nil
	}
	return Result{
		Allowed:   rule.Policy == FailOpen,
		Degraded:  true,
		Limit:     rule.Limit,
		Remaining: rule.Limit,
		ResetAt:   l.now().Add(rule.Window),
	}, err
}

// ClientIP returns a best-effort client address: the first entry of
// X-Forwarded-For, then X-Real-IP, else UnknownClient. The service runs
// behind the hosting platform's proxy, so the socket address is never the
// client's.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}
