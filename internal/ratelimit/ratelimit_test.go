package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjordcrew/crewfront/internal/kv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{ kv.Store }

func (failingStore) IncrWindow(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func TestCheck_WindowLimit(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	store := kv.NewMemoryStore().WithClock(func() time.Time { return now })
	l := New(store).WithClock(func() time.Time { return now })
	ctx := context.Background()
	window := 3600000 * time.Millisecond

	for i := 1; i <= 10; i++ {
		res, err := l.Check(ctx, "contact:1.2.3.4", 10, window)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
		assert.Equal(t, int64(10-i), res.Remaining)
	}

	res, err := l.Check(ctx, "contact:1.2.3.4", 10, window)
	require.NoError(t, err)
	assert.False(t, res.Allowed, "11th call in the window is rejected")
	assert.Equal(t, int64(0), res.Remaining)
	assert.Equal(t, now.Add(window), res.ResetAt)

	other, err := l.Check(ctx, "contact:5.6.7.8", 10, window)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "identities are counted separately")

	now = now.Add(window)
	res, err = l.Check(ctx, "contact:1.2.3.4", 10, window)
	require.NoError(t, err)
	assert.True(t, res.Allowed, "first call after reset")
	assert.Equal(t, int64(9), res.Remaining)
}

func TestCheck_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	l := New(kv.NewRedisStore(rdb))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := l.Check(ctx, "campaign:ip", 10, time.Hour)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Check(ctx, "campaign:ip", 10, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.True(t, mr.Exists("ratelimit:campaign:ip"))

	mr.FastForward(time.Hour)
	res, err = l.Check(ctx, "campaign:ip", 10, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestApply_Policy(t *testing.T) {
	l := New(failingStore{})
	ctx := context.Background()

	open, err := l.Apply(ctx, Rule{Scope: "contact", Limit: 5, Window: time.Hour, Policy: FailOpen}, "ip")
	assert.Error(t, err)
	assert.True(t, open.Allowed)
	assert.True(t, open.Degraded)

	closed, err := l.Apply(ctx, Rule{Scope: "upload", Limit: 5, Window: time.Hour, Policy: FailClosed}, "ip")
	assert.Error(t, err)
	assert.False(t, closed.Allowed)
	assert.True(t, closed.Degraded)
}

func TestResult_WriteHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	res := Result{Allowed: false, Limit: 10, Remaining: 0, ResetAt: now.Add(90 * time.Second)}

	w := httptest.NewRecorder()
	res.WriteHeaders(w, now)

	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1700000090", w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "90", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	res.Allowed = true
	res.WriteHeaders(w, now)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"first forwarded entry", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"single forwarded entry", map[string]string{"X-Forwarded-For": " 198.51.100.2 "}, "198.51.100.2"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"empty forwarded falls through", map[string]string{"X-Forwarded-For": " ,10.0.0.1", "X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"nothing", nil, UnknownClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/contact", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}
