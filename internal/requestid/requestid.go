// Package requestid carries a per-request correlation id through the
// context so log lines of one request can be grouped.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is read from trusted proxies and echoed on every response.
const Header = "X-Request-ID"

// maxLen caps ids accepted from the client.
const maxLen = 128

type contextKey struct{}

// WithID returns a copy of ctx that carries id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id stored in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// FromRequest returns the incoming id if it is usable, otherwise a new one.
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(Header); valid(id) {
		return id
	}
	return uuid.NewString()
}

func valid(id string) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}
