package cookie

import (
	"net/http"
	"time"

	"github.com/fjordcrew/crewfront/internal/log"
)

// SessionCookie is the name of the signed session cookie.
const SessionCookie = "crewfront_session"

// Policy holds the attributes applied to every cookie the service sets.
// Domain is only non-empty in production, where the session must be shared
// between the apex and www hosts.
type Policy struct {
	Secure bool
	Domain string
}

// NewPolicy builds the cookie policy for an environment.
func NewPolicy(production bool, apexDomain string) Policy {
	p := Policy{Secure: production}
	if production {
		p.Domain = apexDomain
	}
	return p
}

// SetSession sets the session cookie with appropriate security settings
func (p Policy) SetSession(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		Domain:   p.Domain,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
		Expires:  time.Now().Add(maxAge),
	})

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"maxAge": maxAge.String(),
		"secure": p.Secure,
		"domain": p.Domain,
	})
}

// Clear removes a cookie. The attributes must match the ones it was set
// with or browsers keep the original.
func (p Policy) Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   p.Domain,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// ClearSession removes the session cookie
func (p Policy) ClearSession(w http.ResponseWriter) {
	p.Clear(w, SessionCookie)
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	return Get(r, SessionCookie)
}
