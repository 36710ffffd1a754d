// Package session issues and verifies the signed session tokens kept in the
// browser's session cookie. Nothing is stored server side.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of a session.
const DefaultTTL = 24 * time.Hour

// Audience is the fixed audience of session tokens.
const Audience = "crewfront-session"

// ErrInvalidToken is returned for any token that does not verify.
var ErrInvalidToken = errors.New("invalid session token")

// subjectNamespace scopes the deterministic subject ids.
var subjectNamespace = uuid.MustParse("6f1c2a7e-3b9d-5e84-9a0c-2d4f7b1e8c35")

// Claims is the verified content of a session token.
type Claims struct {
	SubjectID        string    `json:"sub"`
	ExternalSubject  string    `json:"idp_sub"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Phone            string    `json:"phone,omitempty"`
	IdentityVerified bool      `json:"identity_verified"`
	IssuedAt         time.Time `json:"iat"`
	ExpiresAt        time.Time `json:"exp"`
}

// SubjectID derives our stable user id from the provider and its subject.
// The same person always maps to the same id without a lookup.
func SubjectID(provider, externalSubject string) string {
	return uuid.NewSHA1(subjectNamespace, []byte(provider+"|"+externalSubject)).String()
}

// Manager signs and verifies session tokens with HS256.
type Manager struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewManager creates a manager. key must be at least 32 bytes.
func NewManager(key []byte, issuer string, ttl time.Duration) (*Manager, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("session key must be at least 32 bytes, got %d", len(key))
	}
	if issuer == "" {
		return nil, fmt.Errorf("session issuer is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// TTL returns the session lifetime, which is also the cookie max age.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a token for c. IssuedAt and ExpiresAt are set by the manager.
func (m *Manager) Issue(c Claims) (string, error) {
	if c.SubjectID == "" || c.ExternalSubject == "" || c.Email == "" {
		return "", fmt.Errorf("session claims need subject, external subject and email")
	}

	now := m.now()
	claims := jwt.MapClaims{
		"iss":               m.issuer,
		"aud":               Audience,
		"sub":               c.SubjectID,
		"idp_sub":           c.ExternalSubject,
		"email":             c.Email,
		"name":              c.Name,
		"identity_verified": c.IdentityVerified,
		"iat":               now.Unix(),
		"exp":               now.Add(m.ttl).Unix(),
	}
	if c.Phone != "" {
		claims["phone"] = c.Phone
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, issuer, audience and expiry, then
// type-checks every claim. Any failure yields ErrInvalidToken and nil.
func (m *Manager) Verify(token string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)

	mc := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, mc, func(*jwt.Token) (any, error) {
		return m.key, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, err := claimsFromMap(mc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return c, nil
}

func claimsFromMap(mc jwt.MapClaims) (*Claims, error) {
	var c Claims
	var err error

	if c.SubjectID, err = requiredString(mc, "sub"); err != nil {
		return nil, err
	}
	if c.ExternalSubject, err = requiredString(mc, "idp_sub"); err != nil {
		return nil, err
	}
	if c.Email, err = requiredString(mc, "email"); err != nil {
		return nil, err
	}

	name, ok := mc["name"].(string)
	if !ok {
		return nil, fmt.Errorf("claim name: missing or not a string")
	}
	c.Name = name

	if raw, present := mc["phone"]; present {
		phone, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("claim phone: not a string")
		}
		c.Phone = phone
	}

	verified, ok := mc["identity_verified"].(bool)
	if !ok {
		return nil, fmt.Errorf("claim identity_verified: missing or not a boolean")
	}
	c.IdentityVerified = verified

	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, fmt.Errorf("claim iat: missing or not a number")
	}
	exp, err := mc.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("claim exp: missing or not a number")
	}
	c.IssuedAt = iat.Time
	c.ExpiresAt = exp.Time

	return &c, nil
}

func requiredString(mc jwt.MapClaims, name string) (string, error) {
	v, ok := mc[name].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("claim %s: missing or not a string", name)
	}
	return v, nil
}
