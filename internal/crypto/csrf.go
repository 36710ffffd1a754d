package crypto

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultCSRFTTL is how long an anti-forgery token stays valid.
const DefaultCSRFTTL = time.Hour

// maxClockSkew tolerates tokens minted by another instance whose clock runs
// slightly ahead.
const maxClockSkew = 30 * time.Second

// CSRFProtection provides stateless HMAC-based anti-forgery tokens in the
// form timestamp:nonce:signature. The timestamp is unix milliseconds.
type CSRFProtection struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

// NewCSRFProtection creates a new CSRF protection instance
func NewCSRFProtection(signingKey []byte, ttl time.Duration) *CSRFProtection {
	if ttl <= 0 {
		ttl = DefaultCSRFTTL
	}
	return &CSRFProtection{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (c *CSRFProtection) WithClock(now func() time.Time) *CSRFProtection {
	c.now = now
	return c
}

// TTL returns the validity window of generated tokens.
func (c *CSRFProtection) TTL() time.Duration {
	return c.ttl
}

// Generate creates a new CSRF token
func (c *CSRFProtection) Generate() (string, error) {
	nonce, err := GenerateSecureToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)
	signature := SignData(timestamp+"|"+nonce, c.signingKey)

	return timestamp + ":" + nonce + ":" + signature, nil
}

// Validate checks if a CSRF token is well formed, signed with our key and
// not expired. It never panics and returns false on any failure.
func (c *CSRFProtection) Validate(token string) bool {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return false
	}
	timestampStr, nonce, signature := parts[0], parts[1], parts[2]
	if nonce == "" || signature == "" {
		return false
	}

	ms, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return false
	}

	age := c.now().Sub(time.UnixMilli(ms))
	if age > c.ttl || age < -maxClockSkew {
		return false
	}

	return ValidateSignedData(timestampStr+"|"+nonce, signature, c.signingKey)
}
