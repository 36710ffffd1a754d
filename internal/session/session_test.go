package session

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestManager(t *testing.T, now *time.Time) *Manager {
	t.Helper()
	m, err := NewManager(testKey, "https://fjordcrew.no", 0)
	require.NoError(t, err)
	if now != nil {
		m.WithClock(func() time.Time { return *now })
	}
	return m
}

func testClaims() Claims {
	return Claims{
		SubjectID:        SubjectID("vipps", "ext-123"),
		ExternalSubject:  "ext-123",
		Email:            "ola@example.no",
		Name:             "Ola Nordmann",
		Phone:            "4712345678",
		IdentityVerified: true,
	}
}

func TestIssueVerify(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	m := newTestManager(t, &now)

	token, err := m.Issue(testClaims())
	require.NoError(t, err)

	c, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, testClaims().SubjectID, c.SubjectID)
	assert.Equal(t, "ext-123", c.ExternalSubject)
	assert.Equal(t, "ola@example.no", c.Email)
	assert.Equal(t, "Ola Nordmann", c.Name)
	assert.Equal(t, "4712345678", c.Phone)
	assert.True(t, c.IdentityVerified)
	assert.Equal(t, now.Unix(), c.IssuedAt.Unix())
	assert.Equal(t, now.Add(DefaultTTL).Unix(), c.ExpiresAt.Unix())
}

func TestPhoneIsOptional(t *testing.T) {
	m := newTestManager(t, nil)
	claims := testClaims()
	claims.Phone = ""

	token, err := m.Issue(claims)
	require.NoError(t, err)

	c, err := m.Verify(token)
	require.NoError(t, err)
	assert.Empty(t, c.Phone)
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, &now)

	token, err := m.Issue(testClaims())
	require.NoError(t, err)

	now = now.Add(DefaultTTL + time.Minute)
	c, err := m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, c)
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	m := newTestManager(t, nil)
	other, err := NewManager([]byte("ffffffffffffffffffffffffffffffff"), "https://fjordcrew.no", 0)
	require.NoError(t, err)

	token, err := other.Issue(testClaims())
	require.NoError(t, err)

	c, err := m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, c)
}

func TestVerifyRejectsOtherIssuer(t *testing.T) {
	m := newTestManager(t, nil)
	other, err := NewManager(testKey, "https://staging.fjordcrew.no", 0)
	require.NoError(t, err)

	token, err := other.Issue(testClaims())
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func signRaw(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(testKey)
	require.NoError(t, err)
	return token
}

func baseMapClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":               "https://fjordcrew.no",
		"aud":               Audience,
		"sub":               "subject",
		"idp_sub":           "ext",
		"email":             "a@b.no",
		"name":              "A",
		"identity_verified": false,
		"iat":               now.Unix(),
		"exp":               now.Add(time.Hour).Unix(),
	}
}

func TestVerifyTypeChecksClaims(t *testing.T) {
	m := newTestManager(t, nil)

	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
	}{
		{"sub not a string", func(c jwt.MapClaims) { c["sub"] = 42 }},
		{"sub empty", func(c jwt.MapClaims) { c["sub"] = "" }},
		{"idp_sub missing", func(c jwt.MapClaims) { delete(c, "idp_sub") }},
		{"email not a string", func(c jwt.MapClaims) { c["email"] = true }},
		{"name missing", func(c jwt.MapClaims) { delete(c, "name") }},
		{"phone not a string", func(c jwt.MapClaims) { c["phone"] = 4712345678 }},
		{"identity_verified not a bool", func(c jwt.MapClaims) { c["identity_verified"] = "true" }},
		{"identity_verified missing", func(c jwt.MapClaims) { delete(c, "identity_verified") }},
		{"exp missing", func(c jwt.MapClaims) { delete(c, "exp") }},
		{"exp not a number", func(c jwt.MapClaims) { c["exp"] = "tomorrow" }},
		{"iat missing", func(c jwt.MapClaims) { delete(c, "iat") }},
		{"wrong audience", func(c jwt.MapClaims) { c["aud"] = "someone-else" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := baseMapClaims()
			tt.mutate(claims)

			c, err := m.Verify(signRaw(t, jwt.SigningMethodHS256, claims))
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, c)
		})
	}

	t.Run("baseline verifies", func(t *testing.T) {
		_, err := m.Verify(signRaw(t, jwt.SigningMethodHS256, baseMapClaims()))
		assert.NoError(t, err)
	})
}

func TestVerifyRejectsOtherAlgorithm(t *testing.T) {
	m := newTestManager(t, nil)

	token := signRaw(t, jwt.SigningMethodHS512, baseMapClaims())
	_, err := m.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	parts := strings.Split(token, ".")
	_, err = m.Verify(parts[0] + "." + parts[1] + ".")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRequiresIdentity(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.Issue(Claims{Email: "a@b.no"})
	assert.Error(t, err)
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager([]byte("short"), "iss", 0)
	assert.Error(t, err)

	_, err = NewManager(testKey, "", 0)
	assert.Error(t, err)

	m, err := NewManager(testKey, "iss", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, m.TTL())
}

func TestSubjectIDIsDeterministic(t *testing.T) {
	a := SubjectID("vipps", "123")
	assert.Equal(t, a, SubjectID("vipps", "123"))
	assert.NotEqual(t, a, SubjectID("vipps", "124"))
	assert.NotEqual(t, a, SubjectID("oidc", "123"))
	assert.Len(t, a, 36)
}
