package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fjordcrew/crewfront/internal/cookie"
	"github.com/fjordcrew/crewfront/internal/crypto"
	"github.com/fjordcrew/crewfront/internal/guard"
	"github.com/fjordcrew/crewfront/internal/kv"
	"github.com/fjordcrew/crewfront/internal/metrics"
	"github.com/fjordcrew/crewfront/internal/ratelimit"
	"github.com/fjordcrew/crewfront/internal/session"
	"github.com/fjordcrew/crewfront/internal/storage"
)

var (
	testCSRFKey    = []byte("server-test-csrf-key-0123456789ab")
	testSessionKey = []byte("server-test-session-key-012345678")
)

// fixture wires the shared collaborators of the handlers under test.
type fixture struct {
	kv       kv.Store
	limiter  *ratelimit.Limiter
	csrf     *crypto.CSRFProtection
	guard    *guard.Guard
	sessions *session.Manager
	storage  *storage.MemoryStorage
	metrics  *metrics.Metrics
	rules    map[string]ratelimit.Rule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, kv.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, store kv.Store) *fixture {
	t.Helper()

	sessions, err := session.NewManager(testSessionKey, "https://crew.example.no", time.Hour)
	require.NoError(t, err)

	limiter := ratelimit.New(store)
	csrf := crypto.NewCSRFProtection(testCSRFKey, crypto.DefaultCSRFTTL)
	m := metrics.New()
	return &fixture{
		kv:       store,
		limiter:  limiter,
		csrf:     csrf,
		guard:    guard.New(csrf, limiter, m),
		sessions: sessions,
		storage:  storage.NewMemoryStorage(),
		metrics:  m,
		rules:    DefaultRateRules(),
	}
}

func (f *fixture) csrfToken(t *testing.T) string {
	t.Helper()
	token, err := f.csrf.Generate()
	require.NoError(t, err)
	return token
}

func (f *fixture) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	token, err := f.sessions.Issue(testClaims())
	require.NoError(t, err)
	return &http.Cookie{Name: cookie.SessionCookie, Value: token}
}

func testClaims() session.Claims {
	return session.Claims{
		SubjectID:        session.SubjectID("vipps", "vipps-sub-1"),
		ExternalSubject:  "vipps-sub-1",
		Email:            "kari@example.no",
		Name:             "Kari Nordmann",
		Phone:            "4791234567",
		IdentityVerified: true,
	}
}

// envelope is the decoded JSON response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func createdID(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decodeEnvelope(t, rec)
	var data guard.Created
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.ID
}
