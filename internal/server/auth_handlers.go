package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/fjordcrew/crewfront/internal/config"
	"github.com/fjordcrew/crewfront/internal/cookie"
	"github.com/fjordcrew/crewfront/internal/emailutil"
	"github.com/fjordcrew/crewfront/internal/idp"
	jsonwriter "github.com/fjordcrew/crewfront/internal/json"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/metrics"
	"github.com/fjordcrew/crewfront/internal/oauthstate"
	"github.com/fjordcrew/crewfront/internal/ratelimit"
	"github.com/fjordcrew/crewfront/internal/session"
	"github.com/fjordcrew/crewfront/internal/storage"
	"github.com/fjordcrew/crewfront/internal/urlutil"
)

// CallbackPath is where the identity provider sends the user back.
const CallbackPath = "/login/callback"

// CodeExchangeTimeout bounds the token exchange and user info calls.
const CodeExchangeTimeout = 30 * time.Second

// Messages shown on the login page through ?error=.
const (
	MsgLoginUnavailable   = "Innlogging er ikke tilgjengelig for øyeblikket. Vennligst prøv igjen senere."
	MsgLoginInvalidReturn = "Ugyldig adresse for videresending etter innlogging."
	MsgLoginFailed        = "Innloggingen mislyktes. Vennligst prøv igjen."
	MsgLoginCancelled     = "Innloggingen ble avbrutt."
	MsgLoginExpired       = "Innloggingen tok for lang tid eller er allerede fullført. Vennligst prøv igjen."
)

// Login outcome labels for metrics.
const (
	loginStarted     = "started"
	loginSucceeded   = "succeeded"
	loginRejected    = "rejected"
	loginFailed      = "failed"
	loginRateLimited = "rate_limited"
)

// AuthHandlers runs the login flow: start, provider callback, logout, and
// the session lookup used by the frontend.
type AuthHandlers struct {
	serverConfig config.ServerConfig
	provider     idp.Provider
	states       *oauthstate.Store
	sessions     *session.Manager
	cookies      cookie.Policy
	storage      storage.Storage
	limiter      *ratelimit.Limiter
	loginRule    ratelimit.Rule
	metrics      *metrics.Metrics
}

// NewAuthHandlers creates the login handlers. provider is nil when login
// is disabled.
func NewAuthHandlers(
	serverConfig config.ServerConfig,
	provider idp.Provider,
	states *oauthstate.Store,
	sessions *session.Manager,
	cookies cookie.Policy,
	store storage.Storage,
	limiter *ratelimit.Limiter,
	loginRule ratelimit.Rule,
	m *metrics.Metrics,
) *AuthHandlers {
	return &AuthHandlers{
		serverConfig: serverConfig,
		provider:     provider,
		states:       states,
		sessions:     sessions,
		cookies:      cookies,
		storage:      store,
		limiter:      limiter,
		loginRule:    loginRule,
		metrics:      m,
	}
}

// LoginStartHandler handles GET /login/start?returnTo=<path>
func (h *AuthHandlers) LoginStartHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	res, err := h.limiter.Apply(ctx, h.loginRule, ratelimit.ClientIP(r))
	if err != nil {
		log.LogErrorWithFields("auth", "Rate limit store unavailable", map[string]any{
			"error": err,
		})
	}
	if !res.Allowed {
		h.metrics.Login(loginRateLimited)
		if res.Degraded {
			h.redirectWithError(w, r, MsgLoginUnavailable)
		} else {
			h.redirectWithError(w, r, jsonwriter.MsgRateLimited)
		}
		return
	}

	returnPath, err := urlutil.SafeReturnPath(r.URL.Query().Get("returnTo"))
	if err != nil {
		log.LogWarnWithFields("auth", "Rejected unsafe returnTo", map[string]any{
			"ip": ratelimit.ClientIP(r),
		})
		h.metrics.Login(loginRejected)
		h.redirectWithError(w, r, MsgLoginInvalidReturn)
		return
	}

	if h.provider == nil {
		log.LogWarnWithFields("auth", "Login attempted but no identity provider is configured", nil)
		h.metrics.Login(loginFailed)
		h.redirectWithError(w, r, MsgLoginUnavailable)
		return
	}

	callbackURL := urlutil.RequestOrigin(r, h.serverConfig.AllowedHosts, h.serverConfig.BaseURL) + CallbackPath

	rec, err := h.states.Issue(ctx, returnPath, callbackURL)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to store login state", map[string]any{
			"error": err,
		})
		h.metrics.Login(loginFailed)
		h.redirectWithError(w, r, MsgLoginUnavailable)
		return
	}

	authURL, err := h.provider.AuthURL(ctx, rec.State, callbackURL)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to build authorization URL", map[string]any{
			"provider": h.provider.Type(),
			"error":    err,
		})
		h.metrics.Login(loginFailed)
		h.redirectWithError(w, r, MsgLoginUnavailable)
		return
	}

	log.LogDebugWithFields("auth", "Login started", map[string]any{
		"provider": h.provider.Type(),
		"callback": callbackURL,
	})
	h.metrics.Login(loginStarted)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// CallbackHandler handles GET /login/callback?code=&state=
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		log.LogInfoWithFields("auth", "Identity provider returned an error", map[string]any{
			"error":       errCode,
			"description": query.Get("error_description"),
		})
		h.metrics.Login(loginRejected)
		if errCode == "access_denied" {
			h.redirectWithError(w, r, MsgLoginCancelled)
		} else {
			h.redirectWithError(w, r, MsgLoginFailed)
		}
		return
	}

	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		h.metrics.Login(loginRejected)
		h.redirectWithError(w, r, MsgLoginFailed)
		return
	}

	if h.provider == nil {
		h.metrics.Login(loginFailed)
		h.redirectWithError(w, r, MsgLoginUnavailable)
		return
	}

	rec, err := h.states.Consume(r.Context(), state)
	if err != nil {
		if errors.Is(err, oauthstate.ErrStateNotFound) {
			log.LogWarnWithFields("auth", "Unknown, expired or reused login state", map[string]any{
				"ip": ratelimit.ClientIP(r),
			})
			h.metrics.Login(loginRejected)
			h.redirectWithError(w, r, MsgLoginExpired)
			return
		}
		log.LogErrorWithFields("auth", "Failed to load login state", map[string]any{
			"error": err,
		})
		h.metrics.Login(loginFailed)
		h.redirectWithError(w, r, MsgLoginUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), CodeExchangeTimeout)
	defer cancel()

	token, err := h.provider.ExchangeCode(ctx, code, rec.CallbackURL)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to exchange authorization code", map[string]any{
			"provider": h.provider.Type(),
			"error":    err,
		})
		h.metrics.Login(loginFailed)
		h.redirectWithError(w, r, MsgLoginFailed)
		return
	}

	identity, err := h.provider.UserInfo(ctx, token)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to fetch user info", map[string]any{
			"provider": h.provider.Type(),
			"error":    err,
		})
		h.metrics.Login(loginFailed)
		h.redirectWithError(w, r, MsgLoginFailed)
		return
	}

	claims := session.Claims{
		SubjectID:        session.SubjectID(h.provider.Type(), identity.Subject),
		ExternalSubject:  identity.Subject,
		Email:            emailutil.Normalize(identity.Email),
		Name:             identity.Name,
		Phone:            identity.PhoneNumber,
		IdentityVerified: identity.IdentityVerified,
	}

	h.trackUser(ctx, claims)

	signed, err := h.sessions.Issue(claims)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to issue session", map[string]any{
			"provider": h.provider.Type(),
			"error":    err,
		})
		h.metrics.Login(loginFailed)
		h.redirectWithError(w, r, MsgLoginFailed)
		return
	}

	h.cookies.SetSession(w, signed, h.sessions.TTL())
	log.LogInfoWithFields("auth", "User logged in", map[string]any{
		"provider": h.provider.Type(),
		"subject":  claims.SubjectID,
		"email":    emailutil.Mask(claims.Email),
	})
	h.metrics.Login(loginSucceeded)
	http.Redirect(w, r, rec.ReturnPath, http.StatusFound)
}

// trackUser records the login. Failures never block the login itself.
func (h *AuthHandlers) trackUser(ctx context.Context, claims session.Claims) {
	now := time.Now().UTC()
	user := &storage.User{
		SubjectID:        claims.SubjectID,
		Provider:         h.provider.Type(),
		ExternalSubject:  claims.ExternalSubject,
		Email:            claims.Email,
		Name:             claims.Name,
		Phone:            claims.Phone,
		IdentityVerified: claims.IdentityVerified,
		FirstSeen:        now,
		LastSeen:         now,
	}
	if err := h.storage.UpsertUser(ctx, user); err != nil {
		log.LogWarnWithFields("auth", "Failed to track user", map[string]any{
			"subject": claims.SubjectID,
			"error":   err,
		})
	}
}

// LogoutHandler handles GET /logout
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.cookies.ClearSession(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// SessionHandler handles GET /api/session. It runs behind the session
// middleware.
func (h *AuthHandlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := session.FromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, jsonwriter.MsgUnauthorized)
		return
	}
	jsonwriter.WriteOK(w, claims)
}

// redirectWithError sends the user to the login page with a message.
func (h *AuthHandlers) redirectWithError(w http.ResponseWriter, r *http.Request, message string) {
	target := h.serverConfig.LoginPath + "?error=" + url.QueryEscape(message)
	http.Redirect(w, r, target, http.StatusFound)
}
