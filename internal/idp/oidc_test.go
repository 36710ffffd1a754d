package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func directConfig(userInfoURL string) OIDCConfig {
	return OIDCConfig{
		AuthorizationURL: "https://idp.example.com/authorize",
		TokenURL:         "https://idp.example.com/token",
		UserInfoURL:      userInfoURL,
		ClientID:         "client-id",
		ClientSecret:     "client-secret",
	}
}

func TestNewOIDCProvider_WithDirectEndpoints(t *testing.T) {
	cfg := directConfig("https://idp.example.com/userinfo")
	cfg.ProviderType = "custom"
	provider, err := NewOIDCProvider(cfg)

	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.Equal(t, "custom", provider.Type())
}

func TestNewOIDCProvider_MissingEndpoints(t *testing.T) {
	_, err := NewOIDCProvider(OIDCConfig{
		AuthorizationURL: "https://idp.example.com/authorize",
		ClientID:         "client-id",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discoveryUrl or all endpoints")

	_, err = NewOIDCProvider(OIDCConfig{DiscoveryURL: "https://idp.example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clientId is required")
}

func TestOIDCProvider_DiscoveryIsLazyAndCached(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oidcDiscoveryDocument{
			Issuer:                "https://idp.example.com",
			AuthorizationEndpoint: "https://idp.example.com/authorize",
			TokenEndpoint:         "https://idp.example.com/token",
			UserInfoEndpoint:      "https://idp.example.com/userinfo",
		})
	}))
	defer server.Close()

	provider, err := NewOIDCProvider(OIDCConfig{
		DiscoveryURL: server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "oidc", provider.Type())
	assert.Equal(t, int32(0), hits.Load(), "no network call at construction")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		authURL, err := provider.AuthURL(ctx, "state", "https://fjordcrew.no/login/callback")
		require.NoError(t, err)
		assert.Contains(t, authURL, "https://idp.example.com/authorize")
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestOIDCProvider_DiscoveryFailureIsRetried(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(oidcDiscoveryDocument{
			AuthorizationEndpoint: "https://idp.example.com/authorize",
			TokenEndpoint:         "https://idp.example.com/token",
			UserInfoEndpoint:      "https://idp.example.com/userinfo",
		})
	}))
	defer server.Close()

	provider, err := NewOIDCProvider(OIDCConfig{DiscoveryURL: server.URL, ClientID: "c", ClientSecret: "s"})
	require.NoError(t, err)

	_, err = provider.AuthURL(context.Background(), "state", "https://fjordcrew.no/cb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	fail.Store(false)
	_, err = provider.AuthURL(context.Background(), "state", "https://fjordcrew.no/cb")
	assert.NoError(t, err)
}

func TestOIDCProvider_DiscoveryMissingEndpoints(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(oidcDiscoveryDocument{Issuer: "https://idp.example.com"})
	}))
	defer server.Close()

	provider, err := NewOIDCProvider(OIDCConfig{DiscoveryURL: server.URL, ClientID: "c", ClientSecret: "s"})
	require.NoError(t, err)

	_, err = provider.AuthURL(context.Background(), "state", "https://fjordcrew.no/cb")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required endpoints")
}

func TestOIDCProvider_AuthURL(t *testing.T) {
	provider, err := NewOIDCProvider(directConfig("https://idp.example.com/userinfo"))
	require.NoError(t, err)

	authURL, err := provider.AuthURL(context.Background(), "test-state", "https://www.fjordcrew.no/login/callback")
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", u.Host)
	q := u.Query()
	assert.Equal(t, "test-state", q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "https://www.fjordcrew.no/login/callback", q.Get("redirect_uri"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
}

func TestOIDCProvider_RedirectURIPerCall(t *testing.T) {
	provider, err := NewOIDCProvider(directConfig("https://idp.example.com/userinfo"))
	require.NoError(t, err)
	ctx := context.Background()

	a, err := provider.AuthURL(ctx, "s", "https://fjordcrew.no/login/callback")
	require.NoError(t, err)
	b, err := provider.AuthURL(ctx, "s", "https://www.fjordcrew.no/login/callback")
	require.NoError(t, err)

	assert.Contains(t, a, url.QueryEscape("https://fjordcrew.no/login/callback"))
	assert.Contains(t, b, url.QueryEscape("https://www.fjordcrew.no/login/callback"))
}

func TestOIDCProvider_ExchangeCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "the-code", r.PostForm.Get("code"))
		assert.Equal(t, "https://fjordcrew.no/login/callback", r.PostForm.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "at-123", "token_type": "Bearer", "expires_in": 3600}`))
	}))
	defer server.Close()

	cfg := directConfig("https://idp.example.com/userinfo")
	cfg.TokenURL = server.URL
	provider, err := NewOIDCProvider(cfg)
	require.NoError(t, err)

	token, err := provider.ExchangeCode(context.Background(), "the-code", "https://fjordcrew.no/login/callback")
	require.NoError(t, err)
	assert.Equal(t, "at-123", token.AccessToken)
}

func TestOIDCProvider_UserInfo(t *testing.T) {
	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(oidcUserInfoResponse{
			Sub:           "12345",
			Email:         " Ola@Example.NO ",
			EmailVerified: true,
			GivenName:     "Ola",
			FamilyName:    "Nordmann",
			PhoneNumber:   "4712345678",
		})
	}))
	defer userInfoServer.Close()

	provider, err := NewOIDCProvider(directConfig(userInfoServer.URL))
	require.NoError(t, err)

	identity, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "test-token"})
	require.NoError(t, err)
	assert.Equal(t, "oidc", identity.ProviderType)
	assert.Equal(t, "12345", identity.Subject)
	assert.Equal(t, "ola@example.no", identity.Email)
	assert.Equal(t, "Ola Nordmann", identity.Name)
	assert.Equal(t, "4712345678", identity.PhoneNumber)
	assert.True(t, identity.EmailVerified)
	assert.False(t, identity.IdentityVerified)
}

func TestOIDCProvider_UserInfoErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"invalid_token"}`, "status 401"},
		{"no subject", http.StatusOK, `{"email":"a@b.no"}`, "no subject"},
		{"no email", http.StatusOK, `{"sub":"1"}`, "no email"},
		{"bad json", http.StatusOK, `{`, "failed to decode user info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			provider, err := NewOIDCProvider(directConfig(server.URL))
			require.NoError(t, err)

			_, err = provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "t"})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOIDCProvider_TrustIdentityVerified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sub":"1","email":"a@b.no","name":"A"}`))
	}))
	defer server.Close()

	cfg := directConfig(server.URL)
	cfg.TrustIdentityVerified = true
	provider, err := NewOIDCProvider(cfg)
	require.NoError(t, err)

	identity, err := provider.UserInfo(context.Background(), &oauth2.Token{AccessToken: "t"})
	require.NoError(t, err)
	assert.True(t, identity.IdentityVerified)
}
