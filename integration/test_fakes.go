package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
)

const (
	fakeAuthCode    = "test-auth-code"
	fakeAccessToken = "test-access-token"
	fakeSubject     = "vipps-sub-4711"
)

// FakeVippsServer is a minimal OIDC provider shaped like Vipps Login. It
// approves every authorization request immediately.
type FakeVippsServer struct {
	server *httptest.Server

	// Denied makes /authorize answer as if the user cancelled.
	Denied atomic.Bool
}

func NewFakeVippsServer() *FakeVippsServer {
	f := &FakeVippsServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 f.URL(),
			"authorization_endpoint": f.URL() + "/authorize",
			"token_endpoint":         f.URL() + "/token",
			"userinfo_endpoint":      f.URL() + "/userinfo",
		})
	})

	mux.HandleFunc("/authorize", func(w http.ResponseWriter, r *http.Request) {
		redirectURI := r.URL.Query().Get("redirect_uri")
		q := url.Values{"state": {r.URL.Query().Get("state")}}
		if f.Denied.Load() {
			q.Set("error", "access_denied")
		} else {
			q.Set("code", fakeAuthCode)
		}
		http.Redirect(w, r, fmt.Sprintf("%s?%s", redirectURI, q.Encode()), http.StatusFound)
	})

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("code") != fakeAuthCode {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":             "invalid_grant",
				"error_description": "Invalid authorization code",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": fakeAccessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+fakeAccessToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":            fakeSubject,
			"email":          "Kari.Nordmann@Example.no",
			"email_verified": true,
			"given_name":     "Kari",
			"family_name":    "Nordmann",
			"phone_number":   "4791234567",
		})
	})

	f.server = httptest.NewServer(mux)
	return f
}

func (f *FakeVippsServer) URL() string {
	return f.server.URL
}

func (f *FakeVippsServer) DiscoveryURL() string {
	return f.server.URL + "/.well-known/openid-configuration"
}

func (f *FakeVippsServer) Close() {
	f.server.Close()
}
