// Package idp talks to the external identity provider during login.
package idp

import (
	"context"

	"golang.org/x/oauth2"
)

// Identity is what the provider tells us about the person who logged in.
type Identity struct {
	ProviderType  string `json:"provider_type"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	PhoneNumber   string `json:"phone_number,omitempty"`
	// IdentityVerified is true when the provider has verified the person's
	// legal identity, not just their email address.
	IdentityVerified bool `json:"identity_verified"`
}

// Provider abstracts identity provider operations. The redirect URI is
// passed per call because it is derived from the host the user is on.
type Provider interface {
	// Type returns the provider type identifier ("vipps", "oidc").
	Type() string

	// AuthURL generates the authorization URL for the OAuth flow.
	AuthURL(ctx context.Context, state, redirectURI string) (string, error)

	// ExchangeCode exchanges an authorization code for tokens. redirectURI
	// must equal the one used for AuthURL.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error)

	// UserInfo fetches the identity for token.
	UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error)
}
