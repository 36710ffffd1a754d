package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/fjordcrew/crewfront/internal/emailutil"
	"github.com/fjordcrew/crewfront/internal/ioutil"
	"github.com/fjordcrew/crewfront/internal/log"
)

// OIDCConfig configures a generic OIDC provider.
type OIDCConfig struct {
	// ProviderType identifies this provider (e.g., "oidc", "vipps").
	ProviderType string

	// Discovery URL for OIDC discovery (optional if endpoints are provided directly).
	DiscoveryURL string

	// Direct endpoint configuration (used if DiscoveryURL is not set).
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string

	ClientID     string
	ClientSecret string
	Scopes       []string

	// TrustIdentityVerified marks every identity from this provider as
	// legally verified.
	TrustIdentityVerified bool

	// HTTPClient is used for discovery. Defaults to a client with a 10s timeout.
	HTTPClient *http.Client
}

// OIDCProvider implements the Provider interface for OIDC-compliant identity providers.
type OIDCProvider struct {
	providerType  string
	trustVerified bool
	httpClient    *http.Client
	discoveryURL  string

	mu          sync.Mutex
	resolved    bool
	config      oauth2.Config
	userInfoURL string
}

// oidcDiscoveryDocument represents the OIDC discovery document.
type oidcDiscoveryDocument struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	Issuer                string `json:"issuer"`
}

// oidcUserInfoResponse is the standard userinfo response plus the phone
// claims some providers add.
type oidcUserInfoResponse struct {
	Sub                 string `json:"sub"`
	Email               string `json:"email"`
	EmailVerified       bool   `json:"email_verified"`
	Name                string `json:"name"`
	GivenName           string `json:"given_name"`
	FamilyName          string `json:"family_name"`
	PhoneNumber         string `json:"phone_number"`
	PhoneNumberVerified bool   `json:"phone_number_verified"`
}

// NewOIDCProvider creates a new OIDC provider. With a discovery URL the
// endpoints are fetched on first use and cached; a failed fetch is retried
// on the next login.
func NewOIDCProvider(cfg OIDCConfig) (*OIDCProvider, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("clientId is required")
	}
	if cfg.DiscoveryURL == "" && (cfg.AuthorizationURL == "" || cfg.TokenURL == "" || cfg.UserInfoURL == "") {
		return nil, fmt.Errorf("either discoveryUrl or all endpoints (authorizationUrl, tokenUrl, userInfoUrl) must be provided")
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}

	providerType := cfg.ProviderType
	if providerType == "" {
		providerType = "oidc"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	p := &OIDCProvider{
		providerType:  providerType,
		trustVerified: cfg.TrustIdentityVerified,
		httpClient:    httpClient,
		discoveryURL:  cfg.DiscoveryURL,
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       scopes,
		},
	}

	if cfg.DiscoveryURL == "" {
		p.config.Endpoint = oauth2.Endpoint{AuthURL: cfg.AuthorizationURL, TokenURL: cfg.TokenURL}
		p.userInfoURL = cfg.UserInfoURL
		p.resolved = true
	}
	return p, nil
}

// endpoints returns the oauth2 config with endpoints resolved.
func (p *OIDCProvider) endpoints(ctx context.Context) (oauth2.Config, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.resolved {
		discovery, err := fetchOIDCDiscovery(ctx, p.httpClient, p.discoveryURL)
		if err != nil {
			return oauth2.Config{}, "", fmt.Errorf("failed to fetch OIDC discovery: %w", err)
		}
		p.config.Endpoint = oauth2.Endpoint{
			AuthURL:  discovery.AuthorizationEndpoint,
			TokenURL: discovery.TokenEndpoint,
		}
		p.userInfoURL = discovery.UserInfoEndpoint
		p.resolved = true

		log.LogDebugWithFields("idp", "Resolved OIDC endpoints", map[string]any{
			"provider": p.providerType,
			"issuer":   discovery.Issuer,
		})
	}
	return p.config, p.userInfoURL, nil
}

func fetchOIDCDiscovery(ctx context.Context, client *http.Client, discoveryURL string) (*oidcDiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery endpoint returned status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 1024))
	}

	var discovery oidcDiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&discovery); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}

	if discovery.AuthorizationEndpoint == "" || discovery.TokenEndpoint == "" || discovery.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("discovery document missing required endpoints")
	}

	return &discovery, nil
}

// Type returns the provider type.
func (p *OIDCProvider) Type() string {
	return p.providerType
}

// AuthURL generates the authorization URL.
func (p *OIDCProvider) AuthURL(ctx context.Context, state, redirectURI string) (string, error) {
	cfg, _, err := p.endpoints(ctx)
	if err != nil {
		return "", err
	}
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state), nil
}

// ExchangeCode exchanges an authorization code for tokens.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, redirectURI string) (*oauth2.Token, error) {
	cfg, _, err := p.endpoints(ctx)
	if err != nil {
		return nil, err
	}
	cfg.RedirectURL = redirectURI
	return cfg.Exchange(ctx, code)
}

// UserInfo fetches user identity from the OIDC userinfo endpoint.
func (p *OIDCProvider) UserInfo(ctx context.Context, token *oauth2.Token) (*Identity, error) {
	cfg, userInfoURL, err := p.endpoints(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to get user info: status %d: %s", resp.StatusCode, ioutil.ReadLimited(resp.Body, 1024))
	}

	var info oidcUserInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("user info has no subject")
	}
	if info.Email == "" {
		return nil, fmt.Errorf("user info has no email")
	}

	name := info.Name
	if name == "" {
		name = strings.TrimSpace(info.GivenName + " " + info.FamilyName)
	}

	return &Identity{
		ProviderType:     p.providerType,
		Subject:          info.Sub,
		Email:            emailutil.Normalize(info.Email),
		EmailVerified:    info.EmailVerified,
		Name:             name,
		PhoneNumber:      info.PhoneNumber,
		IdentityVerified: p.trustVerified,
	}, nil
}
