package idp

import (
	"fmt"

	"github.com/fjordcrew/crewfront/internal/config"
)

// NewProvider creates a Provider based on the identity config. It returns
// nil and no error when login is not configured.
func NewProvider(cfg *config.IdentityConfig) (Provider, error) {
	if !cfg.Configured() {
		return nil, nil
	}

	switch cfg.Provider {
	case config.ProviderVipps:
		if cfg.DiscoveryURL != "" {
			// Explicit discovery URL wins, e.g. a local mock of Vipps.
			return asProvider(NewOIDCProvider(OIDCConfig{
				ProviderType:          config.ProviderVipps,
				DiscoveryURL:          cfg.DiscoveryURL,
				ClientID:              cfg.ClientID,
				ClientSecret:          string(cfg.ClientSecret),
				Scopes:                scopesOr(cfg.Scopes, VippsScopes),
				TrustIdentityVerified: true,
			}))
		}
		return asProvider(NewVippsProvider(cfg.Environment, cfg.ClientID, string(cfg.ClientSecret), cfg.Scopes))

	case config.ProviderOIDC:
		return asProvider(NewOIDCProvider(OIDCConfig{
			ProviderType:          config.ProviderOIDC,
			DiscoveryURL:          cfg.DiscoveryURL,
			AuthorizationURL:      cfg.AuthorizationURL,
			TokenURL:              cfg.TokenURL,
			UserInfoURL:           cfg.UserInfoURL,
			ClientID:              cfg.ClientID,
			ClientSecret:          string(cfg.ClientSecret),
			Scopes:                cfg.Scopes,
			TrustIdentityVerified: cfg.TrustIdentityVerified,
		}))

	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Provider)
	}
}

// asProvider avoids returning a typed nil inside the interface.
func asProvider(p *OIDCProvider, err error) (Provider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

func scopesOr(scopes, fallback []string) []string {
	if len(scopes) > 0 {
		return scopes
	}
	return fallback
}
