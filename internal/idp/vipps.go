package idp

import "fmt"

// Vipps Login discovery documents.
const (
	vippsProductionDiscovery = "https://api.vipps.no/access-management-1.0/access/.well-known/openid-configuration"
	vippsTestDiscovery       = "https://apitest.vipps.no/access-management-1.0/access/.well-known/openid-configuration"
)

// VippsScopes are requested unless overridden.
var VippsScopes = []string{"openid", "name", "email", "phoneNumber"}

// NewVippsProvider creates a provider for Vipps Login. environment is
// "production" or "test". Vipps users are identified through BankID, so
// their identity counts as verified.
func NewVippsProvider(environment, clientID, clientSecret string, scopes []string) (*OIDCProvider, error) {
	var discovery string
	switch environment {
	case "", "production":
		discovery = vippsProductionDiscovery
	case "test":
		discovery = vippsTestDiscovery
	default:
		return nil, fmt.Errorf("unknown vipps environment: %s", environment)
	}

	if len(scopes) == 0 {
		scopes = VippsScopes
	}

	return NewOIDCProvider(OIDCConfig{
		ProviderType:          "vipps",
		DiscoveryURL:          discovery,
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		Scopes:                scopes,
		TrustIdentityVerified: true,
	})
}
