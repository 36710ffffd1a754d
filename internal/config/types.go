package config

import (
	"encoding/json"
	"strings"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Environment selects production or development behavior.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Backend names used across sections.
const (
	KVMemory = "memory"
	KVRedis  = "redis"

	StorageMemory    = "memory"
	StoragePostgres  = "postgres"
	StorageFirestore = "firestore"

	UploadsFile = "file"
	UploadsGCS  = "gcs"

	EmailLog  = "log"
	EmailHTTP = "http"

	ProviderVipps = "vipps"
	ProviderOIDC  = "oidc"
)

// ServerConfig is the HTTP surface.
type ServerConfig struct {
	BaseURL string `json:"baseURL" validate:"required,url"`
	Addr    string `json:"addr" validate:"required"`
	// CookieDomain is the apex domain the session cookie is scoped to in
	// production, e.g. "fjordcrew.no".
	CookieDomain string `json:"cookieDomain"`
	// AllowedHosts restricts which Host headers may be used to build
	// callback URLs. Empty means only the host of BaseURL.
	AllowedHosts   []string      `json:"allowedHosts"`
	AllowedOrigins []string      `json:"allowedOrigins"`
	LoginPath      string        `json:"loginPath" validate:"required,startswith=/"`
	ReadTimeout    time.Duration `json:"-"`
	WriteTimeout   time.Duration `json:"-"`
}

// LoggingConfig mirrors LOG_LEVEL and LOG_FORMAT.
type LoggingConfig struct {
	Level  string `json:"level" validate:"omitempty,oneof=error warn warning info debug trace ERROR WARN WARNING INFO DEBUG TRACE"`
	Format string `json:"format" validate:"omitempty,oneof=text json TEXT JSON"`
}

// SecurityConfig holds signing material.
type SecurityConfig struct {
	SecretKey    Secret        `json:"secretKey"`
	HealthSecret Secret        `json:"healthSecret"`
	SessionTTL   time.Duration `json:"-"`
	// InsecureDevKey is set when SecretKey was missing outside production
	// and a fixed development key was used instead.
	InsecureDevKey bool `json:"-"`
}

// IdentityConfig configures the login provider.
type IdentityConfig struct {
	Provider string `json:"provider" validate:"required,oneof=vipps oidc"`
	// Environment selects Vipps production or test endpoints.
	Environment      string   `json:"environment" validate:"omitempty,oneof=production test"`
	DiscoveryURL     string   `json:"discoveryUrl" validate:"omitempty,url"`
	AuthorizationURL string   `json:"authorizationUrl" validate:"omitempty,url"`
	TokenURL         string   `json:"tokenUrl" validate:"omitempty,url"`
	UserInfoURL      string   `json:"userInfoUrl" validate:"omitempty,url"`
	ClientID         string   `json:"clientId"`
	ClientSecret     Secret   `json:"clientSecret"`
	Scopes           []string `json:"scopes"`
	// TrustIdentityVerified marks identities from a generic OIDC provider
	// as verified. Vipps identities are always verified.
	TrustIdentityVerified bool `json:"trustIdentityVerified"`
}

// Configured reports whether client credentials are present.
func (c *IdentityConfig) Configured() bool {
	return c != nil && c.ClientID != "" && c.ClientSecret != ""
}

// KVConfig selects the shared key-value store.
type KVConfig struct {
	Type      string `json:"type" validate:"required,oneof=memory redis"`
	URL       Secret `json:"url" validate:"required_if=Type redis"`
	KeyPrefix string `json:"keyPrefix"`
}

// StorageConfig selects where submissions are persisted.
type StorageConfig struct {
	Type              string `json:"type" validate:"required,oneof=memory postgres firestore"`
	DSN               Secret `json:"dsn" validate:"required_if=Type postgres"`
	GCPProject        string `json:"gcpProject" validate:"required_if=Type firestore"`
	FirestoreDatabase string `json:"firestoreDatabase"`
	CollectionPrefix  string `json:"collectionPrefix"`
}

// UploadsConfig selects where uploaded documents go.
type UploadsConfig struct {
	Type     string `json:"type" validate:"required,oneof=file gcs"`
	Dir      string `json:"dir" validate:"required_if=Type file"`
	Bucket   string `json:"bucket" validate:"required_if=Type gcs"`
	Prefix   string `json:"prefix"`
	MaxBytes int64  `json:"maxBytes" validate:"gte=0"`
}

// EmailConfig configures notification emails to staff.
type EmailConfig struct {
	Type     string        `json:"type" validate:"required,oneof=log http"`
	Endpoint string        `json:"endpoint" validate:"required_if=Type http,omitempty,url"`
	APIKey   Secret        `json:"apiKey" validate:"required_if=Type http"`
	From     string        `json:"from" validate:"omitempty,email"`
	NotifyTo []string      `json:"notifyTo" validate:"dive,email"`
	Timeout  time.Duration `json:"-"`
}

// IndexNowConfig enables search engine change notifications.
type IndexNowConfig struct {
	Key      string `json:"key" validate:"required,min=8,max=128,alphanum"`
	Endpoint string `json:"endpoint" validate:"omitempty,url"`
}

// RateLimitConfig overrides the limit for one scope.
type RateLimitConfig struct {
	Limit  int64         `json:"limit" validate:"gt=0"`
	Window time.Duration `json:"-"`
	Policy string        `json:"policy" validate:"omitempty,oneof=fail-open fail-closed"`
}

// CampaignConfig is a recruitment campaign that accepts applications.
type CampaignConfig struct {
	ID        string     `json:"id" validate:"required"`
	Title     string     `json:"title" validate:"required"`
	Positions []string   `json:"positions" validate:"required,min=1,dive,required"`
	ClosesAt  *time.Time `json:"closesAt,omitempty"`
	Closed    bool       `json:"closed"`
}

// Open reports whether the campaign accepts applications at now.
func (c *CampaignConfig) Open(now time.Time) bool {
	if c.Closed {
		return false
	}
	return c.ClosesAt == nil || now.Before(*c.ClosesAt)
}

// HasPosition reports whether position is one of the campaign's positions,
// ignoring case and surrounding space.
func (c *CampaignConfig) HasPosition(position string) bool {
	position = strings.TrimSpace(position)
	for _, p := range c.Positions {
		if strings.EqualFold(p, position) {
			return true
		}
	}
	return false
}

// Config represents the config structure with resolved values
type Config struct {
	Environment Environment                `json:"environment" validate:"required,oneof=development production"`
	Server      ServerConfig               `json:"server"`
	Logging     LoggingConfig              `json:"logging"`
	Security    SecurityConfig             `json:"security"`
	Identity    *IdentityConfig            `json:"identity,omitempty"`
	KV          KVConfig                   `json:"kv"`
	Storage     StorageConfig              `json:"storage"`
	Uploads     UploadsConfig              `json:"uploads"`
	Email       EmailConfig                `json:"email"`
	IndexNow    *IndexNowConfig            `json:"indexNow,omitempty"`
	RateLimits  map[string]RateLimitConfig `json:"rateLimits" validate:"dive"`
	Campaigns   []CampaignConfig           `json:"campaigns" validate:"dive"`
}

// IsProduction reports whether production rules apply.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Campaign returns the campaign with id, or nil.
func (c *Config) Campaign(id string) *CampaignConfig {
	for i := range c.Campaigns {
		if c.Campaigns[i].ID == id {
			return &c.Campaigns[i]
		}
	}
	return nil
}
