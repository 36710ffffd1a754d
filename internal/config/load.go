package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fjordcrew/crewfront/internal/log"
)

// Version is the only config version this build understands.
const Version = "v1"

// DefaultMaxUploadBytes caps uploaded documents when uploads.maxBytes is 0.
const DefaultMaxUploadBytes = 10 << 20

// insecureDevSecret is used when no secretKey is configured outside
// production. Tokens signed with it are worthless anywhere else.
const insecureDevSecret = "crewfront-insecure-development-secret-do-not-use"

// secretPaths lists values that must be given as {"$env": ...} references.
var secretPaths = [][]string{
	{"security", "secretKey"},
	{"security", "healthSecret"},
	{"identity", "clientSecret"},
	{"kv", "url"},
	{"storage", "dsn"},
	{"email", "apiKey"},
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse processes config file contents. Split from Load for tests.
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if version != Version {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig rejects secrets written inline in the file.
func validateRawConfig(rawConfig map[string]any) error {
	for _, path := range secretPaths {
		section, ok := rawConfig[path[0]].(map[string]any)
		if !ok {
			continue
		}
		value, exists := section[path[1]]
		if !exists || value == nil {
			continue
		}
		name := strings.Join(path, ".")
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s must use environment variable reference for security", name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
			}
		}
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
	if c.Server.LoginPath == "" {
		c.Server.LoginPath = "/logg-inn"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Security.SessionTTL == 0 {
		c.Security.SessionTTL = 24 * time.Hour
	}
	if c.KV.Type == "" {
		c.KV.Type = KVMemory
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StorageMemory
	}
	if c.Uploads.Type == "" {
		c.Uploads.Type = UploadsFile
		if c.Uploads.Dir == "" {
			c.Uploads.Dir = "uploads"
		}
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = DefaultMaxUploadBytes
	}
	if c.Email.Type == "" {
		c.Email.Type = EmailLog
	}
	if c.Email.Timeout == 0 {
		c.Email.Timeout = 10 * time.Second
	}
	if c.Identity != nil && c.Identity.Provider == ProviderVipps && c.Identity.Environment == "" {
		c.Identity.Environment = "production"
	}
	if c.IndexNow != nil && c.IndexNow.Endpoint == "" {
		c.IndexNow.Endpoint = "https://api.indexnow.org/indexnow"
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return err
	}

	base, err := url.Parse(config.Server.BaseURL)
	if err != nil || base.Host == "" {
		return fmt.Errorf("server.baseURL must be an absolute URL")
	}

	if len(config.Security.SecretKey) == 0 {
		if config.IsProduction() {
			return fmt.Errorf("security.secretKey is required in production")
		}
		log.LogWarnWithFields("config", "No secretKey configured, using insecure development key", nil)
		config.Security.SecretKey = Secret(insecureDevSecret)
		config.Security.InsecureDevKey = true
	}
	if len(config.Security.SecretKey) < 32 {
		return fmt.Errorf("security.secretKey must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(config.Security.SecretKey))
	}

	if config.IsProduction() {
		if base.Scheme != "https" {
			return fmt.Errorf("server.baseURL must use https in production")
		}
		if config.Server.CookieDomain == "" {
			return fmt.Errorf("server.cookieDomain is required in production")
		}
		if !strings.HasSuffix(base.Hostname(), config.Server.CookieDomain) {
			return fmt.Errorf("server.cookieDomain %q does not cover %s", config.Server.CookieDomain, base.Hostname())
		}
		if config.KV.Type == KVMemory {
			log.LogWarnWithFields("config", "Memory KV store in production: rate limits and login state are per instance", nil)
		}
	}

	if id := config.Identity; id != nil {
		if id.Provider == ProviderOIDC && id.DiscoveryURL == "" &&
			(id.AuthorizationURL == "" || id.TokenURL == "" || id.UserInfoURL == "") {
			return fmt.Errorf("identity: either discoveryUrl or all endpoints (authorizationUrl, tokenUrl, userInfoUrl) must be provided")
		}
		if !id.Configured() {
			if config.IsProduction() {
				return fmt.Errorf("identity.clientId and identity.clientSecret are required in production")
			}
			log.LogWarnWithFields("config", "Identity provider credentials missing, login is disabled", map[string]any{
				"provider": id.Provider,
			})
		}
	}

	if config.IndexNow != nil && len(config.Security.HealthSecret) == 0 {
		return fmt.Errorf("indexNow requires security.healthSecret to protect the submit endpoint")
	}

	seen := make(map[string]bool, len(config.Campaigns))
	for _, c := range config.Campaigns {
		if seen[c.ID] {
			return fmt.Errorf("duplicate campaign id %q", c.ID)
		}
		seen[c.ID] = true
	}

	return nil
}
