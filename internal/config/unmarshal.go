package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Values may be a plain JSON string or an environment reference of the
// form {"$env": "VAR_NAME"}, resolved at load time. The explicit object
// syntax keeps shell tooling from expanding $VAR before the config is read
// and lets the loader insist that secrets never appear inline.

// ParseConfigValue parses a JSON value that could be a string or an $env
// reference. A missing or null value yields "".
func ParseConfigValue(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

// parseOptionalEnvValue is ParseConfigValue, except that an unset
// environment variable yields "" instead of an error. Used for values that
// may legitimately be absent in development.
func parseOptionalEnvValue(raw json.RawMessage) (string, error) {
	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err == nil {
		if envVar, ok := ref["$env"]; ok && os.Getenv(envVar) == "" {
			return "", nil
		}
	}
	return ParseConfigValue(raw)
}

func parseDuration(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s cannot be negative", field)
	}
	return d, nil
}

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type rawServer struct {
		BaseURL        json.RawMessage `json:"baseURL"`
		Addr           json.RawMessage `json:"addr"`
		CookieDomain   string          `json:"cookieDomain"`
		AllowedHosts   []string        `json:"allowedHosts"`
		AllowedOrigins []string        `json:"allowedOrigins"`
		LoginPath      string          `json:"loginPath"`
		ReadTimeout    string          `json:"readTimeout"`
		WriteTimeout   string          `json:"writeTimeout"`
	}

	var raw rawServer
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if s.BaseURL, err = ParseConfigValue(raw.BaseURL); err != nil {
		return fmt.Errorf("parsing baseURL: %w", err)
	}
	if s.Addr, err = ParseConfigValue(raw.Addr); err != nil {
		return fmt.Errorf("parsing addr: %w", err)
	}
	if s.ReadTimeout, err = parseDuration("readTimeout", raw.ReadTimeout, 15*time.Second); err != nil {
		return err
	}
	if s.WriteTimeout, err = parseDuration("writeTimeout", raw.WriteTimeout, 60*time.Second); err != nil {
		return err
	}

	s.CookieDomain = raw.CookieDomain
	s.AllowedHosts = raw.AllowedHosts
	s.AllowedOrigins = raw.AllowedOrigins
	s.LoginPath = raw.LoginPath
	if s.LoginPath == "" {
		s.LoginPath = "/logg-inn"
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for SecurityConfig
func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	type rawSecurity struct {
		SecretKey    json.RawMessage `json:"secretKey"`
		HealthSecret json.RawMessage `json:"healthSecret"`
		SessionTTL   string          `json:"sessionTtl"`
	}

	var raw rawSecurity
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	// Both secrets may be unset in development; ValidateConfig decides
	// whether that is acceptable.
	secretKey, err := parseOptionalEnvValue(raw.SecretKey)
	if err != nil {
		return fmt.Errorf("parsing secretKey: %w", err)
	}
	healthSecret, err := parseOptionalEnvValue(raw.HealthSecret)
	if err != nil {
		return fmt.Errorf("parsing healthSecret: %w", err)
	}
	s.SecretKey = Secret(secretKey)
	s.HealthSecret = Secret(healthSecret)

	if s.SessionTTL, err = parseDuration("sessionTtl", raw.SessionTTL, 24*time.Hour); err != nil {
		return err
	}
	return nil
}

// UnmarshalJSON implements custom unmarshaling for IdentityConfig
func (c *IdentityConfig) UnmarshalJSON(data []byte) error {
	type rawIdentity struct {
		Provider              string          `json:"provider"`
		Environment           string          `json:"environment"`
		DiscoveryURL          string          `json:"discoveryUrl"`
		AuthorizationURL      string          `json:"authorizationUrl"`
		TokenURL              string          `json:"tokenUrl"`
		UserInfoURL           string          `json:"userInfoUrl"`
		ClientID              json.RawMessage `json:"clientId"`
		ClientSecret          json.RawMessage `json:"clientSecret"`
		Scopes                []string        `json:"scopes"`
		TrustIdentityVerified bool            `json:"trustIdentityVerified"`
	}

	var raw rawIdentity
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Provider = raw.Provider
	c.Environment = raw.Environment
	c.DiscoveryURL = raw.DiscoveryURL
	c.AuthorizationURL = raw.AuthorizationURL
	c.TokenURL = raw.TokenURL
	c.UserInfoURL = raw.UserInfoURL
	c.Scopes = raw.Scopes
	c.TrustIdentityVerified = raw.TrustIdentityVerified

	// Missing credentials disable login rather than failing startup, so a
	// development instance can run without provider access.
	clientID, err := parseOptionalEnvValue(raw.ClientID)
	if err != nil {
		return fmt.Errorf("parsing clientId: %w", err)
	}
	clientSecret, err := parseOptionalEnvValue(raw.ClientSecret)
	if err != nil {
		return fmt.Errorf("parsing clientSecret: %w", err)
	}
	c.ClientID = clientID
	c.ClientSecret = Secret(clientSecret)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for KVConfig
func (c *KVConfig) UnmarshalJSON(data []byte) error {
	type rawKV struct {
		Type      string          `json:"type"`
		URL       json.RawMessage `json:"url"`
		KeyPrefix string          `json:"keyPrefix"`
	}

	var raw rawKV
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	url, err := ParseConfigValue(raw.URL)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	c.Type = raw.Type
	c.URL = Secret(url)
	c.KeyPrefix = raw.KeyPrefix
	return nil
}

// UnmarshalJSON implements custom unmarshaling for StorageConfig
func (c *StorageConfig) UnmarshalJSON(data []byte) error {
	type rawStorage struct {
		Type              string          `json:"type"`
		DSN               json.RawMessage `json:"dsn"`
		GCPProject        json.RawMessage `json:"gcpProject"`
		FirestoreDatabase string          `json:"firestoreDatabase"`
		CollectionPrefix  string          `json:"collectionPrefix"`
	}

	var raw rawStorage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	dsn, err := ParseConfigValue(raw.DSN)
	if err != nil {
		return fmt.Errorf("parsing dsn: %w", err)
	}
	if c.GCPProject, err = ParseConfigValue(raw.GCPProject); err != nil {
		return fmt.Errorf("parsing gcpProject: %w", err)
	}
	c.Type = raw.Type
	c.DSN = Secret(dsn)
	c.FirestoreDatabase = raw.FirestoreDatabase
	c.CollectionPrefix = raw.CollectionPrefix
	return nil
}

// UnmarshalJSON implements custom unmarshaling for EmailConfig
func (c *EmailConfig) UnmarshalJSON(data []byte) error {
	type rawEmail struct {
		Type     string          `json:"type"`
		Endpoint string          `json:"endpoint"`
		APIKey   json.RawMessage `json:"apiKey"`
		From     string          `json:"from"`
		NotifyTo []string        `json:"notifyTo"`
		Timeout  string          `json:"timeout"`
	}

	var raw rawEmail
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	apiKey, err := ParseConfigValue(raw.APIKey)
	if err != nil {
		return fmt.Errorf("parsing apiKey: %w", err)
	}
	if c.Timeout, err = parseDuration("timeout", raw.Timeout, 10*time.Second); err != nil {
		return err
	}
	c.Type = raw.Type
	c.Endpoint = raw.Endpoint
	c.APIKey = Secret(apiKey)
	c.From = raw.From
	c.NotifyTo = raw.NotifyTo
	return nil
}

// UnmarshalJSON implements custom unmarshaling for RateLimitConfig
func (c *RateLimitConfig) UnmarshalJSON(data []byte) error {
	type rawRateLimit struct {
		Limit  int64  `json:"limit"`
		Window string `json:"window"`
		Policy string `json:"policy"`
	}

	var raw rawRateLimit
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	window, err := parseDuration("window", raw.Window, 0)
	if err != nil {
		return err
	}
	if window == 0 {
		return fmt.Errorf("window is required")
	}
	c.Limit = raw.Limit
	c.Window = window
	c.Policy = raw.Policy
	return nil
}
