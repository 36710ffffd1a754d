package server

import (
	"time"

	"github.com/fjordcrew/crewfront/internal/config"
	"github.com/fjordcrew/crewfront/internal/log"
	"github.com/fjordcrew/crewfront/internal/ratelimit"
)

// Rate limit scopes. The names double as keys of the rateLimits config
// section.
const (
	ScopeContact             = "contact"
	ScopeStaffingRequest     = "staffing-request"
	ScopeCampaignApplication = "campaign-application"
	ScopeUpload              = "upload"
	ScopeGDPRExport          = "gdpr-export"
	ScopeLogin               = "login"
	ScopeCSRFToken           = "csrf-token"
)

// DefaultRateRules are the limits used when the config has no override.
// Public forms fail open; authenticated endpoints fail closed.
func DefaultRateRules() map[string]ratelimit.Rule {
	return map[string]ratelimit.Rule{
		ScopeContact:             {Scope: ScopeContact, Limit: 5, Window: time.Hour, Policy: ratelimit.FailOpen},
		ScopeStaffingRequest:     {Scope: ScopeStaffingRequest, Limit: 10, Window: time.Hour, Policy: ratelimit.FailOpen},
		ScopeCampaignApplication: {Scope: ScopeCampaignApplication, Limit: 10, Window: time.Hour, Policy: ratelimit.FailOpen},
		ScopeUpload:              {Scope: ScopeUpload, Limit: 20, Window: time.Hour, Policy: ratelimit.FailClosed},
		ScopeGDPRExport:          {Scope: ScopeGDPRExport, Limit: 10, Window: time.Hour, Policy: ratelimit.FailClosed},
		ScopeLogin:               {Scope: ScopeLogin, Limit: 30, Window: 15 * time.Minute, Policy: ratelimit.FailOpen},
		ScopeCSRFToken:           {Scope: ScopeCSRFToken, Limit: 120, Window: 15 * time.Minute, Policy: ratelimit.FailOpen},
	}
}

// RateRules merges config overrides into the defaults. Overrides for
// unknown scopes are logged and ignored; a missing policy keeps the default one.
func RateRules(overrides map[string]config.RateLimitConfig) map[string]ratelimit.Rule {
	rules := DefaultRateRules()
	for scope, o := range overrides {
		rule, ok := rules[scope]
		if !ok {
			log.LogWarnWithFields("server", "Ignoring rate limit override for unknown scope", map[string]any{
				"scope": scope,
			})
			continue
		}
		rule.Limit = o.Limit
		rule.Window = o.Window
		switch o.Policy {
		case "fail-open":
			rule.Policy = ratelimit.FailOpen
		case "fail-closed":
			rule.Policy = ratelimit.FailClosed
		}
		rules[scope] = rule
	}
	return rules
}
