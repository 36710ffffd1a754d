package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var knownSections = []string{
	"version", "environment", "server", "logging", "security", "identity",
	"kv", "storage", "uploads", "email", "indexNow", "rateLimits", "campaigns",
}

var bashStyleRef = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// ValidateFile checks a config file's structure without requiring the
// referenced environment variables to be set. Unset references are
// reported as warnings.
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes is ValidateFile on file contents.
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", Version)
	} else if version != Version {
		result.addError("version", "unsupported version '%s' - use '%s'", version, Version)
	}

	for key := range rawConfig {
		if !slices.Contains(knownSections, key) {
			result.addWarning(key, "unknown top-level field")
		}
	}

	if env, ok := rawConfig["environment"].(string); ok && env != string(EnvDevelopment) && env != string(EnvProduction) {
		result.addError("environment", "must be %q or %q", EnvDevelopment, EnvProduction)
	}

	if server, ok := rawConfig["server"].(map[string]any); !ok {
		result.addError("server", "server field is required and must be an object")
	} else {
		for _, field := range []string{"baseURL", "addr"} {
			if _, exists := server[field]; !exists {
				result.addError("server."+field, "%s is required", field)
			}
		}
	}

	if err := validateRawConfig(rawConfig); err != nil {
		result.addError("", "%s", err.Error())
	}

	checkBashStyleSyntax(rawConfig, "", result)
	checkEnvReferences(rawConfig, "", result)

	return result
}

// checkBashStyleSyntax flags "$VAR" strings, which are never expanded.
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		if bashStyleRef.MatchString(v) {
			result.addError(path, "found bash-style variable %q. Hint: use {\"$env\": \"VAR_NAME\"}", v)
		}
	case map[string]any:
		if _, isRef := v["$env"]; isRef {
			return
		}
		for k, child := range v {
			checkBashStyleSyntax(child, joinPath(path, k), result)
		}
	case []any:
		for i, child := range v {
			checkBashStyleSyntax(child, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}

func checkEnvReferences(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case map[string]any:
		if name, isRef := v["$env"].(string); isRef {
			if strings.TrimSpace(name) == "" {
				result.addError(path, "$env reference has an empty variable name")
			} else if os.Getenv(name) == "" {
				result.addWarning(path, "environment variable %s is not set", name)
			}
			return
		}
		for k, child := range v {
			checkEnvReferences(child, joinPath(path, k), result)
		}
	case []any:
		for i, child := range v {
			checkEnvReferences(child, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
