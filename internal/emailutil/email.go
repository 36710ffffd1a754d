package emailutil

import "strings"

// Normalize lowercases and trims an email address. Duplicate detection and
// GDPR lookups compare normalized addresses only.
func Normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ExtractDomain returns the part after the @, or "" if malformed.
func ExtractDomain(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return ""
	}
	return domain
}

// Mask hides the local part for logging: "ola.nordmann@x.no" -> "o***@x.no".
func Mask(email string) string {
	email = Normalize(email)
	domain := ExtractDomain(email)
	if domain == "" {
		return "***"
	}
	return email[:1] + "***@" + domain
}
