package urlutil

import (
	"errors"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
)

// ErrUnsafeReturnPath is returned for return targets that could leave the site.
var ErrUnsafeReturnPath = errors.New("return path must be a local path")

const maxReturnPathLen = 2048

// JoinPath joins URL paths, handling trailing and leading slashes correctly
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	// Preserve trailing slash if the last path component had one
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// SafeReturnPath validates a post-login return target. Only same-site
// absolute paths are accepted; "" means "/". Protocol-relative URLs
// ("//host"), backslash tricks ("/\host"), absolute URLs and control
// characters are rejected.
func SafeReturnPath(raw string) (string, error) {
	if raw == "" {
		return "/", nil
	}
	if len(raw) > maxReturnPathLen {
		return "", ErrUnsafeReturnPath
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return "", ErrUnsafeReturnPath
	}
	if strings.ContainsAny(raw, "\\") {
		return "", ErrUnsafeReturnPath
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return "", ErrUnsafeReturnPath
		}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return "", ErrUnsafeReturnPath
	}
	// Browsers treat an encoded slash or backslash after the first one the
	// same way as the literal.
	if unescaped, err := url.PathUnescape(u.EscapedPath()); err != nil ||
		strings.HasPrefix(unescaped, "//") || strings.Contains(unescaped, "\\") {
		return "", ErrUnsafeReturnPath
	}
	return raw, nil
}

// RequestOrigin returns scheme://host as the client saw it, honoring
// X-Forwarded-Proto and X-Forwarded-Host from the fronting proxy. The host
// must be one of allowedHosts (or the host of fallbackBaseURL when the list
// is empty); otherwise the origin of fallbackBaseURL is returned so a forged
// Host header cannot redirect the login callback.
func RequestOrigin(r *http.Request, allowedHosts []string, fallbackBaseURL string) string {
	fallback, err := url.Parse(fallbackBaseURL)
	fallbackOrigin := ""
	if err == nil {
		fallbackOrigin = fallback.Scheme + "://" + fallback.Host
	}

	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	host = strings.ToLower(host)

	allowed := allowedHosts
	if len(allowed) == 0 && fallback != nil {
		allowed = []string{strings.ToLower(fallback.Host)}
	}
	if host == "" || !slices.Contains(allowed, host) {
		return fallbackOrigin
	}

	scheme := strings.ToLower(firstHeaderValue(r.Header.Get("X-Forwarded-Proto")))
	if scheme != "http" && scheme != "https" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	return scheme + "://" + host
}

func firstHeaderValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}
