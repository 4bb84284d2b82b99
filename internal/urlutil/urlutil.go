// Package urlutil provides URL helpers and the allow-list policy applied to
// stream targets before every load attempt.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

// Policy rejections.
var (
	ErrInvalidURL        = errors.New("invalid URL")
	ErrSchemeNotAllowed  = errors.New("scheme not allowed")
	ErrHostNotAllowed    = errors.New("host not allowed")
	ErrMissingHost       = errors.New("URL has no host")
	errEmptyURL          = fmt.Errorf("%w: URL is required", ErrInvalidURL)
	defaultAllowedScheme = []string{SchemeHTTP, SchemeHTTPS}
)

// IsRemoteURL checks if a URL is a remote URL that can be fetched.
// This includes:
//   - URLs with http:// or https:// scheme
//   - Protocol-relative URLs (//example.com/...)
//
// Returns false for relative paths, empty strings, or local paths.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}

// IsFileURL checks if a URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// GetScheme returns the scheme of a URL (http, https, file) or empty string if unknown.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// FilePathFromURL extracts the file path from a file:// URL.
// For non-file URLs, returns empty string and an error.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}

	return parsed.Path, nil
}

// Redact masks credentials in a URL for logging: userinfo passwords and
// the values of query parameters are replaced. Unparseable input is
// returned as a fixed placeholder.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return "[invalid-url]"
	}
	if parsed.User != nil {
		if _, ok := parsed.User.Password(); ok {
			parsed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
		}
	}
	if parsed.RawQuery != "" {
		q := parsed.Query()
		for key := range q {
			q.Set(key, "xxxxx")
		}
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}

// Policy is a scheme and host allow-list for stream targets.
// The zero value allows http and https to any host.
type Policy struct {
	// AllowedSchemes lists permitted schemes. Empty means http and https.
	AllowedSchemes []string
	// AllowedHosts lists permitted hosts. An entry starting with "." also
	// matches any subdomain. Empty means any host.
	AllowedHosts []string
}

// NewPolicy creates a Policy with normalized (lowercase, trimmed) entries.
func NewPolicy(schemes, hosts []string) *Policy {
	return &Policy{
		AllowedSchemes: normalize(schemes),
		AllowedHosts:   normalize(hosts),
	}
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks rawURL against the policy.
func (p *Policy) Validate(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return errEmptyURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" {
		return fmt.Errorf("%w: URL must include a scheme", ErrInvalidURL)
	}
	if !p.schemeAllowed(scheme) {
		return fmt.Errorf("%w: %s", ErrSchemeNotAllowed, scheme)
	}

	if scheme == SchemeFile {
		return nil
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return ErrMissingHost
	}
	if !p.hostAllowed(host) {
		return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}

	return nil
}

func (p *Policy) schemeAllowed(scheme string) bool {
	allowed := defaultAllowedScheme
	if p != nil && len(p.AllowedSchemes) > 0 {
		allowed = p.AllowedSchemes
	}
	for _, s := range allowed {
		if s == scheme {
			return true
		}
	}
	return false
}

func (p *Policy) hostAllowed(host string) bool {
	if p == nil || len(p.AllowedHosts) == 0 {
		return true
	}
	for _, h := range p.AllowedHosts {
		if strings.HasPrefix(h, ".") {
			if strings.HasSuffix(host, h) || host == h[1:] {
				return true
			}
			continue
		}
		if host == h {
			return true
		}
	}
	return false
}
