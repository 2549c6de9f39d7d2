package auth

import (
	"net/url"
	"strings"
)

// SafeRedirect returns next if it is a path on this site, or "/" otherwise.
// Absolute URLs, scheme-relative URLs ("//evil.example") and backslash
// tricks are all rejected.
func SafeRedirect(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") {
		return "/"
	}
	if strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return "/"
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return next
}
