package httpserver

import (
	"net/url"
	"path"
	"strings"
)

const defaultRedirectTarget = "/"

// resolveRedirectTarget turns the configured post-login destination into a local path. Absolute
// URLs, protocol-relative or backslash tricks, and targets that would loop back to the login
// screen all collapse to "/".
func resolveRedirectTarget(raw, loginPath string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") {
		return defaultRedirectTarget
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || u.User != nil {
		return defaultRedirectTarget
	}

	// Decode before checking so %2F and %5C cannot smuggle a second slash or a backslash.
	decoded, err := url.PathUnescape(u.EscapedPath())
	if err != nil || strings.ContainsRune(decoded, '\\') {
		return defaultRedirectTarget
	}
	clean := path.Clean("/" + strings.TrimLeft(decoded, "/"))
	if strings.HasPrefix(decoded, "//") || clean == trimTrailingSlash(loginPath) {
		return defaultRedirectTarget
	}

	target := (&url.URL{Path: clean, RawQuery: u.RawQuery, Fragment: u.Fragment}).String()
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return defaultRedirectTarget
	}
	return target
}

func trimTrailingSlash(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}
