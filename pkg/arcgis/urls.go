package arcgis

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// servicesPathPattern locates the start of the REST services path. Everything
// before it is the server root.
var servicesPathPattern = regexp.MustCompile(`/rest(/admin)?/services(?:[/#?]|$)`)

// CleanURL trims whitespace and trailing slashes.
func CleanURL(rawURL string) string {
	return strings.TrimRight(strings.TrimSpace(rawURL), "/")
}

// stripScheme removes a leading http:// or https:// (case-insensitive).
func stripScheme(rawURL string) string {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.HasPrefix(lower, "https://"):
		return rawURL[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		return rawURL[len("http://"):]
	}
	return rawURL
}

// ServerRoot identifies the server a request URL belongs to.
type ServerRoot struct {
	// URL is the scheme, the lowercased host and the path up to (not
	// including) /rest/services or /rest/admin/services.
	URL string

	// Admin is set when the request URL targets /rest/admin/services.
	Admin bool
}

// ParseServerRoot derives the server root of a request URL. Host casing is
// normalized, path casing is preserved:
//
//	https://PNP00035.esri.com/server/rest/services/Hosted/x/FeatureServer
//	  -> https://pnp00035.esri.com/server
//	https://pnp00035.esri.com/tiles/LkFyxb9zDq7vAOAm/arcgis/rest/services/x
//	  -> https://pnp00035.esri.com/tiles/LkFyxb9zDq7vAOAm/arcgis
func ParseServerRoot(rawURL string) (ServerRoot, error) {
	cleaned := CleanURL(rawURL)

	root := cleaned
	admin := false
	if loc := servicesPathPattern.FindStringSubmatchIndex(cleaned); loc != nil {
		root = cleaned[:loc[0]]
		admin = loc[2] >= 0
	}

	u, err := url.Parse(root)
	if err != nil {
		return ServerRoot{}, fmt.Errorf("invalid server url %q: %w", rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ServerRoot{}, fmt.Errorf("invalid server url %q: absolute http(s) url required", rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	rest := root[len(u.Scheme)+len("://"):]
	host, path, _ := strings.Cut(rest, "/")

	normalized := scheme + "://" + strings.ToLower(host)
	if path != "" {
		normalized += "/" + path
	}
	return ServerRoot{URL: normalized, Admin: admin}, nil
}

// ServerRootURL is ParseServerRoot without the admin marker. Unparseable
// input is returned cleaned but otherwise unchanged.
func ServerRootURL(rawURL string) string {
	root, err := ParseServerRoot(rawURL)
	if err != nil {
		return CleanURL(rawURL)
	}
	return root.URL
}

// InfoURL is the rest/info endpoint used to classify the server. Admin and
// non-admin URLs share it.
func (r ServerRoot) InfoURL() string {
	return r.URL + "/rest/info"
}

// CacheKey keys server tokens. Admin URLs keep their marker so admin and
// non-admin tokens for the same server are cached independently.
func (r ServerRoot) CacheKey() string {
	if r.Admin {
		return r.URL + "/rest/admin"
	}
	return r.URL
}

// Origin returns scheme://host[:port] of a URL with scheme and host
// lowercased. The default port of the scheme is dropped.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q has no origin", rawURL)
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme + "://" + hostWithoutDefaultPort(scheme, strings.ToLower(u.Host)), nil
}

func hostWithoutDefaultPort(scheme, host string) string {
	switch {
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	}
	return host
}

// IsPortalURL reports whether requestURL addresses the portal itself: same
// host (ignoring case and default ports), the portal path as a path prefix,
// and no scheme downgrade. An https request to an http portal matches. A
// federated server on the portal's host but a different path does not.
func IsPortalURL(portal, requestURL string) bool {
	if portal == "" {
		return false
	}
	p, err := url.Parse(CleanURL(portal))
	if err != nil || p.Host == "" {
		return false
	}
	r, err := url.Parse(strings.TrimSpace(requestURL))
	if err != nil || r.Host == "" {
		return false
	}

	pScheme, rScheme := strings.ToLower(p.Scheme), strings.ToLower(r.Scheme)
	if rScheme != pScheme && (pScheme != "http" || rScheme != "https") {
		return false
	}
	if hostWithoutDefaultPort(pScheme, strings.ToLower(p.Host)) != hostWithoutDefaultPort(rScheme, strings.ToLower(r.Host)) {
		return false
	}

	prefix := strings.ToLower(strings.TrimSuffix(p.Path, "/"))
	path := strings.ToLower(r.Path)
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
