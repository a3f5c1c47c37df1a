package common

import (
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a profile URL for use as a dedup key.
// Scheme and host are lowercased, the scheme is forced to https, default
// ports, query strings, fragments and trailing slashes are dropped.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	u.Scheme = "https"
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimSuffix(host, ":80")
	u.Host = host

	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String(), nil
}

// ExtractDomain parses the host from a URL, without port
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// IsProfileURL reports whether a URL has the canonical profile shape for the
// target domain: https://<domain><pathPrefix><slug>, with a non-empty slug.
func IsProfileURL(rawURL, profileDomain, pathPrefix string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	if host != strings.ToLower(profileDomain) {
		return false
	}

	path := u.Path
	if !strings.HasPrefix(path, pathPrefix) {
		return false
	}

	slug := strings.Trim(strings.TrimPrefix(path, pathPrefix), "/")
	if slug == "" || strings.Contains(slug, "/") {
		return false
	}
	return true
}
