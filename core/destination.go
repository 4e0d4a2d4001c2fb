package core

import (
	"net/url"
	"strings"
)

// DefaultOverrideHeader is the record header that carries a per record destination URL
const DefaultOverrideHeader = "custom_http_url"

// ResolveDestination returns the URL a record must be delivered to. The last header named
// header wins. An override that is not an absolute http(s) URL is ignored, never fatal.
func ResolveDestination(rec Record, defaultURL *url.URL, header string) *url.URL {
	if header == "" {
		header = DefaultOverrideHeader
	}
	h, ok := rec.Headers.LastWithName(header)
	if !ok {
		return defaultURL
	}
	if u, ok := parseDestination(string(h.Value)); ok {
		return u
	}
	return defaultURL
}

func parseDestination(raw string) (*url.URL, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	if u.Host == "" {
		return nil, false
	}
	return u, true
}

// ParseDestination parses a configured destination URL with the same rules as overrides
func ParseDestination(raw string) (*url.URL, bool) {
	return parseDestination(raw)
}
