// Package redact strips credentials from values before they reach logs or errors.
package redact

import "net/url"

// URL removes userinfo from raw. Unparseable input is returned unchanged.
func URL(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
