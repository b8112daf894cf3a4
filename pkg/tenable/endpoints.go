package tenable

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// EventsPath is the audit-log endpoint path. It doubles as the source
	// attribute of emitted events.
	EventsPath = "/audit-log/v1/events"

	// DefaultPageLimit is the number of events requested per call
	DefaultPageLimit = 5000

	// MaxPageLimit is the largest page the API serves
	MaxPageLimit = 5000
)

// BaseURL returns the https base URL for a Tenable domain
func BaseURL(domain string) string {
	return "https://" + strings.TrimSuffix(strings.TrimSpace(domain), "/")
}

// EventsURL builds the events query for events received after the given
// calendar date (YYYY-MM-DD).
func EventsURL(baseURL, since string, limit int) string {
	if limit <= 0 || limit > MaxPageLimit {
		limit = DefaultPageLimit
	}

	params := url.Values{}
	params.Set("f", "date.gt:"+since)
	params.Set("limit", fmt.Sprintf("%d", limit))

	return fmt.Sprintf("%s%s?%s", strings.TrimSuffix(baseURL, "/"), EventsPath, params.Encode())
}

// APIKeysHeader formats the x-apikeys header value
func APIKeysHeader(accessKey, secretKey string) string {
	return fmt.Sprintf("accessKey=%s;secretKey=%s", accessKey, secretKey)
}

// IsValidDomain reports whether domain is a bare host name usable in the base URL
func IsValidDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	for _, char := range domain {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '-' || char == ':') {
			return false
		}
	}
	return true
}
