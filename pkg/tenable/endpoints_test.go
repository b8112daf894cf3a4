package tenable

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://cloud.tenable.com", BaseURL("cloud.tenable.com"))
	assert.Equal(t, "https://cloud.tenable.com", BaseURL(" cloud.tenable.com/ "))
}

func TestEventsURL(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		wantLimit string
	}{
		{"explicit limit", 100, "100"},
		{"zero uses default", 0, "5000"},
		{"above max uses default", 9000, "5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := EventsURL("https://cloud.tenable.com/", "2023-11-14", tt.limit)
			u, err := url.Parse(raw)
			require.NoError(t, err)

			assert.Equal(t, "cloud.tenable.com", u.Host)
			assert.Equal(t, "/audit-log/v1/events", u.Path)
			assert.Equal(t, "date.gt:2023-11-14", u.Query().Get("f"))
			assert.Equal(t, tt.wantLimit, u.Query().Get("limit"))
		})
	}
}

func TestAPIKeysHeader(t *testing.T) {
	assert.Equal(t, "accessKey=abc;secretKey=def", APIKeysHeader("abc", "def"))
}

func TestIsValidDomain(t *testing.T) {
	tests := []struct {
		domain string
		valid  bool
	}{
		{"cloud.tenable.com", true},
		{"fedcloud.tenable.com", true},
		{"localhost:8443", true},
		{"", false},
		{"cloud.tenable.com/path", false},
		{"https://cloud.tenable.com", false},
		{"bad domain", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, IsValidDomain(tt.domain), tt.domain)
	}
}
