package tenable

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"auditpoller/pkg/auth"
	errs "auditpoller/pkg/errors"
	"auditpoller/pkg/logger"
	"auditpoller/pkg/ratelimit"
	"auditpoller/pkg/retry"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = &auth.Credentials{AccessKey: "ak", SecretKey: "sk"}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts Options) (*Client, *logger.TestLogger) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	log := logger.NewTestLogger()
	opts.BaseURL = server.URL
	client, err := NewClient("cloud.tenable.com", testCreds, opts, log)
	require.NoError(t, err)
	return client, log
}

func TestNewClient(t *testing.T) {
	client, err := NewClient("cloud.tenable.com", testCreds, Options{}, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "https://cloud.tenable.com", client.baseURL)
	assert.Equal(t, 60*time.Second, client.httpClient.Timeout)
	assert.Equal(t, 1, client.maxAttempts)
	assert.Equal(t, "cloud.tenable.com", client.Domain())
}

func TestNewClientRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		domain string
		creds  *auth.Credentials
	}{
		{"nil credentials", "cloud.tenable.com", nil},
		{"empty secret", "cloud.tenable.com", &auth.Credentials{AccessKey: "ak"}},
		{"domain with path", "cloud.tenable.com/x", testCreds},
		{"empty domain", "", testCreds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.domain, tt.creds, Options{}, logger.NewTestLogger())
			require.Error(t, err)
			assert.Equal(t, errs.ErrorTypeConfig, errs.TypeOf(err))
		})
	}
}

func TestFetchEventsRequest(t *testing.T) {
	var got *http.Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events":[],"pagination":{"total":0,"limit":5000,"offset":0}}`))
	}, Options{})

	_, err := client.FetchEvents(context.Background(), "2023-11-14", 5000)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, EventsPath, got.URL.Path)
	assert.Equal(t, "date.gt:2023-11-14", got.URL.Query().Get("f"))
	assert.Equal(t, "5000", got.URL.Query().Get("limit"))
	assert.Equal(t, "accessKey=ak;secretKey=sk", got.Header.Get("x-apikeys"))
	assert.Equal(t, "application/json", got.Header.Get("accept"))
	assert.Equal(t, "application/json", got.Header.Get("content-type"))
}

func TestFetchEventsDecodesPage(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"events": [
				{"id": "e1", "received": "2023-11-14T22:15:00Z", "actor": {"id": 12345678901234567890},
				 "fields": [{"key": "a", "value": "1"}]}
			],
			"pagination": {"total": 3, "limit": 1, "offset": 0}
		}`))
	}, Options{})

	page, err := client.FetchEvents(context.Background(), "2023-11-14", 1)
	require.NoError(t, err)

	require.Len(t, page.Events, 1)
	assert.Equal(t, Pagination{Total: 3, Limit: 1, Offset: 0}, page.Pagination)
	assert.Equal(t, "2023-11-14T22:15:00Z", page.Events[0]["received"])

	actor, ok := page.Events[0]["actor"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("12345678901234567890"), actor["id"], "large numbers keep their digits")
}

func TestFetchEventsStatusErrors(t *testing.T) {
	tests := []struct {
		status   int
		wantType errs.ErrorType
	}{
		{http.StatusUnauthorized, errs.ErrorTypeAuth},
		{http.StatusForbidden, errs.ErrorTypeAuth},
		{http.StatusNotFound, errs.ErrorTypeNotFound},
		{http.StatusTooManyRequests, errs.ErrorTypeRateLimit},
		{http.StatusInternalServerError, errs.ErrorTypeServerError},
		{http.StatusBadRequest, errs.ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client, log := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}, Options{})

			page, err := client.FetchEvents(context.Background(), "2023-11-14", 5000)
			assert.Nil(t, page)
			require.Error(t, err)

			var apiErr *errs.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantType, apiErr.Type)
			assert.Equal(t, tt.status, apiErr.Code)
			assert.Contains(t, apiErr.Message, `"error":"nope"`)

			assert.Empty(t, log.GetMessagesByLevel("ERROR"), "callers report failed requests")
			var reported *logger.LogMessage
			for _, msg := range log.GetMessagesByLevel("DEBUG") {
				if msg.Message == "audit-log API returned an error" {
					reported = &msg
				}
			}
			require.NotNil(t, reported)
			assert.Equal(t, tt.status, reported.Fields["status"])
			assert.Equal(t, `{"error":"nope"}`, reported.Fields["body"])
		})
	}
}

func TestFetchEventsNoRetryByDefault(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, Options{})

	_, err := client.FetchEvents(context.Background(), "2023-11-14", 5000)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchEventsRetriesWhenEnabled(t *testing.T) {
	var calls int32
	client, log := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"events":[{"received":"2023-11-14T22:15:00Z"}],"pagination":{"total":1}}`))
	}, Options{MaxAttempts: 3, Backoff: &retry.ExponentialBackoff{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}})

	page, err := client.FetchEvents(context.Background(), "2023-11-14", 5000)
	require.NoError(t, err)
	assert.Len(t, page.Events, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.True(t, log.HasMessage("WARN", "retrying"))
}

func TestFetchEventsMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}, Options{})

	_, err := client.FetchEvents(context.Background(), "2023-11-14", 5000)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeParsing, errs.TypeOf(err))
}

func TestFetchEventsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient("cloud.tenable.com", testCreds, Options{BaseURL: url}, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = client.FetchEvents(context.Background(), "2023-11-14", 5000)
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeNetwork, errs.TypeOf(err))
}

func TestFetchEventsHonoursContext(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.FetchEvents(ctx, "2023-11-14", 5000)
	assert.Error(t, err)
}

func TestFetchEventsWaitsOnLimiter(t *testing.T) {
	limiter := ratelimit.NewSlidingWindow(1, time.Hour)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events":[]}`))
	}, Options{Limiter: limiter})

	_, err := client.FetchEvents(context.Background(), "2023-11-14", 5000)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.FetchEvents(ctx, "2023-11-14", 5000)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
