package tenable

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"auditpoller/pkg/auth"
	errs "auditpoller/pkg/errors"
	"auditpoller/pkg/logger"
	"auditpoller/pkg/ratelimit"
	"auditpoller/pkg/retry"

	"github.com/goccy/go-json"
)

const (
	defaultTimeout = 60 * time.Second
	userAgent      = "auditpoller"
	// maxBodyPreview bounds how much of an error body ends up in logs and errors
	maxBodyPreview = 512
)

// Options tunes the client. Zero values mean defaults.
type Options struct {
	Timeout time.Duration
	// MaxAttempts above 1 enables retries of transient failures within one call
	MaxAttempts int
	// BaseURL overrides https://{domain}, mostly for tests
	BaseURL string
	// Backoff overrides the retry delay strategy
	Backoff retry.BackoffStrategy
	// Limiter, when set, is waited on before every request
	Limiter ratelimit.Limiter
}

// Client talks to the audit-log API of one Tenable domain
type Client struct {
	httpClient  *http.Client
	headers     map[string]string
	baseURL     string
	domain      string
	maxAttempts int
	backoff     retry.BackoffStrategy
	limiter     ratelimit.Limiter
	logger      logger.Logger
}

// NewClient creates a client for domain authenticated with creds
func NewClient(domain string, creds *auth.Credentials, opts Options, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if creds == nil || creds.AccessKey == "" || creds.SecretKey == "" {
		return nil, errs.New(errs.ErrorTypeConfig, "API keys are required for domain %q", domain)
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		if !IsValidDomain(domain) {
			return nil, errs.New(errs.ErrorTypeConfig, "invalid domain %q", domain)
		}
		baseURL = BaseURL(domain)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := opts.Backoff
	if backoff == nil {
		backoff = retry.DefaultExponentialBackoff()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
			"User-Agent":   userAgent,
			"X-ApiKeys":    APIKeysHeader(creds.AccessKey, creds.SecretKey),
		},
		baseURL:     baseURL,
		domain:      domain,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		limiter:     opts.Limiter,
		logger:      log.WithField("domain", domain),
	}, nil
}

// Domain returns the domain the client was created for
func (c *Client) Domain() string {
	return c.domain
}

// FetchEvents requests one page of events received after the calendar date since
func (c *Client) FetchEvents(ctx context.Context, since string, limit int) (*EventsPage, error) {
	url := EventsURL(c.baseURL, since, limit)

	c.logger.DebugWithFields("fetching audit events", map[string]interface{}{
		"since": since,
		"limit": limit,
	})

	var page EventsPage
	err := retry.Do(ctx, func() error {
		return c.getJSON(ctx, url, &page)
	}, &retry.Config{
		MaxAttempts: c.maxAttempts,
		Backoff:     c.backoff,
		Logger:      c.logger,
	})
	if err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("fetched audit events", map[string]interface{}{
		"returned": len(page.Events),
		"total":    page.Pagination.Total,
		"limit":    page.Pagination.Limit,
		"offset":   page.Pagination.Offset,
	})

	return &page, nil
}

// doRequest performs an HTTP request with the configured headers
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"path":     req.URL.Path,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "request failed")
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"path":     req.URL.Path,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	return resp, nil
}

// getJSON performs a GET request and decodes the JSON response into target
func (c *Client) getJSON(ctx context.Context, url string, target interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errs.Wrap(errs.ErrorTypeRateLimit, err, "waiting for request slot")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, err, "failed to create request")
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: "failed to read response body",
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	if err := c.checkResponseStatus(resp.StatusCode, body); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(target); err != nil {
		c.logger.DebugWithFields("failed to parse JSON response", map[string]interface{}{
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": bodyPreview(body),
		})
		return &errs.Error{
			Type:    errs.ErrorTypeParsing,
			Message: "failed to parse JSON",
			Code:    resp.StatusCode,
			Err:     err,
		}
	}

	return nil
}

// checkResponseStatus maps a non-2xx status to a typed error carrying the body
func (c *Client) checkResponseStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	preview := bodyPreview(body)
	c.logger.DebugWithFields("audit-log API returned an error", map[string]interface{}{
		"status": status,
		"body":   preview,
	})

	return &errs.Error{
		Type:    errs.TypeForStatus(status),
		Message: preview,
		Code:    status,
	}
}

func bodyPreview(body []byte) string {
	preview := string(bytes.TrimSpace(body))
	if len(preview) > maxBodyPreview {
		preview = preview[:maxBodyPreview] + "..."
	}
	return preview
}
