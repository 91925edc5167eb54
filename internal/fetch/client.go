package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/metrics"
	"github.com/jonathan/civicmap/internal/retry"
)

// DefaultAttemptTimeout bounds each individual upstream attempt.
const DefaultAttemptTimeout = 15 * time.Second

// UpstreamError describes a failed JSON request.
type UpstreamError struct {
	URL        string
	Message    string
	StatusCode int
	Cause      error
}

func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.URL, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// Client issues JSON GET requests with bounded retry. A 429 or a transport
// failure is retried with exponential backoff; any other non-200 status ends
// the request as not found.
type Client struct {
	service        string
	http           *http.Client
	policy         retry.Policy
	attemptTimeout time.Duration
	userAgent      string
	headers        map[string]string
	logger         *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithPolicy overrides the retry policy.
func WithPolicy(p retry.Policy) ClientOption {
	return func(c *Client) { c.policy = p }
}

// WithAttemptTimeout overrides the per-attempt timeout.
func WithAttemptTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// WithHeader adds a request header sent on every attempt.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers[key] = value }
}

// WithLogger sets the logger used for retry and failure messages.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a JSON client. service labels logs and metrics.
func NewClient(service string, opts ...ClientOption) *Client {
	c := &Client{
		service:        service,
		http:           &http.Client{},
		policy:         retry.DefaultPolicy(),
		attemptTimeout: DefaultAttemptTimeout,
		userAgent:      DefaultUserAgent,
		headers:        map[string]string{},
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON fetches urlStr and decodes a 200 response into out.
//
// found is false with a nil error when upstream answered with a non-retryable
// status or every attempt failed transiently; callers treat that as "no data".
// A non-nil error means the request was cancelled or the 200 body was not
// valid JSON.
func (c *Client) GetJSON(ctx context.Context, urlStr string, out any) (found bool, err error) {
	safeURL := RedactURL(urlStr)
	log := c.logger.With(zap.String("service", c.service), zap.String("url", safeURL))

	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, cause error) {
		metrics.UpstreamRetries.WithLabelValues(c.service).Inc()
		log.Warn("upstream attempt failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(cause))
	}

	err = retry.Do(ctx, policy, func(ctx context.Context, attempt int) (retry.Outcome, error) {
		outcome, err := c.attempt(ctx, urlStr, safeURL, out)
		metrics.UpstreamRequests.WithLabelValues(c.service, outcome.String()).Inc()
		if outcome == retry.Done {
			found = true
		}
		if outcome == retry.Fatal && err == nil {
			log.Info("upstream returned no data", zap.Int("attempt", attempt))
		}
		return outcome, err
	})

	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		log.Warn("upstream retries exhausted", zap.Int("attempts", exhausted.Attempts))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return found, nil
}

func (c *Client) attempt(ctx context.Context, urlStr, safeURL string, out any) (retry.Outcome, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, urlStr, nil)
	if err != nil {
		return retry.Fatal, &UpstreamError{URL: safeURL, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Fatal, ctx.Err()
		}
		return retry.Retryable, &UpstreamError{URL: safeURL, Message: "HTTP request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.Retryable, &UpstreamError{URL: safeURL, Message: "rate limited", StatusCode: resp.StatusCode}
	default:
		return retry.Fatal, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Fatal, ctx.Err()
		}
		return retry.Retryable, &UpstreamError{URL: safeURL, Message: "failed to read response body", Cause: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return retry.Fatal, &UpstreamError{URL: safeURL, Message: "malformed JSON response", StatusCode: resp.StatusCode, Cause: err}
	}
	return retry.Done, nil
}
