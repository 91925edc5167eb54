// Package fetch loads upstream JSON APIs and scraped HTML pages.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultUserAgent identifies civicmap to upstream services.
	DefaultUserAgent = "Mozilla/5.0 (compatible; civicmap/1.0; research scraper)"

	// DefaultPageTimeout bounds a single page load.
	DefaultPageTimeout = 30 * time.Second

	// MaxPageBytes caps how much of a page body is read.
	MaxPageBytes = 8 << 20
)

// Renderer loads a page and returns its HTML.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// PageError reports a page that could not be loaded. Status is zero when the
// request never got a response.
type PageError struct {
	URL    string
	Status int
	Err    error
}

func (e *PageError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("page %s: HTTP status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("page %s: %v", e.URL, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// HTTPRenderer loads pages with a plain GET and does not run scripts.
type HTTPRenderer struct {
	Client    *http.Client
	UserAgent string
	Headers   map[string]string
}

// NewHTTPRenderer returns a renderer with the default timeout and user agent.
func NewHTTPRenderer() *HTTPRenderer {
	return &HTTPRenderer{
		Client:    &http.Client{Timeout: DefaultPageTimeout},
		UserAgent: DefaultUserAgent,
	}
}

// Render fetches pageURL. Any status other than 200 is a *PageError.
func (h *HTTPRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &PageError{URL: pageURL, Err: errors.New("invalid URL")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", &PageError{URL: pageURL, Err: err}
	}
	ua := h.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultPageTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &PageError{URL: RedactURL(pageURL), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxPageBytes))
		return "", &PageError{URL: RedactURL(pageURL), Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPageBytes))
	if err != nil {
		return "", &PageError{URL: RedactURL(pageURL), Err: err}
	}
	return string(body), nil
}

// Document renders pageURL with r and parses the result.
func Document(ctx context.Context, r Renderer, pageURL string) (*goquery.Document, error) {
	html, err := r.Render(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return ParseHTML(html)
}

// ParseHTML parses an HTML string into a goquery document.
func ParseHTML(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// RedactURL masks credential query parameters so URLs are safe to log.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	redacted := false
	for _, key := range []string{"api_key", "key"} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
			redacted = true
		}
	}
	if !redacted {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}
