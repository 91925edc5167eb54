// Package fec is a client for the OpenFEC campaign-finance API.
package fec

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/civicmap/internal/fetch"
	"github.com/jonathan/civicmap/internal/retry"
)

const (
	// DefaultBaseURL is the OpenFEC v1 root.
	DefaultBaseURL = "https://api.open.fec.gov/v1"
	// PerPage is the page size used for every list request.
	PerPage = 100
	// DefaultPageDelay throttles schedule A pagination between pages.
	DefaultPageDelay = 100 * time.Millisecond
	// DefaultEnrichConcurrency bounds concurrent totals requests.
	DefaultEnrichConcurrency = 4
)

var (
	// ErrMissingAPIKey is returned when the client has no API key configured.
	ErrMissingAPIKey = errors.New("missing FEC API key")
	// ErrNoData is returned when a request that must produce data did not.
	ErrNoData = errors.New("FEC returned no data")
)

// JSONGetter is the transport the client issues requests through.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, out any) (bool, error)
}

// Client calls the OpenFEC API.
type Client struct {
	apiKey      string
	baseURL     string
	http        JSONGetter
	pageDelay   time.Duration
	sleep       retry.SleepFunc
	concurrency int
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTransport overrides the retrying JSON transport.
func WithTransport(t JSONGetter) Option {
	return func(c *Client) { c.http = t }
}

// WithPageDelay overrides the delay between schedule A pages.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

// WithSleep overrides how page delays are waited out.
func WithSleep(s retry.SleepFunc) Option {
	return func(c *Client) { c.sleep = s }
}

// WithConcurrency sets how many totals requests may run at once.
func WithConcurrency(n int) Option {
	return func(c *Client) { c.concurrency = n }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client using apiKey. The key is not validated here;
// requests fail with ErrMissingAPIKey when it is empty.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		pageDelay:   DefaultPageDelay,
		sleep:       retry.Sleep,
		concurrency: DefaultEnrichConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = fetch.NewClient("fec", fetch.WithLogger(c.logger))
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	return c
}

// HasAPIKey reports whether requests can be made.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

func (c *Client) endpoint(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	return c.baseURL + path + "?" + params.Encode()
}

// ListCandidates returns one page of candidates for party and cycle, keeping
// only House and Senate races.
func (c *Client) ListCandidates(ctx context.Context, party string, cycle int) ([]Candidate, error) {
	if !c.HasAPIKey() {
		return nil, ErrMissingAPIKey
	}

	u := c.endpoint("/candidates/", url.Values{
		"party":    {party},
		"cycle":    {strconv.Itoa(cycle)},
		"per_page": {strconv.Itoa(PerPage)},
	})

	var resp candidatesResponse
	found, err := c.http.GetJSON(ctx, u, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("failed to list candidates: %w", ErrNoData)
	}

	candidates := make([]Candidate, 0, len(resp.Results))
	for _, cand := range resp.Results {
		if cand.IsCongressional() {
			candidates = append(candidates, cand)
		}
	}
	return candidates, nil
}

// Totals returns the fundraising totals for one candidate, or nil when the
// candidate has no totals for the cycle.
func (c *Client) Totals(ctx context.Context, candidateID string, cycle int) (*Fundraising, error) {
	if !c.HasAPIKey() {
		return nil, ErrMissingAPIKey
	}

	u := c.endpoint("/candidate/"+url.PathEscape(candidateID)+"/totals/", url.Values{
		"cycle": {strconv.Itoa(cycle)},
	})

	var resp totalsResponse
	found, err := c.http.GetJSON(ctx, u, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to get totals for %s: %w", candidateID, err)
	}
	if !found {
		return nil, fmt.Errorf("failed to get totals for %s: %w", candidateID, ErrNoData)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return resp.Results[0].Fundraising(), nil
}

// EnrichedCandidates lists candidates and attaches fundraising totals to each.
// Any failure fails the whole call. List order is preserved.
func (c *Client) EnrichedCandidates(ctx context.Context, party string, cycle int) ([]Candidate, error) {
	candidates, err := c.ListCandidates(ctx, party, cycle)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i := range candidates {
		g.Go(func() error {
			totals, err := c.Totals(gctx, candidates[i].CandidateID, cycle)
			if err != nil {
				return err
			}
			candidates[i].Fundraising = totals
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.Info("enriched candidates",
		zap.String("party", party),
		zap.Int("cycle", cycle),
		zap.Int("count", len(candidates)))
	return candidates, nil
}

// PrincipalCommittee returns the id of the candidate's principal committee,
// or "" when none is designated or the lookup yielded nothing.
func (c *Client) PrincipalCommittee(ctx context.Context, candidateID string) (string, error) {
	if !c.HasAPIKey() {
		return "", ErrMissingAPIKey
	}

	u := c.endpoint("/candidate/"+url.PathEscape(candidateID)+"/committees/", nil)

	var resp committeesResponse
	found, err := c.http.GetJSON(ctx, u, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to get committees for %s: %w", candidateID, err)
	}
	if !found {
		return "", nil
	}
	for _, cm := range resp.Results {
		if cm.Designation == DesignationPrincipal {
			return cm.CommitteeID, nil
		}
	}
	return "", nil
}

// ItemizedContributions pages through schedule A receipts for a committee.
// Paging stops on an empty or missing page, or after pagination.pages pages.
func (c *Client) ItemizedContributions(ctx context.Context, committeeID string, cycle int) ([]ScheduleARecord, error) {
	if !c.HasAPIKey() {
		return nil, ErrMissingAPIKey
	}

	var records []ScheduleARecord
	for page := 1; ; page++ {
		u := c.endpoint("/schedules/schedule_a/", url.Values{
			"committee_id":                {committeeID},
			"two_year_transaction_period": {strconv.Itoa(cycle)},
			"per_page":                    {strconv.Itoa(PerPage)},
			"page":                        {strconv.Itoa(page)},
		})

		c.logger.Debug("fetching schedule A page",
			zap.String("committee_id", committeeID),
			zap.Int("page", page))

		var resp scheduleAResponse
		found, err := c.http.GetJSON(ctx, u, &resp)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch schedule A page %d for %s: %w", page, committeeID, err)
		}
		if !found || len(resp.Results) == 0 {
			break
		}

		records = append(records, resp.Results...)

		if page >= resp.Pagination.Pages {
			break
		}
		if err := c.sleep(ctx, c.pageDelay); err != nil {
			return nil, err
		}
	}

	return records, nil
}
