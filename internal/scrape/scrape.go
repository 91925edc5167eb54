// Package scrape collects Democratic campaign websites from politics1.com
// state pages.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jonathan/civicmap/internal/fetch"
	"github.com/jonathan/civicmap/internal/jsonfile"
)

const (
	DefaultBaseURL   = "https://politics1.com/"
	DefaultUserAgent = "Mozilla/5.0 (research scraper; contact: civicmap@example.com)"
	DefaultInterval  = 2 * time.Second

	HouseIndex  = "congress.htm"
	SenateIndex = "senate.htm"
)

var (
	stateLinkPattern = regexp.MustCompile(`(?i)^[a-z]{2}\.htm$`)
	democratPattern  = regexp.MustCompile(`(?i)\(D\)`)
)

// Site is one candidate website found on a state page.
type Site struct {
	StatePage string `json:"state_page"`
	Candidate string `json:"candidate"`
	Website   string `json:"website"`
	State     string `json:"state"`
}

// Result groups sites by chamber.
type Result struct {
	House  []Site `json:"house"`
	Senate []Site `json:"senate"`
}

// Scraper walks the index pages and every linked state page.
type Scraper struct {
	base     *url.URL
	pages    *fetch.HTTPRenderer
	renderer fetch.Renderer
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// Option configures a Scraper.
type Option func(*Scraper)

// WithHTTPClient sets the client used for page fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Scraper) { s.pages.Client = c }
}

// WithInterval sets the minimum spacing between state page fetches.
func WithInterval(d time.Duration) Option {
	return func(s *Scraper) { s.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

// WithRenderer replaces plain HTTP page loads with r.
func WithRenderer(r fetch.Renderer) Option {
	return func(s *Scraper) { s.renderer = r }
}

// WithLogger sets the scraper logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scraper) { s.logger = l }
}

// New creates a scraper rooted at baseURL.
func New(baseURL string, opts ...Option) (*Scraper, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	pages := fetch.NewHTTPRenderer()
	pages.UserAgent = DefaultUserAgent
	s := &Scraper{
		base:     base,
		pages:    pages,
		renderer: pages,
		limiter:  rate.NewLimiter(rate.Every(DefaultInterval), 1),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the renderer if it holds resources, such as a browser.
func (s *Scraper) Close() error {
	if c, ok := s.renderer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Scraper) document(ctx context.Context, u string) (*goquery.Document, error) {
	return fetch.Document(ctx, s.renderer, u)
}

// StateLinks returns the sorted, de-duplicated state page URLs linked from
// an index page.
func (s *Scraper) StateLinks(ctx context.Context, indexPage string) ([]string, error) {
	indexURL := s.resolve(indexPage)
	doc, err := s.document(ctx, indexURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", indexURL, err)
	}

	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if stateLinkPattern.MatchString(href) {
			seen[s.resolve(href)] = struct{}{}
		}
	})

	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Strings(links)
	return links, nil
}

// StatePage extracts every list item marked (D) that carries a link.
func (s *Scraper) StatePage(ctx context.Context, stateURL string) ([]Site, error) {
	doc, err := s.document(ctx, stateURL)
	if err != nil {
		return nil, err
	}
	state := stateFromURL(stateURL)

	var sites []Site
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		text := nodeText(li)
		if !democratPattern.MatchString(text) {
			return
		}
		link := li.Find("a[href]").First()
		if link.Length() == 0 {
			return
		}
		candidate, _, _ := strings.Cut(text, "(")
		sites = append(sites, Site{
			StatePage: stateURL,
			Candidate: strings.TrimSpace(candidate),
			Website:   strings.TrimSpace(link.AttrOr("href", "")),
			State:     state,
		})
	})
	return sites, nil
}

// Run scrapes the House and Senate indexes. A failing state page is logged
// and skipped; a failing index page fails the run.
func (s *Scraper) Run(ctx context.Context) (Result, error) {
	house, err := s.StateLinks(ctx, HouseIndex)
	if err != nil {
		return Result{}, err
	}
	senate, err := s.StateLinks(ctx, SenateIndex)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("found state pages", zap.Int("house", len(house)), zap.Int("senate", len(senate)))

	res := Result{House: []Site{}, Senate: []Site{}}
	if res.House, err = s.scrapeAll(ctx, "house", house, res.House); err != nil {
		return res, err
	}
	if res.Senate, err = s.scrapeAll(ctx, "senate", senate, res.Senate); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Scraper) scrapeAll(ctx context.Context, chamber string, pages []string, into []Site) ([]Site, error) {
	for _, page := range pages {
		if err := s.limiter.Wait(ctx); err != nil {
			return into, err
		}
		sites, err := s.StatePage(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return into, ctx.Err()
			}
			s.logger.Warn("failed to scrape state page",
				zap.String("chamber", chamber),
				zap.String("url", page),
				zap.Error(err))
			continue
		}
		s.logger.Info("scraped state page",
			zap.String("chamber", chamber),
			zap.String("url", page),
			zap.Int("sites", len(sites)))
		into = append(into, sites...)
	}
	return into, nil
}

// WriteResult saves res as indented JSON.
func WriteResult(path string, res Result) error {
	return jsonfile.Save(path, res)
}

func (s *Scraper) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return s.base.ResolveReference(u).String()
}

func stateFromURL(u string) string {
	name := path.Base(u)
	if parsed, err := url.Parse(u); err == nil {
		name = path.Base(parsed.Path)
	}
	return strings.ToUpper(strings.TrimSuffix(name, ".htm"))
}

// nodeText joins the trimmed text nodes under sel with single spaces.
func nodeText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := strings.TrimSpace(c.Text()); t != "" {
					parts = append(parts, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(sel)
	return strings.Join(parts, " ")
}
