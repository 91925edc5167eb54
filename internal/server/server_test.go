package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/civicmap/internal/access"
	"github.com/jonathan/civicmap/internal/candidates"
	"github.com/jonathan/civicmap/internal/config"
	"github.com/jonathan/civicmap/internal/contributions"
	"github.com/jonathan/civicmap/internal/fec"
	"github.com/jonathan/civicmap/internal/geocode"
	"github.com/jonathan/civicmap/internal/groupchats"
	"github.com/jonathan/civicmap/internal/markers"
	"github.com/jonathan/civicmap/internal/server/ratelimit"
)

// fakeFEC implements CandidateLister.
type fakeFEC struct {
	key   bool
	list  []fec.Candidate
	err   error
	party string
	cycle int
}

func (f *fakeFEC) HasAPIKey() bool { return f.key }

func (f *fakeFEC) EnrichedCandidates(_ context.Context, party string, cycle int) ([]fec.Candidate, error) {
	f.party, f.cycle = party, cycle
	return f.list, f.err
}

// fakeFetcher implements ContributionFetcher.
type fakeFetcher struct {
	res   contributions.Result
	err   error
	calls []contributions.Request
}

func (f *fakeFetcher) Fetch(_ context.Context, req contributions.Request) (contributions.Result, error) {
	f.calls = append(f.calls, req)
	return f.res, f.err
}

// fakeSummaries implements ContributionSummarizer.
type fakeSummaries struct {
	summary contributions.Summary
	err     error
	asked   string
}

func (f *fakeSummaries) Summarize(id string) (contributions.Summary, error) {
	f.asked = id
	return f.summary, f.err
}

// fakeRoster implements RosterReader.
type fakeRoster []candidates.Candidate

func (r fakeRoster) All() []candidates.Candidate { return r }

// fakeGeocoder implements markers.Geocoder.
type fakeGeocoder struct {
	address string
	err     error
}

func (g fakeGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (string, error) {
	return g.address, g.err
}

// fakeAccess implements AccessChecker.
type fakeAccess map[string]string

func (a fakeAccess) Check(_ context.Context, email, code string) (bool, error) {
	if email == "" || code == "" {
		return false, access.ErrMissingFields
	}
	return a[email] == code, nil
}

// fakeGroupchats implements GroupchatStore.
type fakeGroupchats struct {
	mu   sync.Mutex
	list []groupchats.Groupchat
	err  error
}

func (g *fakeGroupchats) List(_ context.Context) ([]groupchats.Groupchat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]groupchats.Groupchat{}, g.list...), nil
}

func (g *fakeGroupchats) Add(_ context.Context, req groupchats.AddRequest) (groupchats.Groupchat, error) {
	if g.err != nil {
		return groupchats.Groupchat{}, g.err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	gc := groupchats.Groupchat{ID: "gc-1", Link: req.Link, City: req.City, Lat: 30.27, Lng: -97.74}
	g.list = append(g.list, gc)
	return gc, nil
}

// fakeOAuth implements IdentityProvider.
type fakeOAuth struct {
	id  Identity
	err error
}

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (f *fakeOAuth) Exchange(_ context.Context, _ string) (Identity, error) {
	return f.id, f.err
}

type testEnv struct {
	server    *Server
	handler   http.Handler
	fec       *fakeFEC
	fetcher   *fakeFetcher
	summaries *fakeSummaries
	markers   *markers.Store
	groups    *fakeGroupchats
	oauth     *fakeOAuth
	sessions  *SessionService
	staticDir string
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	staticDir := filepath.Join(dir, "public")
	require.NoError(t, os.MkdirAll(filepath.Join(staticDir, "js"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "candidates.html"), []byte("<h1>candidates</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "js", "app.js"), []byte("console.log(1)"), 0o644))

	env := &testEnv{
		fec:       &fakeFEC{key: true},
		fetcher:   &fakeFetcher{},
		summaries: &fakeSummaries{},
		markers:   markers.NewStore(filepath.Join(dir, "markers.json"), nil),
		groups:    &fakeGroupchats{},
		oauth:     &fakeOAuth{id: Identity{Subject: "g-1", Email: "ada@example.com", Name: "Ada"}},
		sessions: NewSessionService(&config.SessionConfig{
			Secret:          "test-secret-key-for-jwt-signing-minimum-32-bytes",
			ExpirationHours: 24,
		}),
		staticDir: staticDir,
	}

	deps := Deps{
		Candidates:    env.fec,
		Contributions: env.fetcher,
		Summaries:     env.summaries,
		Roster: fakeRoster{
			{CandidateID: "H1", Name: "Smith, Jane", State: "TX", District: 5, Party: "DEMOCRATIC PARTY"},
			{CandidateID: "S1", Name: "Doe, John", State: "TX", District: 0, Party: "DEMOCRATIC PARTY"},
			{CandidateID: "H2", Name: "Roe, Rick", State: "TX", District: 5, Party: "REPUBLICAN PARTY"},
		},
		Markers:    env.markers,
		Geocoder:   fakeGeocoder{address: "Austin, Texas, United States"},
		Access:     fakeAccess{"member@example.com": "letmein"},
		Groupchats: env.groups,
		Sessions:   env.sessions,
		OAuth:      env.oauth,
	}
	for _, m := range mutate {
		m(&deps)
	}

	s, err := New(Config{StaticDir: staticDir, Cycle: 2026}, deps)
	require.NoError(t, err)
	env.server = s
	env.handler = s.Handler()
	return env
}

func (e *testEnv) do(method, target string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeMap(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNew_RequiresSessions(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeMap(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/health", nil)

	w := env.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "civicmap_http_requests_total")
}

func TestCORSMiddleware(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORSMiddleware_OPTIONS(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodOptions, "/api/save-markers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestStatusRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	sr.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusTeapot, sr.status)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, rec, sr.Unwrap())
}

func TestRateLimit_Returns429(t *testing.T) {
	limiter := ratelimit.NewLimiter(&ratelimit.Config{
		Enabled:         true,
		Default:         ratelimit.Quota{Limit: 1000, Window: time.Minute},
		CleanupInterval: time.Hour,
		Rules: []ratelimit.Rule{{
			Tier: "reads", Method: "GET", Path: "/api/get-markers",
			Quota: ratelimit.Quota{Limit: 2, Window: time.Hour, Burst: 2},
		}},
	})
	defer limiter.Stop()
	env := newTestEnv(t, func(d *Deps) { d.RateLimiter = limiter })

	for i := 0; i < 2; i++ {
		w := env.do(http.MethodGet, "/api/get-markers", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := env.do(http.MethodGet, "/api/get-markers", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeMap(t, w)["error"])
}

func TestStatic_RootServesCandidatesPage(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<h1>candidates</h1>")

	w = env.do(http.MethodGet, "/js/app.js", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "console.log(1)", w.Body.String())

	w = env.do(http.MethodGet, "/missing.css", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJSONResponse(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()

	env.server.jsonResponse(w, http.StatusCreated, map[string]int{"n": 1})
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"n":1}`, w.Body.String())
}

func TestErrorResponse(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()

	env.server.errorResponse(w, http.StatusBadRequest, "bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"bad"}`, w.Body.String())
}

func TestExtractClientID(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	assert.Equal(t, "203.0.113.9", env.server.extractClientID(req))

	req.RemoteAddr = "not-an-addr"
	assert.Equal(t, "not-an-addr", env.server.extractClientID(req))
}

func TestUnknownErrorIsInternal(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(geocode.ErrCityNotFound))
}
