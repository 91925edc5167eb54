package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/civicmap/internal/fetch"
	"github.com/jonathan/civicmap/internal/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, srv *httptest.Server, apiKey string) *Client {
	t.Helper()
	transport := fetch.NewClient("test", fetch.WithPolicy(retry.Policy{
		MaxAttempts:  2,
		InitialDelay: time.Millisecond,
		Multiplier:   2,
		Sleep:        noSleep,
	}))
	c, err := NewClient(apiKey, 8,
		WithMapTilerURL(srv.URL),
		WithNominatimURL(srv.URL+"/"),
		WithTransport(transport))
	require.NoError(t, err)
	return c
}

func TestReverseGeocode(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/geocoding/-97.7431,30.2672.json", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		_, _ = w.Write([]byte(`{"features":[{"place_name":"Austin, Texas, United States"},{"place_name":"Texas"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "secret")

	name, err := c.ReverseGeocode(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	assert.Equal(t, "Austin, Texas, United States", name)

	name, err = c.ReverseGeocode(context.Background(), 30.2672, -97.7431)
	require.NoError(t, err)
	assert.Equal(t, "Austin, Texas, United States", name)
	assert.Equal(t, int32(1), calls.Load(), "second lookup is served from cache")
}

func TestReverseGeocode_NoFeatures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer srv.Close()

	name, err := newTestClient(t, srv, "k").ReverseGeocode(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestReverseGeocode_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	name, err := newTestClient(t, srv, "k").ReverseGeocode(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestReverseGeocode_MissingKey(t *testing.T) {
	c, err := NewClient("", 0)
	require.NoError(t, err)

	_, err = c.ReverseGeocode(context.Background(), 1, 2)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestForwardGeocode(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "San Antonio", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`[{"lat":"29.4246","lon":"-98.4951"}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "")

	coords, err := c.ForwardGeocode(context.Background(), "San Antonio")
	require.NoError(t, err)
	assert.InDelta(t, 29.4246, coords.Lat, 1e-9)
	assert.InDelta(t, -98.4951, coords.Lng, 1e-9)

	_, err = c.ForwardGeocode(context.Background(), " san antonio ")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestForwardGeocode_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "")

	_, err := c.ForwardGeocode(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, ErrCityNotFound)

	_, err = c.ForwardGeocode(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrCityNotFound)
}

func TestForwardGeocode_BadCoordinates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":"north","lon":"1"}]`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, "").ForwardGeocode(context.Background(), "X")
	assert.Error(t, err)
}
