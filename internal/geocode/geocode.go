// Package geocode resolves coordinates to place names (MapTiler) and city
// names to coordinates (Nominatim), caching both directions in memory.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/fetch"
)

const (
	DefaultMapTilerURL  = "https://api.maptiler.com"
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	DefaultCacheSize    = 1024
)

var (
	// ErrMissingAPIKey is returned by ReverseGeocode without a MapTiler key.
	ErrMissingAPIKey = errors.New("missing map API key")
	// ErrCityNotFound is returned when Nominatim has no match for a city.
	ErrCityNotFound = errors.New("city not found")
)

// Coordinates is a resolved point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// JSONGetter is the transport requests go through.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, out any) (bool, error)
}

type reverseResponse struct {
	Features []struct {
		PlaceName string `json:"place_name"`
	} `json:"features"`
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Client performs geocoding lookups.
type Client struct {
	apiKey       string
	mapTilerURL  string
	nominatimURL string
	http         JSONGetter
	places       *lru.Cache[string, string]
	cities       *lru.Cache[string, Coordinates]
	logger       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMapTilerURL overrides the MapTiler root.
func WithMapTilerURL(u string) Option {
	return func(c *Client) { c.mapTilerURL = strings.TrimRight(u, "/") }
}

// WithNominatimURL overrides the Nominatim root.
func WithNominatimURL(u string) Option {
	return func(c *Client) { c.nominatimURL = strings.TrimRight(u, "/") }
}

// WithTransport overrides the JSON transport.
func WithTransport(t JSONGetter) Option {
	return func(c *Client) { c.http = t }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a geocoding client. cacheSize bounds each direction's
// cache; values below 1 use DefaultCacheSize.
func NewClient(apiKey string, cacheSize int, opts ...Option) (*Client, error) {
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}
	places, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create place cache: %w", err)
	}
	cities, err := lru.New[string, Coordinates](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create city cache: %w", err)
	}

	c := &Client{
		apiKey:       apiKey,
		mapTilerURL:  DefaultMapTilerURL,
		nominatimURL: DefaultNominatimURL,
		places:       places,
		cities:       cities,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = fetch.NewClient("geocode", fetch.WithLogger(c.logger))
	}
	return c, nil
}

// ReverseGeocode returns the place name of the first MapTiler feature at
// lat/lng, or "" when there is none.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	key := fmt.Sprintf("%.5f,%.5f", lat, lng)
	if name, ok := c.places.Get(key); ok {
		return name, nil
	}

	u := fmt.Sprintf("%s/geocoding/%s,%s.json?key=%s",
		c.mapTilerURL,
		strconv.FormatFloat(lng, 'f', -1, 64),
		strconv.FormatFloat(lat, 'f', -1, 64),
		url.QueryEscape(c.apiKey))

	var resp reverseResponse
	found, err := c.http.GetJSON(ctx, u, &resp)
	if err != nil {
		return "", fmt.Errorf("reverse geocode failed: %w", err)
	}
	if !found || len(resp.Features) == 0 {
		return "", nil
	}

	name := resp.Features[0].PlaceName
	c.places.Add(key, name)
	return name, nil
}

// ForwardGeocode resolves a city name to the first Nominatim match.
func (c *Client) ForwardGeocode(ctx context.Context, city string) (Coordinates, error) {
	key := strings.ToLower(strings.TrimSpace(city))
	if key == "" {
		return Coordinates{}, ErrCityNotFound
	}
	if coords, ok := c.cities.Get(key); ok {
		return coords, nil
	}

	params := url.Values{}
	params.Set("format", "json")
	params.Set("q", city)

	var results []searchResult
	found, err := c.http.GetJSON(ctx, c.nominatimURL+"/search?"+params.Encode(), &results)
	if err != nil {
		return Coordinates{}, fmt.Errorf("forward geocode failed: %w", err)
	}
	if !found || len(results) == 0 {
		return Coordinates{}, ErrCityNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("invalid latitude %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("invalid longitude %q: %w", results[0].Lon, err)
	}

	coords := Coordinates{Lat: lat, Lng: lng}
	c.cities.Add(key, coords)
	return coords, nil
}
