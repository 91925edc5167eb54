// Package groupchats stores Signal groupchat links with the coordinates of
// the city they serve.
package groupchats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/geocode"
	"github.com/jonathan/civicmap/internal/jsonfile"
)

// Groupchat is one stored link.
type Groupchat struct {
	ID        string    `json:"id"`
	Link      string    `json:"link"`
	City      string    `json:"city"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	CreatedAt time.Time `json:"created_at"`
}

// AddRequest is the payload for a new groupchat.
type AddRequest struct {
	Link string `json:"link" validate:"required,url"`
	City string `json:"city" validate:"required,max=120"`
}

// CityLocator resolves a city to coordinates.
type CityLocator interface {
	ForwardGeocode(ctx context.Context, city string) (geocode.Coordinates, error)
}

// Store persists groupchats as one JSON array.
type Store struct {
	path    string
	locator CityLocator
	now     func() time.Time
	logger  *zap.Logger

	mu sync.Mutex
}

// NewStore creates a store over path.
func NewStore(path string, locator CityLocator, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, locator: locator, now: time.Now, logger: logger}
}

// List returns every stored groupchat. A missing file yields an empty slice.
func (s *Store) List(ctx context.Context) ([]Groupchat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list := []Groupchat{}
	if _, err := jsonfile.Load(s.path, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []Groupchat{}
	}
	return list, nil
}

// Add geocodes the city and appends the groupchat. Returns the geocoder's
// error when the city cannot be located.
func (s *Store) Add(ctx context.Context, req AddRequest) (Groupchat, error) {
	city := strings.TrimSpace(req.City)
	coords, err := s.locator.ForwardGeocode(ctx, city)
	if err != nil {
		return Groupchat{}, err
	}

	g := Groupchat{
		ID:        uuid.NewString(),
		Link:      strings.TrimSpace(req.Link),
		City:      city,
		Lat:       coords.Lat,
		Lng:       coords.Lng,
		CreatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.List(ctx)
	if err != nil {
		return Groupchat{}, fmt.Errorf("failed to load groupchats: %w", err)
	}
	list = append(list, g)
	if err := jsonfile.Save(s.path, list); err != nil {
		return Groupchat{}, fmt.Errorf("failed to save groupchats: %w", err)
	}
	s.logger.Info("added groupchat", zap.String("city", city))
	return g, nil
}
