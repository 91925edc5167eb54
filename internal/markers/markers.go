// Package markers persists user-submitted map markers as a single JSON array.
package markers

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/jsonfile"
)

// AddressNotFound is stored when reverse geocoding yields nothing.
const AddressNotFound = "Address not found"

const (
	earthRadiusKm = 6371.0
	milesPerKm    = 0.621371
)

// Position is a latitude/longitude pair.
type Position struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Marker is a user-placed point on the protest map.
type Marker struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Date        string   `json:"date"`
	ClickedPos  Position `json:"clickedPos"`
	Address     string   `json:"address"`
	Distance    *float64 `json:"distance"`
	ID          string   `json:"id"`
}

// AddRequest describes a marker to append server-side.
type AddRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description string    `json:"description" validate:"max=5000"`
	Date        string    `json:"date"`
	ClickedPos  Position  `json:"clickedPos" validate:"required"`
	From        *Position `json:"from,omitempty"`
}

// Geocoder resolves a coordinate to a place name. An empty result means not found.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// Store reads and replaces the marker file.
type Store struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewStore creates a Store for the JSON file at path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns every stored marker. A missing file yields an empty slice.
func (s *Store) Load(ctx context.Context) ([]Marker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	list := []Marker{}
	if _, err := jsonfile.Load(s.path, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []Marker{}
	}
	return list, nil
}

// Save replaces the stored array with list. Concurrent savers race and the
// last rename wins in full.
func (s *Store) Save(ctx context.Context, list []Marker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if list == nil {
		list = []Marker{}
	}
	if err := jsonfile.Save(s.path, list); err != nil {
		return err
	}
	s.logger.Debug("saved markers", zap.Int("count", len(list)))
	return nil
}

// Add appends a single marker under the store lock so concurrent adds through
// this process are not lost. The address is looked up with geo when non-nil.
func (s *Store) Add(ctx context.Context, req AddRequest, geo Geocoder) (Marker, error) {
	m := Marker{
		Title:       req.Title,
		Description: req.Description,
		Date:        req.Date,
		ClickedPos:  req.ClickedPos,
		Address:     AddressNotFound,
		ID:          uuid.NewString(),
	}

	if geo != nil {
		addr, err := geo.ReverseGeocode(ctx, req.ClickedPos.Lat, req.ClickedPos.Lng)
		if err != nil {
			s.logger.Warn("reverse geocode failed", zap.Error(err))
		} else if addr != "" {
			m.Address = addr
		}
	}
	if req.From != nil {
		d := DistanceMiles(*req.From, req.ClickedPos)
		m.Distance = &d
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.Load(ctx)
	if err != nil {
		return Marker{}, fmt.Errorf("failed to load markers: %w", err)
	}
	list = append(list, m)
	if err := s.Save(ctx, list); err != nil {
		return Marker{}, fmt.Errorf("failed to save markers: %w", err)
	}
	return m, nil
}

// DistanceMiles returns the great-circle distance between two points in miles.
func DistanceMiles(a, b Position) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c * milesPerKm
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
