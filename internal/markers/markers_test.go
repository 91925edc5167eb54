package markers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGeocoder struct {
	address string
	err     error
}

func (g stubGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (string, error) {
	return g.address, g.err
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "markers.json"), nil)
}

func miles(v float64) *float64 { return &v }

func sampleMarkers() []Marker {
	return []Marker{
		{
			Title:       "Rally at the Capitol",
			Description: "Bring \"signs\", water",
			Date:        "2026-03-01",
			ClickedPos:  Position{Lat: 30.2747, Lng: -97.7404},
			Address:     "Austin, Texas, United States",
			Distance:    miles(1.5),
			ID:          "a1b2c3d4e5",
		},
	}
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)

	list, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestSaveThenLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleMarkers()))

	list, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleMarkers(), list)
}

func TestSave_ByteIdenticalForIdenticalInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleMarkers()))
	first, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, sampleMarkers()))
	second, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Contains(t, string(first), "\n  {\n    \"title\": \"Rally at the Capitol\"")
}

func TestSave_ReplacesWholeArray(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleMarkers()))
	require.NoError(t, s.Save(ctx, nil))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestLoad_Malformed(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("not json"), 0o644))

	_, err := s.Load(context.Background())
	assert.Error(t, err)
}

func TestLoad_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := s.Add(ctx, AddRequest{
		Title:      "March",
		ClickedPos: Position{Lat: 40.7128, Lng: -74.0060},
		From:       &Position{Lat: 40.7128, Lng: -74.0060},
	}, stubGeocoder{address: "New York, United States"})
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "New York, United States", m.Address)
	require.NotNil(t, m.Distance)
	assert.InDelta(t, 0, *m.Distance, 1e-9)

	list, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, m, list[0])
}

func TestAdd_GeocoderFailureFallsBack(t *testing.T) {
	s := newTestStore(t)

	m, err := s.Add(context.Background(), AddRequest{Title: "x"}, stubGeocoder{err: errors.New("down")})
	require.NoError(t, err)
	assert.Equal(t, AddressNotFound, m.Address)

	m, err = s.Add(context.Background(), AddRequest{Title: "y"}, nil)
	require.NoError(t, err)
	assert.Equal(t, AddressNotFound, m.Address)
}

func TestAdd_ConcurrentAddsAreKept(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Add(ctx, AddRequest{Title: "t"}, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 20)
}

func TestDistanceMiles(t *testing.T) {
	austin := Position{Lat: 30.2672, Lng: -97.7431}
	dallas := Position{Lat: 32.7767, Lng: -96.7970}

	// Roughly 182 miles apart.
	assert.InDelta(t, 182, DistanceMiles(austin, dallas), 3)
	assert.InDelta(t, DistanceMiles(austin, dallas), DistanceMiles(dallas, austin), 1e-9)
	assert.Equal(t, 0.0, DistanceMiles(austin, austin))
}
