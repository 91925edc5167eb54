package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/geocode"
	"github.com/jonathan/civicmap/internal/markers"
	"github.com/jonathan/civicmap/internal/schemas"
)

// addressRequest is the body of /api/get-address. Pointers distinguish a
// missing coordinate from zero.
type addressRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// handleGetMarkers returns the stored marker array.
func (s *Server) handleGetMarkers(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Markers.Load(r.Context())
	if err != nil {
		s.logger.Error("failed to load markers", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load markers")
		return
	}
	s.jsonResponse(w, http.StatusOK, list)
}

// handleSaveMarkers replaces the stored array with the request body.
func (s *Server) handleSaveMarkers(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := schemas.Validate(schemas.MarkerList, body); err != nil {
		status, msg := schemaFailure(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("marker schema unavailable", zap.Error(err))
		}
		s.errorResponse(w, status, msg)
		return
	}

	var list []markers.Marker
	if err := json.Unmarshal(body, &list); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.deps.Markers.Save(r.Context(), list); err != nil {
		s.logger.Error("failed to save markers", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to save markers")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// handleAddMarker appends one marker server-side and returns it.
func (s *Server) handleAddMarker(w http.ResponseWriter, r *http.Request) {
	var req markers.AddRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, validationError(err).Error())
		return
	}
	if !validPosition(req.ClickedPos) || (req.From != nil && !validPosition(*req.From)) {
		s.errorResponse(w, http.StatusBadRequest, "Coordinates out of range")
		return
	}

	m, err := s.deps.Markers.Add(r.Context(), req, s.deps.Geocoder)
	if err != nil {
		s.logger.Error("failed to add marker", zap.Error(err))
		s.errorResponse(w, HTTPStatus(err), "Failed to add marker")
		return
	}
	s.jsonResponse(w, http.StatusCreated, m)
}

// handleGetAddress reverse geocodes a point and returns the place name as a
// JSON string.
func (s *Server) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Lat == nil || req.Lng == nil {
		s.errorResponse(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	if !validPosition(markers.Position{Lat: *req.Lat, Lng: *req.Lng}) {
		s.errorResponse(w, http.StatusBadRequest, "Coordinates out of range")
		return
	}
	if s.deps.Geocoder == nil {
		s.errorResponse(w, http.StatusInternalServerError, "Missing map API key")
		return
	}

	address, err := s.deps.Geocoder.ReverseGeocode(r.Context(), *req.Lat, *req.Lng)
	switch {
	case errors.Is(err, geocode.ErrMissingAPIKey):
		s.errorResponse(w, http.StatusInternalServerError, "Missing map API key")
		return
	case err != nil:
		s.logger.Error("reverse geocode failed", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to look up address")
		return
	case address == "":
		address = markers.AddressNotFound
	}
	s.jsonResponse(w, http.StatusOK, address)
}

func validPosition(p markers.Position) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
