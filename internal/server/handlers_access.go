package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/access"
	"github.com/jonathan/civicmap/internal/geocode"
	"github.com/jonathan/civicmap/internal/groupchats"
	"github.com/jonathan/civicmap/internal/schemas"
	"github.com/jonathan/civicmap/internal/server/middleware"
)

// checkEmailRequest is the access-code form, sent as JSON or urlencoded.
type checkEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type checkEmailResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// handleCheckEmail verifies an email/code pair and on success sets the access
// cookie.
func (s *Server) handleCheckEmail(w http.ResponseWriter, r *http.Request) {
	req, err := s.readCheckEmail(w, r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if s.deps.Access == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Access check is not configured")
		return
	}

	ok, err := s.deps.Access.Check(r.Context(), req.Email, req.Code)
	switch {
	case errors.Is(err, access.ErrMissingFields):
		s.jsonResponse(w, http.StatusBadRequest, checkEmailResponse{Message: "All fields are required"})
		return
	case err != nil:
		s.logger.Error("access check failed", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to check access")
		return
	case !ok:
		s.jsonResponse(w, http.StatusBadRequest, checkEmailResponse{Message: "Nope"})
		return
	}

	token, err := s.deps.Sessions.IssueAccess(strings.TrimSpace(req.Email))
	if err != nil {
		s.logger.Error("failed to issue access token", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to check access")
		return
	}
	s.setCookie(w, AccessCookie, token, s.deps.Sessions.TTL())
	s.jsonResponse(w, http.StatusOK, checkEmailResponse{Success: true})
}

func (s *Server) readCheckEmail(w http.ResponseWriter, r *http.Request) (checkEmailRequest, error) {
	var req checkEmailRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.Email = r.PostForm.Get("email")
		req.Code = r.PostForm.Get("code")
		return req, nil
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

// handleAccessStatus reports whether the caller holds a valid access cookie.
func (s *Server) handleAccessStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"access": false}
	if token := middleware.TokenFromRequest(r, AccessCookie); token != "" {
		if claims, err := s.deps.Sessions.ValidateToken(token); err == nil && claims.HasAccess() {
			resp["access"] = true
			resp["email"] = claims.Email
		}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleListGroupchats returns every stored groupchat.
func (s *Server) handleListGroupchats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Groupchats == nil {
		s.jsonResponse(w, http.StatusOK, []groupchats.Groupchat{})
		return
	}
	list, err := s.deps.Groupchats.List(r.Context())
	if err != nil {
		s.logger.Error("failed to load groupchats", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to load groupchats")
		return
	}
	s.jsonResponse(w, http.StatusOK, list)
}

// handleAddGroupchat stores a groupchat link for a city. Requires the access
// cookie.
func (s *Server) handleAddGroupchat(w http.ResponseWriter, r *http.Request) {
	if s.deps.Groupchats == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "Groupchats are not available")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := schemas.Validate(schemas.Groupchat, body); err != nil {
		status, msg := schemaFailure(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("groupchat schema unavailable", zap.Error(err))
		}
		s.errorResponse(w, status, msg)
		return
	}

	var req groupchats.AddRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, validationError(err).Error())
		return
	}

	g, err := s.deps.Groupchats.Add(r.Context(), req)
	if err != nil {
		if errors.Is(err, geocode.ErrCityNotFound) {
			s.errorResponse(w, http.StatusBadRequest, "City not found")
			return
		}
		s.logger.Error("failed to add groupchat", zap.Error(err))
		s.errorResponse(w, HTTPStatus(err), "Failed to add groupchat")
		return
	}
	s.jsonResponse(w, http.StatusCreated, g)
}

// setCookie writes an HttpOnly cookie valid for ttl. A zero ttl deletes it.
func (s *Server) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl.Seconds())
		c.Expires = time.Now().Add(ttl)
	} else {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}
