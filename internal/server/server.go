// Package server provides the HTTP API and static front end for civicmap.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jonathan/civicmap/internal/candidates"
	"github.com/jonathan/civicmap/internal/contributions"
	"github.com/jonathan/civicmap/internal/fec"
	"github.com/jonathan/civicmap/internal/groupchats"
	"github.com/jonathan/civicmap/internal/markers"
	"github.com/jonathan/civicmap/internal/metrics"
	"github.com/jonathan/civicmap/internal/server/middleware"
	"github.com/jonathan/civicmap/internal/server/ratelimit"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 5 << 20

// CandidateLister serves the enriched FEC candidate listing.
type CandidateLister interface {
	HasAPIKey() bool
	EnrichedCandidates(ctx context.Context, party string, cycle int) ([]fec.Candidate, error)
}

// ContributionFetcher runs the per-candidate contribution pipeline.
type ContributionFetcher interface {
	Fetch(ctx context.Context, req contributions.Request) (contributions.Result, error)
}

// ContributionSummarizer totals persisted contributions.
type ContributionSummarizer interface {
	Summarize(candidateID string) (contributions.Summary, error)
}

// RosterReader exposes the enriched candidate roster.
type RosterReader interface {
	All() []candidates.Candidate
}

// MarkerStore persists map markers.
type MarkerStore interface {
	Load(ctx context.Context) ([]markers.Marker, error)
	Save(ctx context.Context, list []markers.Marker) error
	Add(ctx context.Context, req markers.AddRequest, geo markers.Geocoder) (markers.Marker, error)
}

// AccessChecker verifies email/code pairs.
type AccessChecker interface {
	Check(ctx context.Context, email, code string) (bool, error)
}

// GroupchatStore persists groupchat links.
type GroupchatStore interface {
	List(ctx context.Context) ([]groupchats.Groupchat, error)
	Add(ctx context.Context, req groupchats.AddRequest) (groupchats.Groupchat, error)
}

// Config holds server configuration
type Config struct {
	Port          int
	StaticDir     string
	Party         string // default FEC party code for /api/candidates
	Cycle         int
	SecureCookies bool
}

// Deps are the stores and clients the handlers call. Sessions is required;
// OAuth and RateLimiter may be nil to disable those features.
type Deps struct {
	Logger        *zap.Logger
	Candidates    CandidateLister
	Contributions ContributionFetcher
	Summaries     ContributionSummarizer
	Roster        RosterReader
	Markers       MarkerStore
	Geocoder      markers.Geocoder
	Access        AccessChecker
	Groupchats    GroupchatStore
	Sessions      *SessionService
	OAuth         IdentityProvider
	RateLimiter   *ratelimit.Limiter
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	cfg        Config
	deps       Deps
	logger     *zap.Logger
	validate   *validator.Validate
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("server: session service is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Party == "" {
		cfg.Party = "DEM"
	}
	if cfg.StaticDir == "" {
		cfg.StaticDir = "public"
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	requireSession := middleware.RequireToken(deps.Sessions.AsTokenValidator(), SessionCookie, false)
	requireAccess := middleware.RequireToken(deps.Sessions.AsTokenValidator(), AccessCookie, true)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Candidates
	mux.HandleFunc("GET /api/candidates", s.handleCandidates)
	mux.HandleFunc("GET /api/candidates/search", s.handleSearchCandidates)
	mux.HandleFunc("GET /api/candidates/local", s.handleLocalCandidates)

	// Markers
	mux.HandleFunc("GET /api/get-markers", s.handleGetMarkers)
	mux.HandleFunc("POST /api/save-markers", s.handleSaveMarkers)
	mux.HandleFunc("POST /api/markers", s.handleAddMarker)
	mux.HandleFunc("POST /api/get-address", s.handleGetAddress)

	// Contributions
	mux.HandleFunc("POST /api/fetch-contributions", s.handleFetchContributions)
	mux.HandleFunc("GET /api/contributions/summary", s.handleContributionSummary)

	// Access gate and groupchats
	mux.HandleFunc("POST /check-email", s.handleCheckEmail)
	mux.HandleFunc("GET /api/access", s.handleAccessStatus)
	mux.HandleFunc("GET /api/groupchats", s.handleListGroupchats)
	mux.Handle("POST /api/groupchats", requireAccess(http.HandlerFunc(s.handleAddGroupchat)))

	// Google sign-in
	mux.HandleFunc("GET /auth/google/login", s.handleGoogleLogin)
	mux.HandleFunc("GET /auth/google/callback", s.handleGoogleCallback)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)
	mux.Handle("GET /auth/me", requireSession(http.HandlerFunc(s.handleMe)))

	// Front end
	mux.HandleFunc("GET /", s.handleStatic)

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // contribution fetches page through upstream serially
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until ctx is cancelled or the process receives SIGINT or
// SIGTERM, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// Stop rate limiter cleanup goroutine
	if s.deps.RateLimiter != nil {
		s.deps.RateLimiter.Stop()
	}

	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.deps.RateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.deps.RateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging logs each request and records request metrics by route pattern.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPLatency.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.String("remote", r.RemoteAddr))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a bounded request body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]interface{}{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	s.logger.Warn("rate limit exceeded",
		zap.String("client", s.extractClientID(r)),
		zap.String("path", r.URL.Path),
		zap.String("tier", info.Tier),
		zap.Int("limit", info.Limit),
		zap.Time("reset", info.ResetTime))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
