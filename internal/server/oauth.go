package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleoauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/jonathan/civicmap/internal/server/middleware"
)

const (
	oauthStateTTL        = 10 * time.Minute
	oauthStateSize       = 32
	oauthErrorRedirectTo = "/?error=oauth_login"
)

// Identity is the profile of a signed-in Google user.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// IdentityProvider runs the authorization code flow.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Identity, error)
}

// GoogleOAuth signs users in with Google and reads their profile.
type GoogleOAuth struct {
	config *oauth2.Config
}

// NewGoogleOAuth configures the Google code flow with the openid, email and
// profile scopes.
func NewGoogleOAuth(clientID, clientSecret, redirectURL string) *GoogleOAuth {
	return &GoogleOAuth{config: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes: []string{
			googleoauth2.OpenIDScope,
			googleoauth2.UserinfoEmailScope,
			googleoauth2.UserinfoProfileScope,
		},
		Endpoint: google.Endpoint,
	}}
}

// AuthCodeURL returns the consent page URL carrying state.
func (g *GoogleOAuth) AuthCodeURL(state string) string {
	return g.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades code for a token and fetches the user's profile.
func (g *GoogleOAuth) Exchange(ctx context.Context, code string) (Identity, error) {
	token, err := g.config.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to exchange code: %w", err)
	}

	svc, err := googleoauth2.NewService(ctx, option.WithTokenSource(g.config.TokenSource(ctx, token)))
	if err != nil {
		return Identity{}, fmt.Errorf("failed to create userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return Identity{}, fmt.Errorf("failed to fetch userinfo: %w", err)
	}

	return Identity{
		Subject: info.Id,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

// handleGoogleLogin sets a state cookie and redirects to Google.
func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		s.errorResponse(w, http.StatusNotFound, "Google sign-in is not configured")
		return
	}

	state, err := newRandomToken(oauthStateSize)
	if err != nil {
		s.logger.Error("failed to generate oauth state", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to start sign-in")
		return
	}
	s.setCookie(w, OAuthStateCookie, state, oauthStateTTL)
	http.Redirect(w, r, s.deps.OAuth.AuthCodeURL(state), http.StatusFound)
}

// handleGoogleCallback checks state, exchanges the code and sets the session
// cookie.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.OAuth == nil {
		s.errorResponse(w, http.StatusNotFound, "Google sign-in is not configured")
		return
	}

	query := r.URL.Query()
	if e := strings.TrimSpace(query.Get("error")); e != "" {
		s.logger.Warn("oauth provider returned error", zap.String("error", e))
		s.setCookie(w, OAuthStateCookie, "", 0)
		http.Redirect(w, r, oauthErrorRedirectTo, http.StatusFound)
		return
	}

	state := strings.TrimSpace(query.Get("state"))
	stored, err := r.Cookie(OAuthStateCookie)
	s.setCookie(w, OAuthStateCookie, "", 0)
	if err != nil || stored.Value == "" || state == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(stored.Value)) != 1 {
		s.errorResponse(w, http.StatusUnauthorized, "Invalid sign-in state")
		return
	}

	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		s.errorResponse(w, http.StatusBadRequest, "Missing code")
		return
	}

	id, err := s.deps.OAuth.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Error("oauth exchange failed", zap.Error(err))
		http.Redirect(w, r, oauthErrorRedirectTo, http.StatusFound)
		return
	}

	token, err := s.deps.Sessions.IssueSession(id.Subject, id.Email, id.Name, id.Picture)
	if err != nil {
		s.logger.Error("failed to issue session", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "Failed to sign in")
		return
	}
	s.setCookie(w, SessionCookie, token, s.deps.Sessions.TTL())
	s.logger.Info("user signed in", zap.String("subject", id.Subject))
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleLogout clears the session and access cookies.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.setCookie(w, SessionCookie, "", 0)
	s.setCookie(w, AccessCookie, "", 0)
	s.jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// handleMe returns the signed-in user's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := middleware.GetPrincipal(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	claims, ok := p.(*Claims)
	if !ok {
		s.errorResponse(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"id":      claims.Subject,
		"email":   claims.Email,
		"name":    claims.Name,
		"picture": claims.Picture,
	})
}

func newRandomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
