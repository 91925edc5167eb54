package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jonathan/civicmap/internal/config"
	"github.com/jonathan/civicmap/internal/server/middleware"
)

// Cookie names used by the server.
const (
	SessionCookie    = "session"
	AccessCookie     = "access"
	OAuthStateCookie = "oauth_state"
)

// Claims is the payload of both cookies. Access cookies carry only the email
// and Access=true; session cookies carry the Google profile.
type Claims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	Access  bool   `json:"access,omitempty"`
	jwt.RegisteredClaims
}

// HasAccess reports whether the claims came from a passed access check.
// With the embedded GetSubject this implements middleware.Principal.
func (c *Claims) HasAccess() bool {
	return c.Access
}

// AsTokenValidator returns a TokenValidator adapter for this SessionService.
func (s *SessionService) AsTokenValidator() middleware.TokenValidator {
	return &sessionValidator{service: s}
}

type sessionValidator struct {
	service *SessionService
}

func (v *sessionValidator) ValidateToken(tokenString string) (middleware.Principal, error) {
	claims, err := v.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// SessionService signs and verifies the HMAC tokens stored in cookies.
type SessionService struct {
	config *config.SessionConfig
	now    func() time.Time
}

// NewSessionService creates a session service with the given configuration.
func NewSessionService(cfg *config.SessionConfig) *SessionService {
	return &SessionService{config: cfg, now: time.Now}
}

// TTL is the lifetime of issued tokens.
func (s *SessionService) TTL() time.Duration {
	return time.Duration(s.config.ExpirationHours) * time.Hour
}

// IssueSession signs a token for a signed-in Google user.
func (s *SessionService) IssueSession(subject, email, name, picture string) (string, error) {
	return s.sign(&Claims{Email: email, Name: name, Picture: picture}, subject)
}

// IssueAccess signs a token proving email passed the access-code check.
func (s *SessionService) IssueAccess(email string) (string, error) {
	return s.sign(&Claims{Email: email, Access: true}, email)
}

func (s *SessionService) sign(claims *Claims, subject string) (string, error) {
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL())),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken validates a token and returns its claims.
func (s *SessionService) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("token string is empty")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrSignatureInvalid), errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("invalid token signature: %w", err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("token expired: %w", err)
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("malformed token: %w", err)
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}
	return claims, nil
}
