// Package access checks email/code pairs against the local access table that
// gates groupchat signup.
package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/civicmap/internal/jsonfile"
)

// ErrMissingFields is returned when email or code is empty.
var ErrMissingFields = errors.New("all fields are required")

// Verifier compares a submitted code with a stored value.
type Verifier interface {
	VerifyCode(code, stored string) bool
}

type entry struct {
	Code string `json:"code"`
}

type table struct {
	Users map[string]entry `json:"users"`
}

// Gate reads the access table on every check so edits take effect without a
// restart.
type Gate struct {
	path     string
	verifier Verifier
}

// NewGate creates a gate over the JSON file at path.
func NewGate(path string, verifier Verifier) *Gate {
	return &Gate{path: path, verifier: verifier}
}

// Check reports whether code is valid for email. Unknown emails and a missing
// table both report false.
func (g *Gate) Check(ctx context.Context, email, code string) (bool, error) {
	if strings.TrimSpace(email) == "" || code == "" {
		return false, ErrMissingFields
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var t table
	if _, err := jsonfile.Load(g.path, &t); err != nil {
		return false, fmt.Errorf("failed to load access table: %w", err)
	}

	user, ok := t.Users[email]
	if !ok {
		return false, nil
	}
	return g.verifier.VerifyCode(code, user.Code), nil
}
