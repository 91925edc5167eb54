package config

import (
	"crypto/subtle"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AccessCodeConfig holds configuration for hashing and verifying groupchat access codes.
type AccessCodeConfig struct {
	BcryptCost int
	Pepper     string // optional global secret appended before hashing
}

// NewAccessCodeConfig creates an access-code configuration from environment variables.
// It reads BCRYPT_COST (default: 12) and optionally ACCESS_CODE_PEPPER.
func NewAccessCodeConfig() (*AccessCodeConfig, error) {
	costStr := os.Getenv("BCRYPT_COST")
	if costStr == "" {
		costStr = "12"
	}

	cost, err := strconv.Atoi(costStr)
	if err != nil {
		return nil, fmt.Errorf("invalid BCRYPT_COST: %v", err)
	}

	config := &AccessCodeConfig{
		BcryptCost: cost,
		Pepper:     os.Getenv("ACCESS_CODE_PEPPER"),
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *AccessCodeConfig) normalize() error {
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > 14 {
		return fmt.Errorf("bcrypt cost out of range: %d (must be %d-14)", c.BcryptCost, bcrypt.MinCost)
	}
	return nil
}

// HashCode hashes an access code using bcrypt (with optional pepper).
func (c *AccessCodeConfig) HashCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code+c.Pepper), c.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash access code: %w", err)
	}
	return string(hash), nil
}

// VerifyCode checks a submitted code against a stored value. Stored values with
// a bcrypt prefix are compared as hashes; anything else is a plaintext code
// compared in constant time.
func (c *AccessCodeConfig) VerifyCode(code, stored string) bool {
	if stored == "" {
		return false
	}
	if IsBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(code+c.Pepper)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(stored)) == 1
}

// IsBcryptHash reports whether s looks like a bcrypt hash.
func IsBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2") && len(s) == 60
}
