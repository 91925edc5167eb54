package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNewAccessCodeConfig(t *testing.T) {
	tests := []struct {
		name       string
		bcryptCost string
		pepper     string
		wantCost   int
		wantErr    bool
	}{
		{name: "default cost", bcryptCost: "", wantCost: 12},
		{name: "minimum cost", bcryptCost: "4", wantCost: 4},
		{name: "maximum cost", bcryptCost: "14", wantCost: 14},
		{name: "with pepper", bcryptCost: "10", pepper: "pepper", wantCost: 10},
		{name: "cost too low", bcryptCost: "3", wantErr: true},
		{name: "cost too high", bcryptCost: "15", wantErr: true},
		{name: "non-numeric cost", bcryptCost: "abc", wantErr: true},
		{name: "float cost", bcryptCost: "12.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BCRYPT_COST", tt.bcryptCost)
			t.Setenv("ACCESS_CODE_PEPPER", tt.pepper)

			cfg, err := NewAccessCodeConfig()
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCost, cfg.BcryptCost)
			assert.Equal(t, tt.pepper, cfg.Pepper)
		})
	}
}

func TestAccessCodeConfig_HashAndVerify(t *testing.T) {
	cfg := &AccessCodeConfig{BcryptCost: bcrypt.MinCost}

	hash, err := cfg.HashCode("march-2026")
	require.NoError(t, err)
	assert.True(t, IsBcryptHash(hash))

	// Salted: two hashes of the same code differ
	hash2, err := cfg.HashCode("march-2026")
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)

	assert.True(t, cfg.VerifyCode("march-2026", hash))
	assert.False(t, cfg.VerifyCode("april-2026", hash))
}

func TestAccessCodeConfig_VerifyWithPepper(t *testing.T) {
	peppered := &AccessCodeConfig{BcryptCost: bcrypt.MinCost, Pepper: "pepper"}
	hash, err := peppered.HashCode("code")
	require.NoError(t, err)

	assert.True(t, peppered.VerifyCode("code", hash))

	plain := &AccessCodeConfig{BcryptCost: bcrypt.MinCost}
	assert.False(t, plain.VerifyCode("code", hash), "removing the pepper must break verification")
}

func TestAccessCodeConfig_VerifyPlaintext(t *testing.T) {
	cfg := &AccessCodeConfig{BcryptCost: bcrypt.MinCost}

	assert.True(t, cfg.VerifyCode("1234", "1234"))
	assert.False(t, cfg.VerifyCode("12345", "1234"))
	assert.False(t, cfg.VerifyCode("", ""), "empty stored code never matches")
}

func TestAccessCodeConfig_CodeExceeding72Bytes(t *testing.T) {
	cfg := &AccessCodeConfig{BcryptCost: bcrypt.MinCost}

	hash, err := cfg.HashCode(strings.Repeat("a", 100))
	assert.Error(t, err)
	assert.Empty(t, hash)
}

func TestIsBcryptHash(t *testing.T) {
	assert.False(t, IsBcryptHash("1234"))
	assert.False(t, IsBcryptHash("$2a$short"))
	assert.True(t, IsBcryptHash("$2a$10$"+strings.Repeat("x", 53)))
}
