// Package config provides configuration loading and validation for the server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Default values applied when neither the environment nor a config file sets them.
const (
	DefaultPort        = 8080
	DefaultCycle       = 2026
	DefaultParty       = "DEM"
	DefaultDataDir     = "public/files"
	DefaultStaticDir   = "public"
	DefaultMarkersPath = "markers.json"
	DefaultAccessFile  = "checkFile.json"
	DefaultGroupsPath  = "groupchats.json"
	DefaultFECBaseURL  = "https://api.open.fec.gov/v1"
	DefaultMapBaseURL  = "https://api.maptiler.com"
)

// Config represents the application configuration.
// Values come from the environment (see Load) and may be defaulted from a JSON file.
type Config struct {
	// Server
	Port      int    `json:"port,omitempty"`
	StaticDir string `json:"static_dir,omitempty"` // Directory served as the static front end
	LogLevel  string `json:"log_level,omitempty"`

	// Storage
	DataDir     string `json:"data_dir,omitempty"`     // Directory holding the contribution and roster CSVs
	MarkersPath string `json:"markers_path,omitempty"` // Marker JSON array
	GroupsPath  string `json:"groups_path,omitempty"`  // Groupchat JSON array
	AccessFile  string `json:"access_file,omitempty"`  // Access-code table for the groupchat gate
	DatabaseURL string `json:"database_url,omitempty"` // Optional PostgreSQL mirror for contributions
	RedisURL    string `json:"redis_url,omitempty"`    // Optional Redis for cross-process fetch locks

	// Upstream APIs
	FECAPIKey  string `json:"fec_api_key,omitempty"`
	FECBaseURL string `json:"fec_base_url,omitempty"`
	MapAPIKey  string `json:"map_api_key,omitempty"`
	MapBaseURL string `json:"map_base_url,omitempty"`
	Cycle      int    `json:"cycle,omitempty"` // Election cycle / two-year transaction period

	// Google OAuth
	GoogleClientID     string `json:"google_client_id,omitempty"`
	GoogleClientSecret string `json:"google_client_secret,omitempty"`
	GoogleRedirectURL  string `json:"google_redirect_url,omitempty"`
}

// Load reads configuration from environment variables, applying defaults for
// anything unset. API keys are not required here; handlers fail at request time
// when a key they need is missing.
func Load() *Config {
	return &Config{
		Port:               getEnvInt("PORT", DefaultPort),
		StaticDir:          getEnvString("STATIC_DIR", DefaultStaticDir),
		LogLevel:           getEnvString("LOG_LEVEL", "info"),
		DataDir:            getEnvString("DATA_DIR", DefaultDataDir),
		MarkersPath:        getEnvString("MARKERS_PATH", DefaultMarkersPath),
		GroupsPath:         getEnvString("GROUPS_PATH", DefaultGroupsPath),
		AccessFile:         getEnvString("ACCESS_FILE", DefaultAccessFile),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		FECAPIKey:          os.Getenv("FEC_API_KEY"),
		FECBaseURL:         getEnvString("FEC_BASE_URL", DefaultFECBaseURL),
		MapAPIKey:          os.Getenv("MAP_API_KEY"),
		MapBaseURL:         getEnvString("MAP_BASE_URL", DefaultMapBaseURL),
		Cycle:              getEnvInt("FEC_CYCLE", DefaultCycle),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 0 and 65535")
	}
	if c.Cycle != 0 && (c.Cycle < 1980 || c.Cycle%2 != 0) {
		return fmt.Errorf("config error: 'cycle' must be an even year from 1980 on, got %d", c.Cycle)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config error: 'data_dir' is required")
	}
	if c.MarkersPath == "" {
		return fmt.Errorf("config error: 'markers_path' is required")
	}

	// A static path that exists must be a directory
	if c.StaticDir != "" {
		if info, err := os.Stat(c.StaticDir); err == nil && !info.IsDir() {
			return fmt.Errorf("config error: static_dir is not a directory: %s", c.StaticDir)
		}
	}

	return nil
}

// OAuthEnabled reports whether Google sign-in is configured.
func (c *Config) OAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// MergeWithDefaults returns a new Config with empty fields filled from defaults.
// The serve command uses it to fall back from a config file to the environment.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	mergeString(&result.StaticDir, defaults.StaticDir)
	mergeString(&result.LogLevel, defaults.LogLevel)
	mergeString(&result.DataDir, defaults.DataDir)
	mergeString(&result.MarkersPath, defaults.MarkersPath)
	mergeString(&result.GroupsPath, defaults.GroupsPath)
	mergeString(&result.AccessFile, defaults.AccessFile)
	mergeString(&result.DatabaseURL, defaults.DatabaseURL)
	mergeString(&result.RedisURL, defaults.RedisURL)
	mergeString(&result.FECAPIKey, defaults.FECAPIKey)
	mergeString(&result.FECBaseURL, defaults.FECBaseURL)
	mergeString(&result.MapAPIKey, defaults.MapAPIKey)
	mergeString(&result.MapBaseURL, defaults.MapBaseURL)
	mergeString(&result.GoogleClientID, defaults.GoogleClientID)
	mergeString(&result.GoogleClientSecret, defaults.GoogleClientSecret)
	mergeString(&result.GoogleRedirectURL, defaults.GoogleRedirectURL)

	// Int fields: use default if zero
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	if result.Cycle == 0 {
		if defaults.Cycle > 0 {
			result.Cycle = defaults.Cycle
		} else {
			result.Cycle = DefaultCycle
		}
	}

	return result
}

func mergeString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

// getEnvString gets an environment variable as a string with a default value.
func getEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
