package ratelimit

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Tier names group routes that share a quota. A tier quota can be overridden
// with RATE_LIMIT_TIER_<NAME>, for example RATE_LIMIT_TIER_UPSTREAM=10/1h.
const (
	TierUpstream = "upstream"
	TierAccess   = "access"
	TierWrites   = "writes"
	TierAuth     = "auth"
)

// Quota is a token bucket budget: Limit requests per Window with at most
// Burst requests at once. A zero Limit means unlimited.
type Quota struct {
	Limit  int
	Window time.Duration
	Burst  int
}

func (q Quota) capacity() int {
	if q.Burst > 0 {
		return q.Burst
	}
	return q.Limit
}

// ParseQuota reads "limit/window", e.g. "30/1h". A trailing "+burst" sets the
// burst, e.g. "60/1m+10".
func ParseQuota(s string) (Quota, error) {
	s = strings.TrimSpace(s)
	var q Quota
	if head, burst, ok := strings.Cut(s, "+"); ok {
		n, err := strconv.Atoi(burst)
		if err != nil || n < 0 {
			return Quota{}, fmt.Errorf("invalid burst in quota %q", s)
		}
		q.Burst = n
		s = head
	}
	limit, window, ok := strings.Cut(s, "/")
	if !ok {
		return Quota{}, fmt.Errorf("quota %q must look like limit/window", s)
	}
	n, err := strconv.Atoi(limit)
	if err != nil || n < 0 {
		return Quota{}, fmt.Errorf("invalid limit in quota %q", s)
	}
	d, err := time.ParseDuration(window)
	if err != nil || d <= 0 {
		return Quota{}, fmt.Errorf("invalid window in quota %q", s)
	}
	q.Limit, q.Window = n, d
	return q, nil
}

// Rule applies a tier's quota to one route. A Path ending in "/" matches
// every path below it.
type Rule struct {
	Tier   string
	Method string
	Path   string
	Quota
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	Default         Quota
	CleanupInterval time.Duration
	IdleTTL         time.Duration
	Allowlist       map[string]bool
	Blocklist       map[string]bool
	Rules           []Rule
}

// DefaultTiers returns the built-in quota for each tier.
func DefaultTiers() map[string]Quota {
	return map[string]Quota{
		TierUpstream: {Limit: 30, Window: time.Hour, Burst: 5},
		TierAccess:   {Limit: 10, Window: time.Minute, Burst: 5},
		TierWrites:   {Limit: 60, Window: time.Minute, Burst: 10},
		TierAuth:     {Limit: 60, Window: time.Minute, Burst: 10},
	}
}

// DefaultRules binds the routes that call out to FEC, MapTiler or Google, or
// that write to disk, to their tiers. Everything else uses the default quota.
func DefaultRules(tiers map[string]Quota) []Rule {
	bind := func(tier, method, path string) Rule {
		return Rule{Tier: tier, Method: method, Path: path, Quota: tiers[tier]}
	}
	candidates := tiers[TierUpstream]
	candidates.Window = time.Minute
	return []Rule{
		bind(TierUpstream, "POST", "/api/fetch-contributions"),
		{Tier: TierUpstream, Method: "GET", Path: "/api/candidates", Quota: candidates},
		bind(TierAccess, "POST", "/check-email"),
		bind(TierWrites, "POST", "/api/save-markers"),
		bind(TierWrites, "POST", "/api/markers"),
		{Tier: TierWrites, Method: "POST", Path: "/api/groupchats", Quota: Quota{Limit: 20, Window: time.Minute, Burst: 5}},
		bind(TierWrites, "POST", "/api/get-address"),
		bind(TierAuth, "GET", "/auth/"),
	}
}

// LoadConfig reads RATE_LIMIT_* from the environment. Malformed values fall
// back to their defaults.
func LoadConfig() *Config {
	return loadConfig(os.LookupEnv)
}

func loadConfig(lookup func(string) (string, bool)) *Config {
	env := envReader(lookup)

	if !env.flag("RATE_LIMIT_ENABLED", true) {
		return &Config{}
	}

	def := Quota{
		Limit:  env.positive("RATE_LIMIT_DEFAULT_LIMIT", 1000),
		Window: env.duration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
	}
	def.Burst = def.Limit

	tiers := DefaultTiers()
	for name := range tiers {
		if q, ok := env.quota("RATE_LIMIT_TIER_" + strings.ToUpper(name)); ok {
			tiers[name] = q
		}
	}

	return &Config{
		Enabled:         true,
		Default:         def,
		CleanupInterval: env.duration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		IdleTTL:         env.duration("RATE_LIMIT_IDLE_TTL", time.Hour),
		Allowlist:       addrSet(env.get("RATE_LIMIT_ALLOWLIST")),
		Blocklist:       addrSet(env.get("RATE_LIMIT_BLOCKLIST")),
		Rules:           DefaultRules(tiers),
	}
}

type envReader func(string) (string, bool)

func (e envReader) get(key string) string {
	v, _ := e(key)
	return strings.TrimSpace(v)
}

func (e envReader) flag(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(e.get(key)); err == nil {
		return b
	}
	return fallback
}

func (e envReader) positive(key string, fallback int) int {
	if n, err := strconv.Atoi(e.get(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func (e envReader) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.get(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func (e envReader) quota(key string) (Quota, bool) {
	v := e.get(key)
	if v == "" {
		return Quota{}, false
	}
	q, err := ParseQuota(v)
	return q, err == nil
}

// addrSet splits a comma-separated address list.
func addrSet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, addr := range strings.Split(list, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			set[addr] = true
		}
	}
	return set
}
