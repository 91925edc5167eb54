// Package ratelimit throttles clients per route with token buckets.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Info describes a client's standing after a call to Allow.
type Info struct {
	Allowed    bool
	Tier       string
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

type bucket struct {
	tokens   *rate.Limiter
	capacity int
	lastSeen time.Time
}

// Limiter keeps one bucket per client and matched route.
type Limiter struct {
	cfg *Config
	now func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stop chan struct{}
	once sync.Once
}

// NewLimiter builds a Limiter and starts its sweeper. A nil config allows
// 1000 requests a minute per client and route.
func NewLimiter(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{
			Enabled:         true,
			Default:         Quota{Limit: 1000, Window: time.Minute},
			CleanupInterval: 5 * time.Minute,
		}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}

	l := &Limiter{
		cfg:     cfg,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	if cfg.Enabled && cfg.CleanupInterval > 0 {
		go l.sweepLoop(cfg.CleanupInterval)
	}
	return l
}

// Allow spends one token from the bucket for clientID on the route matching
// method and path.
func (l *Limiter) Allow(clientID, path, method string) (bool, Info) {
	switch {
	case !l.cfg.Enabled, l.cfg.Allowlist[clientID]:
		return true, Info{Allowed: true}
	case l.cfg.Blocklist[clientID]:
		return false, Info{}
	}

	rule, ok := Match(method, path, l.cfg.Rules)
	if !ok {
		rule = Rule{Path: path, Method: method, Quota: l.cfg.Default}
	}
	if rule.Limit <= 0 {
		return true, Info{Allowed: true, Tier: rule.Tier}
	}

	now := l.now()
	b := l.bucketFor(clientID+" "+method+" "+rule.Path, rule.Quota, now)

	allowed := b.tokens.AllowN(now, 1)
	left := b.tokens.TokensAt(now)
	info := Info{
		Allowed:   allowed,
		Tier:      rule.Tier,
		Limit:     rule.Limit,
		Remaining: max(0, int(left)),
		ResetTime: now.Add(refillTime(b.tokens, float64(b.capacity)-left)),
	}
	if !allowed {
		info.RetryAfter = refillTime(b.tokens, 1-left)
	}
	return allowed, info
}

// refillTime is how long the bucket takes to regain n tokens.
func refillTime(tokens *rate.Limiter, n float64) time.Duration {
	perSecond := float64(tokens.Limit())
	if n <= 0 || perSecond <= 0 {
		return 0
	}
	return time.Duration(n / perSecond * float64(time.Second))
}

func (l *Limiter) bucketFor(key string, q Quota, now time.Time) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:   rate.NewLimiter(rate.Every(q.Window/time.Duration(q.Limit)), q.capacity()),
			capacity: q.capacity(),
		}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b
}

func (l *Limiter) sweepLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			l.sweep(l.now().Add(-l.cfg.IdleTTL))
		case <-l.stop:
			return
		}
	}
}

// sweep drops buckets idle since before cutoff.
func (l *Limiter) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}
