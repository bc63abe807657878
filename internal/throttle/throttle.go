// Package throttle limits form submissions per client address with token buckets.
package throttle

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/lead-intake/internal/cache"
	"github.com/JakeFAU/lead-intake/internal/lead"
	"github.com/JakeFAU/lead-intake/internal/metrics"
)

// UnknownAddress is the shared bucket for requests without an identifiable address.
const UnknownAddress = "unknown"

// Config holds throttle configuration.
type Config struct {
	// Requests is the quota per Window for one address.
	Requests int
	Window   time.Duration
	// MaxClients bounds how many address buckets are tracked at once.
	MaxClients int
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1 when denied.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Round(time.Millisecond).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Throttle manages per-address token buckets. Burst equals the quota and the
// bucket refills the full quota over one window.
type Throttle struct {
	mu      sync.Mutex
	buckets cache.Store[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
	clock   lead.Clock
}

// New creates a Throttle.
func New(cfg Config, clock lead.Clock) (*Throttle, error) {
	if cfg.Requests <= 0 {
		return nil, fmt.Errorf("throttle requests must be > 0")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("throttle window must be > 0")
	}
	if clock == nil {
		return nil, fmt.Errorf("throttle clock is required")
	}
	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = 10_000
	}
	// An idle bucket is full again after one window, so it can be dropped then.
	buckets, err := cache.NewTTL[string, *rate.Limiter](maxClients, cfg.Window, clock)
	if err != nil {
		return nil, fmt.Errorf("build throttle store: %w", err)
	}
	return &Throttle{
		buckets: buckets,
		limit:   rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds()),
		burst:   cfg.Requests,
		clock:   clock,
	}, nil
}

// Allow consumes one token for addr if available.
func (t *Throttle) Allow(addr string) Decision {
	key := strings.TrimSpace(addr)
	if key == "" {
		key = UnknownAddress
	}
	now := t.clock.Now()

	t.mu.Lock()
	limiter, ok := t.buckets.Get(key)
	if !ok {
		limiter = rate.NewLimiter(t.limit, t.burst)
	}
	t.buckets.Set(key, limiter)
	t.mu.Unlock()

	if limiter.AllowN(now, 1) {
		return Decision{Allowed: true}
	}
	deficit := 1 - limiter.TokensAt(now)
	if deficit < 0 {
		deficit = 0
	}
	metrics.ObserveThrottleRejection()
	return Decision{
		Allowed:    false,
		RetryAfter: time.Duration(deficit / float64(t.limit) * float64(time.Second)),
	}
}
