// Package phone validates and normalizes phone numbers, using an external
// lookup service when configured and a local heuristic otherwise.
package phone

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-intake/internal/cache"
	"github.com/JakeFAU/lead-intake/internal/lead"
	"github.com/JakeFAU/lead-intake/internal/metrics"
)

// Line types accepted from the lookup service.
var validLineTypes = map[string]struct{}{
	"mobile":               {},
	"fixed_line":           {},
	"fixed_line_or_mobile": {},
}

const (
	msgInvalidFormat = "Invalid phone number format"
	msgInvalid       = "Invalid phone number"
	msgBadLineType   = "Please provide a valid mobile or landline number"
	msgUnavailable   = "Phone validation service temporarily unavailable"
)

// Result is the outcome of validating one number.
type Result struct {
	Valid     bool
	Formatted string
	LineType  string
	Carrier   string
	Error     string
}

// Lookup is what an external service reports about a number.
type Lookup struct {
	Valid               bool
	InternationalFormat string
	LineType            string
	Carrier             string
}

// Client queries an external phone verification service.
type Client interface {
	Lookup(ctx context.Context, digits, country string) (Lookup, error)
}

// Config controls caching and defaults.
type Config struct {
	DefaultCountry string
	CacheTTL       time.Duration
	CacheSize      int
}

// Validator validates phones through a TTL cache.
type Validator struct {
	client         Client
	cache          cache.Store[string, Result]
	defaultCountry string
	logger         *zap.Logger
}

// New builds a Validator. A nil client selects the heuristic only.
func New(cfg Config, client Client, clock lead.Clock, logger *zap.Logger) (*Validator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 10_000
	}
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = "US"
	}
	store, err := cache.NewTTL[string, Result](cfg.CacheSize, cfg.CacheTTL, clock)
	if err != nil {
		return nil, fmt.Errorf("build phone cache: %w", err)
	}
	if client == nil {
		logger.Warn("phone lookup service not configured; using local heuristic only")
	}
	return &Validator{
		client:         client,
		cache:          store,
		defaultCountry: cfg.DefaultCountry,
		logger:         logger,
	}, nil
}

// Validate checks phone for country, serving repeated lookups from the cache.
func (v *Validator) Validate(ctx context.Context, phone, country string) Result {
	if country == "" {
		country = v.defaultCountry
	}
	key := phone + "-" + country
	if cached, ok := v.cache.Get(key); ok {
		metrics.ObservePhoneCache(true)
		return cached
	}
	metrics.ObservePhoneCache(false)

	result, cacheable := v.validate(ctx, phone, country)
	if cacheable {
		v.cache.Set(key, result)
	}
	return result
}

func (v *Validator) validate(ctx context.Context, phone, country string) (Result, bool) {
	digits := lead.Digits(phone)
	if v.client == nil {
		return Heuristic(phone), true
	}
	found, err := v.client.Lookup(ctx, digits, country)
	if err != nil {
		v.logger.Warn("phone lookup failed; falling back to heuristic", zap.Error(err))
		fallback := Heuristic(phone)
		fallback.Error = msgUnavailable
		return fallback, false
	}
	_, lineOK := validLineTypes[strings.ToLower(found.LineType)]
	result := Result{
		Valid:     found.Valid && lineOK,
		Formatted: found.InternationalFormat,
		LineType:  found.LineType,
		Carrier:   found.Carrier,
	}
	if result.Formatted == "" {
		result.Formatted = phone
	}
	switch {
	case !found.Valid:
		result.Error = msgInvalid
	case !lineOK:
		result.Error = msgBadLineType
	}
	return result, true
}

// Heuristic accepts exactly ten digits whose area code starts with 2-9 and
// formats valid numbers as +1XXXXXXXXXX.
func Heuristic(phone string) Result {
	digits := lead.Digits(phone)
	if len(digits) != 10 || digits[0] < '2' || digits[0] > '9' {
		return Result{Valid: false, Formatted: phone, LineType: "unknown", Error: msgInvalidFormat}
	}
	return Result{Valid: true, Formatted: "+1" + digits, LineType: "unknown"}
}
