// Package conversion uploads offline enhanced conversions for captured leads.
package conversion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

// SinkName is reported in dispatch results.
const SinkName = "conversion"

// DefaultAPIURL is the ads API version root.
const DefaultAPIURL = "https://googleads.googleapis.com/v15"

// Default conversion values when the lead's amount cannot be parsed.
const (
	DefaultPropertyValue = 250_000
	DefaultBusinessValue = 1_000_000
)

// IdentifierHasher hashes normalized user identifiers.
type IdentifierHasher interface {
	HashIdentifier(value string) string
}

// Config holds ads API credentials and conversion labels.
type Config struct {
	APIURL         string
	CustomerID     string
	APIKey         string
	DeveloperToken string
	PropertyLabel  string
	BusinessLabel  string
	Currency       string
	Timeout        time.Duration
}

// UserIdentifier is one hashed identifier.
type UserIdentifier struct {
	HashedEmail       string `json:"hashed_email,omitempty"`
	HashedPhoneNumber string `json:"hashed_phone_number,omitempty"`
	Source            string `json:"user_identifier_source"`
}

// Conversion is one offline conversion.
type Conversion struct {
	GCLID              string           `json:"gclid,omitempty"`
	OrderID            string           `json:"order_id"`
	ConversionAction   string           `json:"conversion_action"`
	ConversionDateTime string           `json:"conversion_date_time"`
	ConversionValue    float64          `json:"conversion_value"`
	CurrencyCode       string           `json:"currency_code"`
	UserIdentifiers    []UserIdentifier `json:"user_identifiers"`
}

// Payload is the upload request body.
type Payload struct {
	Conversions []Conversion `json:"conversions"`
}

// Sink uploads one conversion per lead.
type Sink struct {
	cfg    Config
	hasher IdentifierHasher
	http   *http.Client
}

// New builds a Sink. Customer id and API key are required.
func New(cfg Config, hasher IdentifierHasher) (*Sink, error) {
	if cfg.CustomerID == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("conversion customer id and api key are required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("identifier hasher is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Sink{cfg: cfg, hasher: hasher, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Name implements dispatcher.Sink.
func (s *Sink) Name() string { return SinkName }

// Deliver posts the conversion payload for env.
func (s *Sink) Deliver(ctx context.Context, env lead.Envelope) error {
	payload, err := s.Build(env)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal conversion payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/customers/%s:uploadOfflineUserDataJobs", s.cfg.APIURL, s.cfg.CustomerID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build conversion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", s.cfg.DeveloperToken)

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload conversion: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("conversion api status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Build assembles the upload payload with hashed identifiers.
func (s *Sink) Build(env lead.Envelope) (Payload, error) {
	var (
		label string
		value float64
		gclid string
	)
	switch sub := env.Submission.(type) {
	case *lead.Property:
		label, value, gclid = s.cfg.PropertyLabel, ParseValue(sub.Price, DefaultPropertyValue), sub.GCLID
	case *lead.Business:
		label, value, gclid = s.cfg.BusinessLabel, ParseValue(sub.AnnualRevenue, DefaultBusinessValue), sub.GCLID
	default:
		return Payload{}, fmt.Errorf("unsupported submission %T", env.Submission)
	}
	if label == "" {
		return Payload{}, fmt.Errorf("no conversion label for %s leads", env.Submission.Kind())
	}

	person := env.Submission.Person()
	ids := make([]UserIdentifier, 0, 2)
	if strings.TrimSpace(person.Email) != "" {
		ids = append(ids, UserIdentifier{HashedEmail: s.hasher.HashIdentifier(person.Email), Source: "FIRST_PARTY"})
	}
	if lead.Digits(person.Phone) != "" {
		ids = append(ids, UserIdentifier{
			HashedPhoneNumber: s.hasher.HashIdentifier(NormalizePhone(person.Phone)),
			Source:            "FIRST_PARTY",
		})
	}

	return Payload{Conversions: []Conversion{{
		GCLID:              gclid,
		OrderID:            env.Submission.ID(),
		ConversionAction:   fmt.Sprintf("customers/%s/conversionActions/%s", s.cfg.CustomerID, label),
		ConversionDateTime: env.Meta.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000") + "+00:00",
		ConversionValue:    value,
		CurrencyCode:       s.cfg.Currency,
		UserIdentifiers:    ids,
	}}}, nil
}

// NormalizePhone renders a phone as +<digits>, assuming +1 for ten-digit numbers.
func NormalizePhone(phone string) string {
	digits := lead.Digits(phone)
	if len(digits) == 10 {
		return "+1" + digits
	}
	return "+" + digits
}

// ParseValue reads the leading integer of s, returning fallback when there is
// none or it is zero.
func ParseValue(s string, fallback float64) float64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return fallback
	}
	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || n == 0 {
		return fallback
	}
	return n
}
