// Package botcheck verifies reCAPTCHA v3 tokens.
package botcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultVerifyURL is Google's siteverify endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Config configures a Verifier.
type Config struct {
	SecretKey string
	VerifyURL string
	MinScore  float64
	Timeout   time.Duration
}

// Verifier checks attestation tokens against the verification service.
type Verifier struct {
	secret    string
	verifyURL string
	minScore  float64
	http      *http.Client
	logger    *zap.Logger
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// New builds a Verifier. An empty secret makes Verify allow everything.
func New(cfg Config, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = DefaultVerifyURL
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 0.5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Verifier{
		secret:    cfg.SecretKey,
		verifyURL: cfg.VerifyURL,
		minScore:  cfg.MinScore,
		http:      &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

// Verify reports whether token passes. Without a secret it fails open;
// with one, any error fails closed.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) bool {
	if v.secret == "" {
		v.logger.Warn("reCAPTCHA secret not configured; skipping verification")
		return true
	}
	res, err := v.check(ctx, token, remoteIP)
	if err != nil {
		v.logger.Warn("reCAPTCHA verification error", zap.Error(err))
		return false
	}
	if !res.Success || res.Score < v.minScore {
		v.logger.Info("reCAPTCHA rejected token",
			zap.Bool("success", res.Success),
			zap.Float64("score", res.Score),
			zap.Strings("error_codes", res.ErrorCodes),
		)
		return false
	}
	return true
}

func (v *Verifier) check(ctx context.Context, token, remoteIP string) (verifyResponse, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return verifyResponse{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.http.Do(req)
	if err != nil {
		return verifyResponse{}, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return verifyResponse{}, fmt.Errorf("verify status: %s", resp.Status)
	}
	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return verifyResponse{}, fmt.Errorf("decode verify response: %w", err)
	}
	return out, nil
}
