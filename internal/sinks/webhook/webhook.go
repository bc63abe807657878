// Package webhook posts lead payloads to JSON webhooks, such as the primary
// business-acquisition endpoint and the legacy automation hook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

const maxErrorBody = 512

// Config describes one webhook destination.
type Config struct {
	// Name is the sink name reported in dispatch results.
	Name    string
	URL     string
	Timeout time.Duration
}

// Sink delivers envelopes to a webhook URL.
type Sink struct {
	name   string
	url    string
	http   *http.Client
	logger *zap.Logger
}

// New builds a webhook sink. The URL is required.
func New(cfg Config, logger *zap.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("webhook %s: url is required", cfg.Name)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("webhook name is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{name: cfg.Name, url: cfg.URL, http: &http.Client{Timeout: timeout}, logger: logger}, nil
}

// Name implements dispatcher.Sink.
func (s *Sink) Name() string { return s.name }

// Deliver posts the payload and fails on transport errors and non-2xx replies.
func (s *Sink) Deliver(ctx context.Context, env lead.Envelope) error {
	payload, err := Payload(env)
	if err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if env.Meta.RequestID != "" {
		req.Header.Set("X-Request-ID", env.Meta.RequestID)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		reply := strings.TrimSpace(string(snippet))
		s.logger.Warn("webhook rejected lead",
			zap.String("sink", s.name),
			zap.String("lead_id", env.Submission.ID()),
			zap.Int("status", resp.StatusCode),
			zap.String("reply", reply))
		return fmt.Errorf("webhook status %s: %s", resp.Status, reply)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Payload is the submission's JSON fields plus formattedTimestamp, phoneRaw
// and fullName.
func Payload(env lead.Envelope) (map[string]any, error) {
	if env.Submission == nil {
		return nil, fmt.Errorf("envelope has no submission")
	}
	fields, err := lead.Fields(env.Submission)
	if err != nil {
		return nil, err
	}
	person := env.Submission.Person()
	fields["formattedTimestamp"] = lead.FormatTimestamp(env.Meta.ReceivedAt)
	fields["phoneRaw"] = lead.Digits(person.Phone)
	fields["fullName"] = person.FirstName + " " + person.LastName
	return fields, nil
}
