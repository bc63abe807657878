// Package crm creates contacts and opportunities in the HighLevel CRM for
// business-acquisition leads.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

// DefaultBaseURL is the HighLevel v1 REST API.
const DefaultBaseURL = "https://rest.gohighlevel.com/v1"

// SinkName is reported in dispatch results.
const SinkName = "crm"

// ErrNotBusiness is returned when a property lead reaches the CRM sink.
var ErrNotBusiness = errors.New("crm accepts business leads only")

// Config holds CRM credentials and placement.
type Config struct {
	APIKey     string
	LocationID string
	PipelineID string
	StageID    string
	BaseURL    string
	Timeout    time.Duration
}

// Contact is the CRM contact body.
type Contact struct {
	FirstName   string         `json:"firstName"`
	LastName    string         `json:"lastName"`
	Email       string         `json:"email"`
	Phone       string         `json:"phone"`
	CustomField map[string]any `json:"customField,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Notes       string         `json:"notes,omitempty"`
}

// Opportunity is the CRM opportunity body.
type Opportunity struct {
	Name            string         `json:"name"`
	PipelineID      string         `json:"pipelineId"`
	PipelineStageID string         `json:"pipelineStageId"`
	ContactID       string         `json:"contactId"`
	MonetaryValue   float64        `json:"monetaryValue,omitempty"`
	CustomFields    map[string]any `json:"customFields,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

// Client talks to the CRM API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client. The API key and location id are required.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.LocationID == "" {
		return nil, fmt.Errorf("crm api key and location id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}, nil
}

// Name implements dispatcher.Sink.
func (c *Client) Name() string { return SinkName }

// Deliver creates a contact and then an opportunity linked to it. A failed
// opportunity is logged only, since the contact already holds the lead.
func (c *Client) Deliver(ctx context.Context, env lead.Envelope) error {
	biz, ok := env.Submission.(*lead.Business)
	if !ok {
		return ErrNotBusiness
	}
	notes := formNotes(biz, env.Meta.ReceivedAt)
	contactID, err := c.CreateContact(ctx, Contact{
		FirstName: biz.FirstName,
		LastName:  biz.LastName,
		Email:     biz.Email,
		Phone:     biz.Phone,
		CustomField: map[string]any{
			"businessType":     biz.BusinessType,
			"annualRevenue":    biz.AnnualRevenue,
			"reasonForSelling": biz.ReasonForSelling,
			"timeline":         biz.Timeline,
			"leadId":           biz.LeadID,
		},
		Tags:  Tags(biz.ReasonForSelling),
		Notes: notes,
	})
	if err != nil {
		return err
	}

	_, err = c.CreateOpportunity(ctx, Opportunity{
		Name:            fmt.Sprintf("%s %s - %s", biz.FirstName, biz.LastName, biz.BusinessType),
		PipelineID:      c.cfg.PipelineID,
		PipelineStageID: c.cfg.StageID,
		ContactID:       contactID,
		CustomFields: map[string]any{
			"businessType":     biz.BusinessType,
			"annualRevenue":    biz.AnnualRevenue,
			"reasonForSelling": biz.ReasonForSelling,
			"timeline":         biz.Timeline,
			"submittedAt":      env.Meta.ReceivedAt.UTC().Format(time.RFC3339),
		},
		Notes: "Business Details:\n" + notes + "\n\nNext Steps: Schedule initial consultation call",
	})
	if err != nil {
		c.logger.Warn("crm opportunity failed; contact was created",
			zap.String("lead_id", biz.LeadID),
			zap.String("contact_id", contactID),
			zap.Error(err),
		)
	}
	return nil
}

// CreateContact creates a contact and returns its id.
func (c *Client) CreateContact(ctx context.Context, contact Contact) (string, error) {
	var out struct {
		Contact struct {
			ID string `json:"id"`
		} `json:"contact"`
	}
	body, err := withLocation(contact, c.cfg.LocationID)
	if err != nil {
		return "", fmt.Errorf("create contact: %w", err)
	}
	if err := c.post(ctx, "/contacts/", body, &out); err != nil {
		return "", fmt.Errorf("create contact: %w", err)
	}
	if out.Contact.ID == "" {
		return "", fmt.Errorf("create contact: response missing contact id")
	}
	return out.Contact.ID, nil
}

// CreateOpportunity creates an opportunity and returns its id.
func (c *Client) CreateOpportunity(ctx context.Context, opp Opportunity) (string, error) {
	var out struct {
		Opportunity struct {
			ID string `json:"id"`
		} `json:"opportunity"`
	}
	body, err := withLocation(opp, c.cfg.LocationID)
	if err != nil {
		return "", fmt.Errorf("create opportunity: %w", err)
	}
	if err := c.post(ctx, "/pipelines/opportunities/", body, &out); err != nil {
		return "", fmt.Errorf("create opportunity: %w", err)
	}
	if out.Opportunity.ID == "" {
		return "", fmt.Errorf("create opportunity: response missing opportunity id")
	}
	return out.Opportunity.ID, nil
}

// AddNote attaches a note to an existing contact.
func (c *Client) AddNote(ctx context.Context, contactID, note string) error {
	if contactID == "" {
		return fmt.Errorf("contact id is required")
	}
	body := map[string]string{"body": note, "userId": c.cfg.LocationID}
	if err := c.post(ctx, "/contacts/"+contactID+"/notes", body, nil); err != nil {
		return fmt.Errorf("add note: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// withLocation flattens v, which must encode as a JSON object, and adds locationId.
func withLocation(v any, locationID string) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("flatten body: %w", err)
	}
	out["locationId"] = locationID
	return out, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// Tags returns the fixed lead tags plus the kebab-cased selling reason.
func Tags(reason string) []string {
	tags := []string{"business-sellers", "business-acquisition", "web-lead"}
	if r := strings.TrimSpace(reason); r != "" {
		tags = append(tags, whitespace.ReplaceAllString(strings.ToLower(r), "-"))
	}
	return tags
}

func formNotes(biz *lead.Business, at time.Time) string {
	return fmt.Sprintf(`Business Seller Lead - Form Submission Details:

Business Type: %s
Annual Revenue: %s
Reason for Selling: %s
Timeline: %s

Submitted: %s
Lead ID: %s
Source: Business Acquisition Landing Page (/sell-your-business)`,
		biz.BusinessType, biz.AnnualRevenue, biz.ReasonForSelling, biz.Timeline,
		lead.FormatTimestamp(at), biz.LeadID)
}
