// Package events publishes a compact lead.captured event per lead.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

// SinkName is reported in dispatch results.
const SinkName = "events"

// EventName tags every published message.
const EventName = "lead.captured"

// Captured is the event body. It carries no contact details.
type Captured struct {
	LeadID      string    `json:"leadId"`
	Kind        lead.Kind `json:"kind"`
	ReceivedAt  time.Time `json:"receivedAt"`
	RequestID   string    `json:"requestId,omitempty"`
	UTMSource   string    `json:"utmSource,omitempty"`
	UTMCampaign string    `json:"utmCampaign,omitempty"`
	HasGCLID    bool      `json:"hasGclid"`
}

// Sink publishes lead events.
type Sink struct {
	pub lead.Publisher
}

// New builds an event sink over pub.
func New(pub lead.Publisher) (*Sink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &Sink{pub: pub}, nil
}

// Name implements dispatcher.Sink.
func (s *Sink) Name() string { return SinkName }

// Deliver publishes the event for env.
func (s *Sink) Deliver(ctx context.Context, env lead.Envelope) error {
	evt, err := NewCaptured(env)
	if err != nil {
		return err
	}
	if _, err := s.pub.Publish(ctx, EventName, evt); err != nil {
		return fmt.Errorf("publish %s: %w", EventName, err)
	}
	return nil
}

// NewCaptured builds the event for env.
func NewCaptured(env lead.Envelope) (Captured, error) {
	var attr lead.Attribution
	switch sub := env.Submission.(type) {
	case *lead.Property:
		attr = sub.Attribution
	case *lead.Business:
		attr = sub.Attribution
	default:
		return Captured{}, fmt.Errorf("unsupported submission %T", env.Submission)
	}
	return Captured{
		LeadID:      env.Submission.ID(),
		Kind:        env.Submission.Kind(),
		ReceivedAt:  env.Meta.ReceivedAt.UTC(),
		RequestID:   env.Meta.RequestID,
		UTMSource:   attr.UTMSource,
		UTMCampaign: attr.UTMCampaign,
		HasGCLID:    attr.GCLID != "",
	}, nil
}
