package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lead-intake/internal/lead"
	"github.com/JakeFAU/lead-intake/internal/publisher/memory"
)

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic not found")
}

func TestDeliverPublishesCompactEvent(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := New(pub)
	require.NoError(t, err)
	require.Equal(t, "events", sink.Name())

	env := lead.Envelope{
		Submission: &lead.Property{
			LeadID: "p-1", Email: "ada@example.com",
			Attribution: lead.Attribution{UTMSource: "google", GCLID: "g"},
		},
		Meta: lead.Meta{RequestID: "req-1", ReceivedAt: time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)},
	}
	require.NoError(t, sink.Deliver(context.Background(), env))

	events := pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, EventName, events[0].Name)
	require.JSONEq(t, `{
		"leadId":"p-1","kind":"property","receivedAt":"2024-03-09T14:05:06Z",
		"requestId":"req-1","utmSource":"google","hasGclid":true
	}`, string(events[0].Data))
	require.NotContains(t, string(events[0].Data), "ada@example.com")
}

func TestDeliverWrapsPublishErrors(t *testing.T) {
	t.Parallel()

	sink, err := New(failingPublisher{})
	require.NoError(t, err)
	err = sink.Deliver(context.Background(), lead.Envelope{Submission: &lead.Business{LeadID: "b-1"}})
	require.ErrorContains(t, err, "topic not found")

	require.Error(t, sink.Deliver(context.Background(), lead.Envelope{}))
	_, err = New(nil)
	require.Error(t, err)
}
