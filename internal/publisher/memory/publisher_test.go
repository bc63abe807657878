package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsEncodedEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "lead.captured", map[string]string{"leadId": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "lead.captured", map[string]string{"leadId": "b"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	events := pub.Events()
	require.Len(t, events, 2)
	require.Equal(t, "lead.captured", events[0].Name)
	require.JSONEq(t, `{"leadId":"b"}`, string(events[1].Data))

	events[0].Name = "modified"
	require.Equal(t, "lead.captured", pub.Events()[0].Name)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "lead.captured", make(chan int))
	require.Error(t, err)
	require.Empty(t, New().Events())
}

func TestPublisherKeepsMostRecentEvents(t *testing.T) {
	t.Parallel()

	pub := NewWithLimit(2)
	for _, id := range []string{"a", "b", "c"} {
		_, err := pub.Publish(context.Background(), "lead.captured", map[string]string{"leadId": id})
		require.NoError(t, err)
	}
	events := pub.Events()
	require.Len(t, events, 2)
	require.Equal(t, "memory-2", events[0].ID)
	require.Equal(t, "memory-3", events[1].ID)
}
