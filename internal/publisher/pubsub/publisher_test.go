package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "lead-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return srv, client
}

func TestPublisherPublishesJSONWithEventAttribute(t *testing.T) {
	ctx := context.Background()
	srv, client := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "leads")
	require.NoError(t, err)

	pub, err := NewWithClient(ctx, client, "leads")
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "lead.captured", map[string]string{"leadId": "lead-1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"leadId":"lead-1"}`, string(msgs[0].Data))
	require.Equal(t, "lead.captured", msgs[0].Attributes["event"])

	require.NoError(t, pub.Close())
}

func TestNewWithClientRequiresExistingTopic(t *testing.T) {
	_, client := newFakeClient(t)
	t.Cleanup(func() { _ = client.Close() })

	_, err := NewWithClient(context.Background(), client, "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
	_, err = NewWithClient(context.Background(), nil, "leads")
	require.Error(t, err)
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "leads")
	require.NoError(t, err)
	pub, err := NewWithClient(ctx, client, "leads")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	_, err = pub.Publish(ctx, "lead.captured", make(chan int))
	require.Error(t, err)
}
