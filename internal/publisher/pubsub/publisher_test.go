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

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return client, srv
}

func TestPublisherPublishesJSON(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)

	_, err := client.CreateTopic(ctx, "crawl-runs")
	require.NoError(t, err)

	pub, err := New(client, "crawl-runs")
	require.NoError(t, err)
	defer func() { require.NoError(t, pub.Close()) }()

	id, err := pub.Publish(ctx, "", map[string]any{"runId": "run-1", "newProperties": 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"runId":"run-1","newProperties":2}`, string(msgs[0].Data))
	require.Equal(t, "application/json", msgs[0].Attributes["content-type"])
}

func TestPublisherMissingTopic(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)

	pub, err := New(client, "does-not-exist")
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	_, err = pub.Publish(ctx, "", "payload")
	require.Error(t, err)
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil, "topic")
	require.Error(t, err)
}
