package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakePublisher(t *testing.T, topics ...string) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	p, err := Open(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	for _, id := range topics {
		_, err := p.client.CreateTopic(ctx, id)
		require.NoError(t, err)
	}
	return p, srv
}

func TestPublish(t *testing.T) {
	p, srv := newFakePublisher(t, "datasets")

	id, err := p.Publish(context.Background(), "datasets", map[string]any{"rows": 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"rows":3}`, string(msgs[0].Data))
	assert.Equal(t, EventDatasetRefreshed, msgs[0].Attributes[AttrEvent])
	assert.Equal(t, "application/json", msgs[0].Attributes[AttrContentType])
}

func TestPublishMissingTopic(t *testing.T) {
	p, _ := newFakePublisher(t)

	_, err := p.Publish(context.Background(), "nope", map[string]any{})
	require.Error(t, err)
}

func TestPublishValidation(t *testing.T) {
	p, _ := newFakePublisher(t, "datasets")

	_, err := p.Publish(context.Background(), "", map[string]any{})
	require.Error(t, err)

	_, err = p.Publish(context.Background(), "datasets", make(chan int))
	require.Error(t, err, "unmarshalable payload")

	_, err = (&Publisher{}).Publish(context.Background(), "datasets", nil)
	require.Error(t, err)

	_, err = Open(context.Background(), "")
	require.Error(t, err)
}
