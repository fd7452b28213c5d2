package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), []byte("a"), map[string]string{"subject_id": "AAAAAAAAAA"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), []byte("b"), nil)
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "AAAAAAAAAA", msgs[0].Attributes["subject_id"])

	msgs[0].Data = []byte("modified")
	require.Equal(t, "a", string(pub.Messages()[0].Data))
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("unavailable"))
	_, err := pub.Publish(context.Background(), []byte("a"), nil)
	require.ErrorContains(t, err, "unavailable")
	require.Empty(t, pub.Messages())
}
