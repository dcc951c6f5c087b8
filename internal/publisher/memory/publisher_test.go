package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type batchEvent struct{ RunID string }

func (batchEvent) EventType() string { return "batch_persisted" }

func TestPublisherRecordsTopicAndType(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "vacancies", batchEvent{RunID: "r1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id)
	id, err = pub.Publish(context.Background(), "vacancies", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "batch_persisted", msgs[0].EventType)
	require.Empty(t, msgs[1].EventType)

	batches := pub.Events("batch_persisted")
	require.Len(t, batches, 1)
	require.Equal(t, batchEvent{RunID: "r1"}, batches[0].Payload)

	msgs[0].Topic = "modified"
	require.Equal(t, "vacancies", pub.Messages()[0].Topic)
}

func TestPublisherDefaultTopic(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "", 1)
	require.Error(t, err)

	pub := New("events")
	_, err = pub.Publish(context.Background(), "", 1)
	require.NoError(t, err)
	require.Equal(t, "events", pub.Messages()[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("broker down")
	pub.FailWith(boom)
	_, err := pub.Publish(context.Background(), "t", 1)
	require.ErrorIs(t, err, boom)

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "t", 1)
	require.NoError(t, err)
	require.Len(t, pub.Messages(), 1)
}
