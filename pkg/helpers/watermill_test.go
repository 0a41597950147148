package helpers

import (
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	messages []*message.Message
}

func (r *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	r.messages = append(r.messages, messages...)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func TestCorrelationPublisherDecorator(t *testing.T) {
	rec := &recordingPublisher{}
	p := CorrelationPublisherDecorator{Publisher: rec}

	withTurn := message.NewMessage(watermill.NewUUID(), nil)
	withTurn.Metadata.Set(TurnIDMetadataKey, "turn-1")
	preset := message.NewMessage(watermill.NewUUID(), nil)
	preset.Metadata.Set(CorrelationIDMetadataKey, "keep-me")
	bare := message.NewMessage(watermill.NewUUID(), nil)

	require.NoError(t, p.Publish("events", withTurn, preset, bare))
	require.Len(t, rec.messages, 3)
	assert.Equal(t, "turn-1", rec.messages[0].Metadata.Get(CorrelationIDMetadataKey))
	assert.Equal(t, "keep-me", rec.messages[1].Metadata.Get(CorrelationIDMetadataKey))
	assert.True(t, strings.HasPrefix(rec.messages[2].Metadata.Get(CorrelationIDMetadataKey), "gen_"))
}
