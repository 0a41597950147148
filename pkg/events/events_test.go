package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventFromJson_RoundTrip(t *testing.T) {
	meta := NewEventMetadata("turn-1")
	for _, e := range []Event{
		NewTurnStageEvent(meta, "extract"),
		NewToolCallRejectedEvent(meta, ToolCall{Name: "nope", Input: "{}"}, "unknown_tool", "tool not found"),
		NewToolCallExecuteEvent(meta, ToolCall{ID: "get_time:{}", Name: "get_time", Input: "{}"}),
		NewToolCallExecutionResultEvent(meta, ToolResult{ID: "get_time:{}", Name: "get_time", Result: "12:00", DurationMs: 3}),
		NewTurnFinalEvent(meta, "It is noon.", 1, 1200),
		NewErrorEvent(meta, "model-invoke", errors.New("down")),
	} {
		b, err := json.Marshal(e)
		require.NoError(t, err)

		decoded, err := NewEventFromJson(b)
		require.NoError(t, err)
		assert.Equal(t, e.Type(), decoded.Type())
		assert.Equal(t, meta.ID, decoded.Metadata().ID)
		assert.Equal(t, "turn-1", decoded.Metadata().TurnID)
		assert.Equal(t, b, decoded.Payload())
	}

	b, _ := json.Marshal(NewToolCallRejectedEvent(meta, ToolCall{Name: "nope"}, "unknown_tool", "tool not found"))
	decoded, err := NewEventFromJson(b)
	require.NoError(t, err)
	rejected, ok := decoded.(*EventToolCallRejected)
	require.True(t, ok)
	assert.Equal(t, "unknown_tool", rejected.Kind)
	assert.Equal(t, "nope", rejected.ToolCall.Name)

	_, err = NewEventFromJson([]byte("null"))
	assert.Error(t, err)

	unknown, err := NewEventFromJson([]byte(`{"type": "custom"}`))
	require.NoError(t, err)
	assert.Equal(t, EventType("custom"), unknown.Type())
}

func TestPublishEventToContext(t *testing.T) {
	var got []EventType
	ok := SinkFunc(func(e Event) error {
		got = append(got, e.Type())
		return nil
	})
	failing := SinkFunc(func(e Event) error { return errors.New("sink down") })

	ctx := WithEventSinks(context.Background(), failing)
	ctx = WithEventSinks(ctx, ok)
	assert.Len(t, GetEventSinks(ctx), 2)

	PublishEventToContext(ctx, NewTurnStageEvent(NewEventMetadata(""), "preprocess"))
	assert.Equal(t, []EventType{EventTypeTurnStage}, got)

	// no sinks is a no-op
	PublishEventToContext(context.Background(), NewTurnStageEvent(NewEventMetadata(""), "preprocess"))
	assert.Equal(t, WithEventSinks(context.Background()), context.Background())
}

func TestTurnIDFromContext(t *testing.T) {
	assert.Equal(t, "", TurnIDFromContext(context.Background()))
	assert.Equal(t, "abc", TurnIDFromContext(WithTurnID(context.Background(), "abc")))
}

func TestEventRouter_SinkHandler(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)

	received := make(chan Event, 4)
	router.AddSinkHandler("collect", "turn", SinkFunc(func(e Event) error {
		received <- e
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = router.Run(ctx)
	}()
	<-router.Running()
	defer func() {
		_ = router.Close()
	}()

	sink := NewWatermillSink(router.Publisher, "turn")
	require.NoError(t, sink.PublishEvent(NewTurnStageEvent(NewEventMetadata("turn-7"), "extract")))

	select {
	case e := <-received:
		stage, ok := e.(*EventTurnStage)
		require.True(t, ok)
		assert.Equal(t, "extract", stage.Stage)
		assert.Equal(t, "turn-7", stage.Metadata().TurnID)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestEventRouter_DumpRawEvents(t *testing.T) {
	var buf bytes.Buffer
	router, err := NewEventRouter(WithOutput(&buf))
	require.NoError(t, err)

	b, err := json.Marshal(NewTurnFinalEvent(NewEventMetadata("turn-1"), "done", 0, 10))
	require.NoError(t, err)
	require.NoError(t, router.DumpRawEvents(message.NewMessage(watermill.NewUUID(), b)))

	var dumped map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &dumped))
	assert.Equal(t, "turn-final", dumped["type"])
	assert.Equal(t, "done", dumped["text"])
	assert.NotContains(t, dumped, "meta")
	assert.NotEmpty(t, dumped["id"])
}
