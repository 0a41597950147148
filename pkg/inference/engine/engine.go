package engine

import (
	"context"

	"github.com/go-go-golems/mcpturn/pkg/conversation"
)

// Engine runs one chat completion over a conversation and returns the text
// of the assistant's reply. Tool calls are expected to be embedded in that
// text; engines never send provider-native tool definitions.
type Engine interface {
	RunInference(ctx context.Context, messages conversation.Conversation) (string, error)
}

// EngineFunc adapts a plain function to the Engine interface.
type EngineFunc func(ctx context.Context, messages conversation.Conversation) (string, error)

func (f EngineFunc) RunInference(ctx context.Context, messages conversation.Conversation) (string, error) {
	return f(ctx, messages)
}
