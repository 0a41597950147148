package engine

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/mcpturn/pkg/config"
	"github.com/go-go-golems/mcpturn/pkg/conversation"
)

// OpenAIEngine talks to any OpenAI compatible chat completion endpoint,
// DeepSeek included.
type OpenAIEngine struct {
	settings config.ChatSettings
	client   *go_openai.Client
}

func NewOpenAIEngine(settings config.ChatSettings) (*OpenAIEngine, error) {
	if settings.Engine == "" {
		return nil, errors.New("no chat engine specified")
	}

	cfg := go_openai.DefaultConfig(settings.APIKey)
	if settings.BaseURL != "" {
		cfg.BaseURL = settings.BaseURL
	}
	if settings.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: settings.Timeout}
	}

	return &OpenAIEngine{
		settings: settings,
		client:   go_openai.NewClientWithConfig(cfg),
	}, nil
}

func (e *OpenAIEngine) RunInference(ctx context.Context, messages conversation.Conversation) (string, error) {
	req := go_openai.ChatCompletionRequest{
		Model:       e.settings.Engine,
		Messages:    makeOpenAIMessages(messages),
		Temperature: float32(e.settings.Temperature),
		MaxTokens:   e.settings.MaxTokens,
	}

	log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Msg("OpenAI RunInference started")

	resp, err := e.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "openai chat completion failed")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}

	log.Debug().
		Str("model", resp.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Msg("OpenAI RunInference finished")

	return resp.Choices[0].Message.Content, nil
}

// makeOpenAIMessages maps the conversation onto chat messages. Tool results
// are plain text here, not replies to native tool calls, so they are sent
// as user messages.
func makeOpenAIMessages(messages conversation.Conversation) []go_openai.ChatCompletionMessage {
	ret := make([]go_openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		ret = append(ret, go_openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}
	return ret
}

func openAIRole(role conversation.Role) string {
	switch role {
	case conversation.RoleSystem:
		return go_openai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant
	default:
		return go_openai.ChatMessageRoleUser
	}
}
