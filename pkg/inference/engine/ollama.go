package engine

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mcpturn/pkg/config"
	"github.com/go-go-golems/mcpturn/pkg/conversation"
)

const DefaultOllamaURL = "http://localhost:11434"

// OllamaEngine runs non-streaming chat requests against a local ollama server.
type OllamaEngine struct {
	settings config.ChatSettings
	client   *api.Client
}

func NewOllamaEngine(settings config.ChatSettings) (*OllamaEngine, error) {
	if settings.Engine == "" {
		return nil, errors.New("no chat engine specified")
	}

	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid ollama url %s", baseURL)
	}

	return &OllamaEngine{
		settings: settings,
		client:   api.NewClient(u, &http.Client{Timeout: settings.Timeout}),
	}, nil
}

func (e *OllamaEngine) RunInference(ctx context.Context, messages conversation.Conversation) (string, error) {
	ollamaMessages := []api.Message{}
	for _, m := range messages {
		if m == nil {
			continue
		}
		ollamaMessages = append(ollamaMessages, api.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	options := map[string]interface{}{
		"temperature": e.settings.Temperature,
	}
	if e.settings.MaxTokens > 0 {
		options["num_predict"] = e.settings.MaxTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model:    e.settings.Engine,
		Messages: ollamaMessages,
		Stream:   &stream,
		Options:  options,
	}

	log.Debug().Str("model", req.Model).Int("messages", len(ollamaMessages)).Msg("Ollama RunInference started")

	var message strings.Builder
	err := e.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		message.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "ollama chat failed")
	}

	return message.String(), nil
}
