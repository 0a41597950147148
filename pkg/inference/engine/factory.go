package engine

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/go-go-golems/mcpturn/pkg/config"
)

// NewEngineFromSettings creates the engine selected by settings.ApiType.
func NewEngineFromSettings(settings config.ChatSettings) (Engine, error) {
	switch strings.ToLower(settings.ApiType) {
	case config.ApiTypeOpenAI, "":
		return NewOpenAIEngine(settings)
	case config.ApiTypeOllama:
		return NewOllamaEngine(settings)
	default:
		return nil, errors.Errorf("unsupported provider %s", settings.ApiType)
	}
}
