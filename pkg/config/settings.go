package config

import (
	"strings"
	"time"

	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
	"github.com/go-go-golems/mcpturn/pkg/mcp"
)

const (
	ApiTypeOpenAI = "openai"
	ApiTypeOllama = "ollama"

	ToolSourceMCP     = "mcp"
	ToolSourceBuiltin = "builtin"
)

type ChatSettings struct {
	ApiType     string        `yaml:"api-type" mapstructure:"api-type"`
	Engine      string        `yaml:"engine" mapstructure:"engine"`
	BaseURL     string        `yaml:"base-url,omitempty" mapstructure:"base-url"`
	APIKey      string        `yaml:"api-key,omitempty" mapstructure:"api-key"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `yaml:"max-tokens,omitempty" mapstructure:"max-tokens"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type ToolsSettings struct {
	// Source selects where tools come from: "mcp" or "builtin".
	Source           string `yaml:"source" mapstructure:"source"`
	tools.ToolConfig `yaml:",inline" mapstructure:",squash"`
}

type TurnSettings struct {
	SystemPrompt string `yaml:"system-prompt,omitempty" mapstructure:"system-prompt"`
	// ToolPrompt adds the tool usage instructions to the conversation.
	ToolPrompt          bool   `yaml:"tool-prompt" mapstructure:"tool-prompt"`
	FollowUpInstruction string `yaml:"follow-up-instruction,omitempty" mapstructure:"follow-up-instruction"`
}

type EventsSettings struct {
	// Print dumps every turn event to stdout.
	Print       bool   `yaml:"print" mapstructure:"print"`
	Verbose     bool   `yaml:"verbose" mapstructure:"verbose"`
	MetricsAddr string `yaml:"metrics-addr,omitempty" mapstructure:"metrics-addr"`
}

// Settings is the full configuration of mcpturn.
type Settings struct {
	Chat   ChatSettings   `yaml:"chat" mapstructure:"chat"`
	MCP    mcp.Config     `yaml:"mcp" mapstructure:"mcp"`
	Tools  ToolsSettings  `yaml:"tools" mapstructure:"tools"`
	Turn   TurnSettings   `yaml:"turn" mapstructure:"turn"`
	Events EventsSettings `yaml:"events" mapstructure:"events"`
}

func NewSettings() *Settings {
	m := mcp.DefaultConfig()
	return &Settings{
		Chat: ChatSettings{
			ApiType:     ApiTypeOpenAI,
			Engine:      "deepseek-chat",
			BaseURL:     "https://api.deepseek.com/v1",
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		MCP: m,
		Tools: ToolsSettings{
			Source:     ToolSourceMCP,
			ToolConfig: tools.DefaultToolConfig(),
		},
		Turn: TurnSettings{
			ToolPrompt: true,
		},
	}
}

// Defaults registers the default value of every key, so that environment
// variables are picked up for all of them.
func Defaults(v *viper.Viper) {
	s := NewSettings()

	v.SetDefault("chat.api-type", s.Chat.ApiType)
	v.SetDefault("chat.engine", s.Chat.Engine)
	v.SetDefault("chat.base-url", s.Chat.BaseURL)
	v.SetDefault("chat.api-key", s.Chat.APIKey)
	v.SetDefault("chat.temperature", s.Chat.Temperature)
	v.SetDefault("chat.max-tokens", s.Chat.MaxTokens)
	v.SetDefault("chat.timeout", s.Chat.Timeout)

	v.SetDefault("mcp.url", s.MCP.URL)
	v.SetDefault("mcp.protocol-version", s.MCP.ProtocolVersion)
	v.SetDefault("mcp.timeout", s.MCP.Timeout)
	v.SetDefault("mcp.max-retries", s.MCP.MaxRetries)
	v.SetDefault("mcp.retry-backoff", s.MCP.RetryBackoff)
	v.SetDefault("mcp.tools-cache-ttl", s.MCP.ToolsCacheTTL)
	v.SetDefault("mcp.client-name", s.MCP.ClientName)

	v.SetDefault("tools.source", s.Tools.Source)
	v.SetDefault("tools.marker", s.Tools.Marker)
	v.SetDefault("tools.string-aware-scan", s.Tools.StringAwareScan)
	v.SetDefault("tools.repair-fragments", s.Tools.RepairFragments)
	v.SetDefault("tools.schema-validation", s.Tools.SchemaValidation)
	v.SetDefault("tools.allowed-tools", []string{})
	v.SetDefault("tools.max-parallel-tools", s.Tools.MaxParallelTools)
	v.SetDefault("tools.execution-timeout", s.Tools.ExecutionTimeout)

	v.SetDefault("turn.system-prompt", s.Turn.SystemPrompt)
	v.SetDefault("turn.tool-prompt", s.Turn.ToolPrompt)
	v.SetDefault("turn.follow-up-instruction", s.Turn.FollowUpInstruction)

	v.SetDefault("events.print", s.Events.Print)
	v.SetDefault("events.verbose", s.Events.Verbose)
	v.SetDefault("events.metrics-addr", s.Events.MetricsAddr)
}

// ConfigureEnv makes every key overridable by MCPTURN_SECTION_KEY variables.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix("mcpturn")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
}

// Load decodes the settings held by v and validates them.
func Load(v *viper.Viper) (*Settings, error) {
	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, errors.Wrap(err, "could not decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	switch s.Chat.ApiType {
	case ApiTypeOpenAI, ApiTypeOllama:
	default:
		return errors.Errorf("unsupported chat.api-type %q (supported: %s, %s)", s.Chat.ApiType, ApiTypeOpenAI, ApiTypeOllama)
	}
	if s.Chat.Engine == "" {
		return errors.New("chat.engine cannot be empty")
	}
	switch s.Tools.Source {
	case ToolSourceMCP, ToolSourceBuiltin:
	default:
		return errors.Errorf("unsupported tools.source %q (supported: %s, %s)", s.Tools.Source, ToolSourceMCP, ToolSourceBuiltin)
	}
	if s.Tools.MaxParallelTools < 0 {
		return errors.New("tools.max-parallel-tools cannot be negative")
	}
	return nil
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}

// YAML renders the settings with secrets masked.
func (s *Settings) YAML() (string, error) {
	masked := s.Clone()
	if masked.Chat.APIKey != "" {
		masked.Chat.APIKey = "***"
	}
	b, err := yaml.Marshal(masked)
	if err != nil {
		return "", errors.Wrap(err, "could not render settings")
	}
	return string(b), nil
}
