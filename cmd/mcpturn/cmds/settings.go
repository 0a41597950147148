package cmds

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/mcpturn/pkg/config"
)

type settingsFlag struct {
	key   string
	flag  string
	usage string
	value interface{}
}

// AddSettingsFlags adds the persistent flags that override settings keys and
// binds them to v.
func AddSettingsFlags(root *cobra.Command, v *viper.Viper) error {
	d := config.NewSettings()
	flags := []settingsFlag{
		{"chat.api-type", "api-type", "Chat provider (openai, ollama)", d.Chat.ApiType},
		{"chat.engine", "engine", "Model name", d.Chat.Engine},
		{"chat.base-url", "base-url", "Base URL of the chat API", d.Chat.BaseURL},
		{"chat.api-key", "api-key", "API key of the chat API", ""},
		{"chat.temperature", "temperature", "Sampling temperature", d.Chat.Temperature},
		{"chat.max-tokens", "max-tokens", "Maximum tokens of a response (0 for provider default)", d.Chat.MaxTokens},
		{"mcp.url", "mcp-url", "Base URL of the MCP server", d.MCP.URL},
		{"tools.source", "tool-source", "Where tools come from (mcp, builtin)", d.Tools.Source},
		{"tools.max-parallel-tools", "max-parallel-tools", "Maximum tools running at once (0 for unbounded)", d.Tools.MaxParallelTools},
		{"tools.schema-validation", "schema-validation", "Validate call arguments against tool schemas", d.Tools.SchemaValidation},
		{"tools.repair-fragments", "repair-fragments", "Try to repair malformed tool call JSON", d.Tools.RepairFragments},
		{"tools.allowed-tools", "allowed-tools", "Only allow these tools (default all)", []string{}},
		{"turn.system-prompt", "system-prompt", "System prompt prepended to the conversation", ""},
		{"turn.tool-prompt", "tool-prompt", "Describe the available tools to the model", d.Turn.ToolPrompt},
		{"events.print", "print-events", "Print turn events as JSON", d.Events.Print},
	}

	pf := root.PersistentFlags()
	for _, f := range flags {
		switch value := f.value.(type) {
		case string:
			pf.String(f.flag, value, f.usage)
		case bool:
			pf.Bool(f.flag, value, f.usage)
		case int:
			pf.Int(f.flag, value, f.usage)
		case float64:
			pf.Float64(f.flag, value, f.usage)
		case []string:
			pf.StringSlice(f.flag, value, f.usage)
		}
		if err := v.BindPFlag(f.key, pf.Lookup(f.flag)); err != nil {
			return err
		}
	}
	return nil
}

// loadSettings decodes the settings from v. Without a configured key, the
// usual provider environment variables are used.
func loadSettings(v *viper.Viper) (*config.Settings, error) {
	s, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if s.Chat.APIKey == "" {
		for _, env := range []string{"DEEPSEEK_API_KEY", "OPENAI_API_KEY"} {
			if key := os.Getenv(env); key != "" {
				s.Chat.APIKey = key
				break
			}
		}
	}
	return s, nil
}
