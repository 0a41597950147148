package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mcpturn/pkg/conversation"
	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
)

// Preprocessor turns the caller's messages into the model input of a turn.
type Preprocessor interface {
	Preprocess(ctx context.Context, messages conversation.Conversation, snapshot *tools.Snapshot) (conversation.Conversation, error)
}

type PreprocessorFunc func(ctx context.Context, messages conversation.Conversation, snapshot *tools.Snapshot) (conversation.Conversation, error)

func (f PreprocessorFunc) Preprocess(ctx context.Context, messages conversation.Conversation, snapshot *tools.Snapshot) (conversation.Conversation, error) {
	return f(ctx, messages, snapshot)
}

// Passthrough sends the messages to the model unchanged.
var Passthrough Preprocessor = PreprocessorFunc(func(_ context.Context, messages conversation.Conversation, _ *tools.Snapshot) (conversation.Conversation, error) {
	return messages, nil
})

const DefaultRolePrompt = "You are a helpful assistant that can use tools."

// ToolPromptPreprocessor adds a system message describing the call format
// and the tools of the snapshot. It goes right after a leading system
// message, or first when there is none (prefixed with RolePrompt).
type ToolPromptPreprocessor struct {
	Marker     string
	RolePrompt string
}

func NewToolPromptPreprocessor(marker string) *ToolPromptPreprocessor {
	if marker == "" {
		marker = tools.DefaultMarker
	}
	return &ToolPromptPreprocessor{Marker: marker, RolePrompt: DefaultRolePrompt}
}

func (p *ToolPromptPreprocessor) Preprocess(_ context.Context, messages conversation.Conversation, snapshot *tools.Snapshot) (conversation.Conversation, error) {
	prompt := p.BuildPrompt(snapshot.Tools())

	ret := make(conversation.Conversation, 0, len(messages)+1)
	if len(messages) > 0 && messages[0] != nil && messages[0].Role == conversation.RoleSystem {
		ret = append(ret, messages[0], conversation.NewChatMessage(conversation.RoleSystem, prompt))
		ret = append(ret, messages[1:]...)
		return ret, nil
	}

	if p.RolePrompt != "" {
		prompt = p.RolePrompt + "\n\n" + prompt
	}
	ret = append(ret, conversation.NewChatMessage(conversation.RoleSystem, prompt))
	ret = append(ret, messages...)
	return ret, nil
}

// BuildPrompt renders the tool usage instructions for the given tools.
func (p *ToolPromptPreprocessor) BuildPrompt(descriptors []tools.ToolDescriptor) string {
	marker := p.Marker
	if marker == "" {
		marker = tools.DefaultMarker
	}

	var sb strings.Builder
	sb.WriteString("When you need live information or want to perform an action, call one of the tools below.\n\n")
	sb.WriteString("## Tool call format\n\n")
	sb.WriteString("Include a JSON object of exactly this shape in your reply:\n\n")
	fmt.Fprintf(&sb, "```json\n{\n  %q: {\n    \"name\": \"<tool name>\",\n    \"arguments\": {\"<argument>\": \"<value>\"}\n  }\n}\n```\n\n", marker)
	sb.WriteString("You may explain what you are doing before the call. ")
	sb.WriteString("Once the tools have run you will get their results and should answer from them.")

	if len(descriptors) == 0 {
		sb.WriteString("\n\nNo tools are currently available, answer from your own knowledge.")
		return sb.String()
	}

	sb.WriteString("\n\n## Available tools\n")
	for _, d := range descriptors {
		sb.WriteString("\n- **" + d.Name + "**")
		if d.Description != "" {
			sb.WriteString(": " + d.Description)
		}
		if len(d.RequiredArguments) > 0 {
			sb.WriteString(" (required: " + backquoted(d.RequiredArguments) + ")")
		}
		if optional := optionalArguments(d); len(optional) > 0 {
			sb.WriteString(" (optional: " + backquoted(optional) + ")")
		}
	}

	example := descriptors[0]
	sb.WriteString("\n\n## Example\n\n")
	fmt.Fprintf(&sb, "Calling %s:\n```json\n%s\n```", example.Name, exampleCall(marker, example))

	return sb.String()
}

func backquoted(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "`" + n + "`"
	}
	return strings.Join(quoted, ", ")
}

func optionalArguments(d tools.ToolDescriptor) []string {
	required := map[string]bool{}
	for _, r := range d.RequiredArguments {
		required[r] = true
	}
	var ret []string
	for _, p := range d.Properties() {
		if !required[p] {
			ret = append(ret, p)
		}
	}
	return ret
}

// exampleCall builds a call with a placeholder for every required argument.
func exampleCall(marker string, d tools.ToolDescriptor) string {
	types := map[string]string{}
	var schema struct {
		Properties map[string]struct {
			Type interface{} `json:"type"`
		} `json:"properties"`
	}
	if len(d.InputSchema) > 0 {
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			log.Debug().Err(err).Str("tool", d.Name).Msg("could not read tool schema for the example call")
		}
	}
	for name, prop := range schema.Properties {
		if t, ok := prop.Type.(string); ok {
			types[name] = t
		}
	}

	args := map[string]interface{}{}
	for _, name := range d.RequiredArguments {
		switch types[name] {
		case "integer":
			args[name] = 1
		case "number":
			args[name] = 1.5
		case "boolean":
			args[name] = true
		default:
			args[name] = "example"
		}
	}

	b, err := json.Marshal(map[string]interface{}{
		marker: map[string]interface{}{
			"name":      d.Name,
			"arguments": args,
		},
	})
	if err != nil {
		return fmt.Sprintf(`{%q: {"name": %q, "arguments": {}}}`, marker, d.Name)
	}
	return string(b)
}
