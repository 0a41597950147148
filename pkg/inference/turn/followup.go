package turn

import (
	"fmt"

	"github.com/go-go-golems/mcpturn/pkg/conversation"
	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
)

const DefaultFollowUpInstruction = "The tools have finished running. " +
	"Answer the user's question directly from the results above, in plain language. " +
	"Do not call any more tools and do not output tool call JSON."

// FollowUpBuilder assembles the model input of the second inference.
type FollowUpBuilder struct {
	Instruction string
}

func NewFollowUpBuilder(instruction string) *FollowUpBuilder {
	if instruction == "" {
		instruction = DefaultFollowUpInstruction
	}
	return &FollowUpBuilder{Instruction: instruction}
}

// Build returns a copy of input followed by the assistant's first response,
// one tool message per result in order, and the closing instruction.
func (b *FollowUpBuilder) Build(
	input conversation.Conversation,
	firstResponse string,
	results []tools.ToolExecutionResult,
) conversation.Conversation {
	ret := make(conversation.Conversation, 0, len(input)+len(results)+2)
	ret = append(ret, input...)
	ret = append(ret, conversation.NewChatMessage(conversation.RoleAssistant, firstResponse))

	for i, r := range results {
		ret = append(ret, conversation.NewChatMessage(
			conversation.RoleTool,
			toolMessage(i+1, r),
			conversation.WithMetadata(map[string]interface{}{
				"tool":      r.Call.Name,
				"succeeded": r.Succeeded,
			}),
		))
	}

	instruction := b.Instruction
	if instruction == "" {
		instruction = DefaultFollowUpInstruction
	}
	ret = append(ret, conversation.NewChatMessage(conversation.RoleUser, instruction))
	return ret
}

func toolMessage(n int, r tools.ToolExecutionResult) string {
	header := fmt.Sprintf("Tool %d: %s\nArguments: %s\n", n, r.Call.Name, r.Call.Identity.Arguments)
	if r.Succeeded {
		return fmt.Sprintf("%sStatus: succeeded (%.2fs)\nResult: %s", header, r.Duration.Seconds(), tools.OutputString(r.Output))
	}
	errText := "unknown error"
	if r.Err != nil {
		errText = r.Err.Error()
	}
	return fmt.Sprintf("%sStatus: failed (%.2fs)\nError: %s", header, r.Duration.Seconds(), errText)
}
