package turn

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/go-go-golems/mcpturn/pkg/conversation"
	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
)

// ErrModelInvocation is matched by every StageError.
var ErrModelInvocation = errors.New("model invocation failed")

// StageError aborts a turn. It is only returned when the model (or the
// preprocessor feeding it) fails; tool failures are part of the result.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("turn failed at stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return target == ErrModelInvocation && (e.Stage == StageModelInvoke || e.Stage == StageModelReinvoke)
}

// TurnState is owned by a single RunTurn call and discarded afterwards.
type TurnState struct {
	ID    uuid.UUID
	Stage Stage

	Messages      conversation.Conversation
	InputMessages conversation.Conversation

	FirstModelResponseText string
	ExtractedCalls         []tools.ValidatedToolCall
	Rejections             []tools.Rejection
	NeedsToolExecution     bool
	ExecutionResults       []tools.ToolExecutionResult
	FinalResponseText      string
}

func NewTurnState(messages conversation.Conversation) *TurnState {
	return &TurnState{
		ID:       uuid.New(),
		Stage:    StagePreprocess,
		Messages: messages.Clone(),
	}
}

// TurnResult is what a finished turn hands back to the caller.
type TurnResult struct {
	TurnID                 uuid.UUID                   `json:"turn_id" yaml:"turn_id"`
	FirstModelResponseText string                      `json:"first_response" yaml:"first_response"`
	FinalResponseText      string                      `json:"final_response" yaml:"final_response"`
	ExtractedCalls         []tools.ValidatedToolCall   `json:"extracted_calls" yaml:"extracted_calls"`
	ExecutionResults       []tools.ToolExecutionResult `json:"-" yaml:"-"`
	Rejections             []tools.Rejection           `json:"-" yaml:"-"`
}

func (s *TurnState) Result() *TurnResult {
	return &TurnResult{
		TurnID:                 s.ID,
		FirstModelResponseText: s.FirstModelResponseText,
		FinalResponseText:      s.FinalResponseText,
		ExtractedCalls:         s.ExtractedCalls,
		ExecutionResults:       s.ExecutionResults,
		Rejections:             s.Rejections,
	}
}
