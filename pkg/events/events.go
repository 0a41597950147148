package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeTurnStage is emitted each time a turn enters a new stage.
	EventTypeTurnStage EventType = "turn-stage"

	// Model asked for a tool call that did not pass validation
	EventTypeToolCallRejected EventType = "tool-call-rejected"

	// Execution-phase events (we are actually executing tools locally)
	EventTypeToolCallExecute         EventType = "tool-call-execute"
	EventTypeToolCallExecutionResult EventType = "tool-call-execution-result"

	EventTypeTurnFinal EventType = "turn-final"
	EventTypeError     EventType = "error"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

// EventSink receives events published during a turn.
type EventSink interface {
	PublishEvent(event Event) error
}

type EventMetadata struct {
	ID     uuid.UUID `json:"message_id" yaml:"message_id" mapstructure:"message_id"`
	TurnID string    `json:"turn_id,omitempty" yaml:"turn_id,omitempty" mapstructure:"turn_id"`
	// Extra carries component specific values
	Extra map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

func NewEventMetadata(turnID string) EventMetadata {
	return EventMetadata{
		ID:     uuid.New(),
		TurnID: turnID,
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.TurnID != "" {
		e.Str("turn_id", em.TurnID)
	}
	if len(em.Extra) > 0 {
		e.Interface("extra", em.Extra)
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson), not further used
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

type EventTurnStage struct {
	EventImpl
	Stage string `json:"stage"`
}

func NewTurnStageEvent(metadata EventMetadata, stage string) *EventTurnStage {
	return &EventTurnStage{
		EventImpl: EventImpl{
			Type_:     EventTypeTurnStage,
			Metadata_: metadata,
		},
		Stage: stage,
	}
}

var _ Event = &EventTurnStage{}

type ToolCall struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

type ToolResult struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	// DurationMs is the wall time spent inside the tool invocation.
	DurationMs int64 `json:"duration_ms"`
}

type EventToolCallRejected struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
	// Kind is the validation failure, e.g. unknown_tool.
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

func NewToolCallRejectedEvent(metadata EventMetadata, toolCall ToolCall, kind string, reason string) *EventToolCallRejected {
	return &EventToolCallRejected{
		EventImpl: EventImpl{
			Type_:     EventTypeToolCallRejected,
			Metadata_: metadata,
		},
		ToolCall: toolCall,
		Kind:     kind,
		Reason:   reason,
	}
}

var _ Event = &EventToolCallRejected{}

// EventToolCallExecute captures the intent to execute a tool locally
type EventToolCallExecute struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallExecuteEvent(metadata EventMetadata, toolCall ToolCall) *EventToolCallExecute {
	return &EventToolCallExecute{
		EventImpl: EventImpl{
			Type_:     EventTypeToolCallExecute,
			Metadata_: metadata,
		},
		ToolCall: toolCall,
	}
}

var _ Event = &EventToolCallExecute{}

// EventToolCallExecutionResult captures the result of executing a tool locally
type EventToolCallExecutionResult struct {
	EventImpl
	ToolResult ToolResult `json:"tool_result"`
}

func NewToolCallExecutionResultEvent(metadata EventMetadata, toolResult ToolResult) *EventToolCallExecutionResult {
	return &EventToolCallExecutionResult{
		EventImpl: EventImpl{
			Type_:     EventTypeToolCallExecutionResult,
			Metadata_: metadata,
		},
		ToolResult: toolResult,
	}
}

var _ Event = &EventToolCallExecutionResult{}

type EventTurnFinal struct {
	EventImpl
	Text string `json:"text"`
	// ToolCalls is the number of tool calls executed during the turn.
	ToolCalls  int   `json:"tool_calls"`
	DurationMs int64 `json:"duration_ms"`
}

func NewTurnFinalEvent(metadata EventMetadata, text string, toolCalls int, durationMs int64) *EventTurnFinal {
	return &EventTurnFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeTurnFinal,
			Metadata_: metadata,
		},
		Text:       text,
		ToolCalls:  toolCalls,
		DurationMs: durationMs,
	}
}

var _ Event = &EventTurnFinal{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	Stage       string `json:"stage,omitempty"`
}

func NewErrorEvent(metadata EventMetadata, stage string, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
		Stage:       stage,
	}
}

var _ Event = &EventError{}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}

// NewEventFromJson decodes an event serialized by a sink back into its typed form.
func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errors.New("empty event payload")
	}

	e.payload = b

	var ret Event
	var ok bool
	switch e.Type_ {
	case EventTypeTurnStage:
		ret, ok = typed[EventTurnStage](e)
	case EventTypeToolCallRejected:
		ret, ok = typed[EventToolCallRejected](e)
	case EventTypeToolCallExecute:
		ret, ok = typed[EventToolCallExecute](e)
	case EventTypeToolCallExecutionResult:
		ret, ok = typed[EventToolCallExecutionResult](e)
	case EventTypeTurnFinal:
		ret, ok = typed[EventTurnFinal](e)
	case EventTypeError:
		ret, ok = typed[EventError](e)
	default:
		return e, nil
	}
	if !ok {
		return nil, fmt.Errorf("could not cast event to %s", e.Type_)
	}
	return ret, nil
}

// typed decodes the payload of e into T and keeps the raw payload around.
func typed[T any, PT interface {
	*T
	Event
	setPayload([]byte)
}](e *EventImpl) (Event, bool) {
	ret, ok := ToTypedEvent[T](e)
	if !ok || ret == nil {
		return nil, false
	}
	pt := PT(ret)
	pt.setPayload(e.payload)
	return pt, true
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}
