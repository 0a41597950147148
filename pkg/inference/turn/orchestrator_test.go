package turn

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mcpturn/pkg/conversation"
	"github.com/go-go-golems/mcpturn/pkg/events"
	"github.com/go-go-golems/mcpturn/pkg/inference/engine"
	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
)

// scriptedEngine answers with the given responses in order and records the
// conversations it was called with.
type scriptedEngine struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	inputs    []conversation.Conversation
}

func (e *scriptedEngine) RunInference(_ context.Context, messages conversation.Conversation) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i := len(e.inputs)
	e.inputs = append(e.inputs, messages)
	if i < len(e.errs) && e.errs[i] != nil {
		return "", e.errs[i]
	}
	if i >= len(e.responses) {
		return "", errors.New("no scripted response left")
	}
	return e.responses[i], nil
}

var _ engine.Engine = (*scriptedEngine)(nil)

type CityInput struct {
	City string `json:"city"`
}

func newRegistry(t *testing.T, invocations *int32) *tools.InMemoryToolRegistry {
	t.Helper()
	r := tools.NewInMemoryToolRegistry()
	require.NoError(t, r.RegisterFunc("get_time", "Returns the current time", func(ctx context.Context) (string, error) {
		atomic.AddInt32(invocations, 1)
		return "12:00", nil
	}))
	require.NoError(t, r.RegisterFunc("weather", "Weather for a city", func(ctx context.Context, in CityInput) (string, error) {
		atomic.AddInt32(invocations, 1)
		if in.City == "Atlantis" {
			return "", errors.New("city not found")
		}
		return "sunny in " + in.City, nil
	}))
	return r
}

func userMessages(text string) conversation.Conversation {
	return conversation.Conversation{conversation.NewChatMessage(conversation.RoleUser, text)}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) PublishEvent(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *eventRecorder) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []string
	for _, e := range r.events {
		if s, ok := e.(*events.EventTurnStage); ok {
			ret = append(ret, s.Stage)
		}
	}
	return ret
}

func (r *eventRecorder) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []events.Event
	for _, e := range r.events {
		if e.Type() == t {
			ret = append(ret, e)
		}
	}
	return ret
}

func TestRunTurn_GetTimeEndToEnd(t *testing.T) {
	var invocations int32
	eng := &scriptedEngine{responses: []string{
		"Let me check.\n```json\n{\"tool_call\": {\"name\": \"get_time\", \"arguments\": {}}}\n```",
		"It is 12:00.",
	}}
	rec := &eventRecorder{}
	o := New(WithEngine(eng), WithToolSource(newRegistry(t, &invocations)))

	input := userMessages("What time is it?")
	ctx := events.WithEventSinks(context.Background(), rec)
	result, err := o.RunTurn(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, "It is 12:00.", result.FinalResponseText)
	require.Len(t, result.ExtractedCalls, 1)
	assert.Equal(t, "get_time", result.ExtractedCalls[0].Name)
	require.Len(t, result.ExecutionResults, 1)
	assert.True(t, result.ExecutionResults[0].Succeeded)
	assert.Equal(t, "12:00", result.ExecutionResults[0].Output)
	assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))

	require.Len(t, eng.inputs, 2)
	first := eng.inputs[0]
	require.Len(t, first, 2)
	assert.Equal(t, conversation.RoleSystem, first[0].Role)
	assert.Contains(t, first[0].Content, "get_time")

	second := eng.inputs[1]
	require.Len(t, second, 5)
	assert.Equal(t, conversation.RoleAssistant, second[2].Role)
	assert.Equal(t, conversation.RoleTool, second[3].Role)
	assert.Contains(t, second[3].Content, "get_time")
	assert.Contains(t, second[3].Content, "12:00")
	assert.Equal(t, conversation.RoleUser, second[4].Role)
	assert.Equal(t, DefaultFollowUpInstruction, second[4].Content)

	// the caller's conversation is left alone
	assert.Len(t, input, 1)

	assert.Equal(t, []string{
		"preprocess", "model-invoke", "extract", "conditional-route",
		"tool-execution", "model-reinvoke", "finalize",
	}, rec.stages())
	final := rec.ofType(events.EventTypeTurnFinal)
	require.Len(t, final, 1)
	assert.Equal(t, result.TurnID.String(), final[0].Metadata().TurnID)
	assert.Len(t, rec.ofType(events.EventTypeToolCallExecutionResult), 1)
}

func TestRunTurn_NoToolCall(t *testing.T) {
	var invocations int32
	eng := &scriptedEngine{responses: []string{"Hello there!"}}
	rec := &eventRecorder{}
	o := New(WithEngine(eng), WithToolSource(newRegistry(t, &invocations)))

	result, err := o.RunTurn(events.WithEventSinks(context.Background(), rec), userMessages("hi"))
	require.NoError(t, err)

	assert.Equal(t, "Hello there!", result.FinalResponseText)
	assert.Equal(t, result.FirstModelResponseText, result.FinalResponseText)
	assert.Empty(t, result.ExtractedCalls)
	assert.Empty(t, result.ExecutionResults)
	assert.Len(t, eng.inputs, 1)
	assert.Equal(t, int32(0), atomic.LoadInt32(&invocations))
	assert.Equal(t, []string{"preprocess", "model-invoke", "extract", "conditional-route", "finalize"}, rec.stages())
}

func TestRunTurn_DuplicateCallsRunOnce(t *testing.T) {
	var invocations int32
	eng := &scriptedEngine{responses: []string{
		`{"tool_call": {"name": "weather", "arguments": {"city": "Paris"}}}
and again {"tool_call": {"arguments": {"city": "Paris"}, "name": "weather"}}`,
		"Sunny.",
	}}
	o := New(WithEngine(eng), WithToolSource(newRegistry(t, &invocations)))

	result, err := o.RunTurn(context.Background(), userMessages("weather?"))
	require.NoError(t, err)
	require.Len(t, result.ExtractedCalls, 1)
	require.Len(t, result.ExecutionResults, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))
	assert.Equal(t, "Sunny.", result.FinalResponseText)
}

func TestRunTurn_ToolFailureIsReported(t *testing.T) {
	var invocations int32
	eng := &scriptedEngine{responses: []string{
		`{"tool_call": {"name": "weather", "arguments": {"city": "Lyon"}}}
{"tool_call": {"name": "weather", "arguments": {"city": "Atlantis"}}}
{"tool_call": {"name": "get_time", "arguments": {}}}`,
		"Lyon is sunny, Atlantis could not be found.",
	}}
	o := New(WithEngine(eng), WithToolSource(newRegistry(t, &invocations)))

	result, err := o.RunTurn(context.Background(), userMessages("weather?"))
	require.NoError(t, err)
	require.Len(t, result.ExecutionResults, 3)
	assert.True(t, result.ExecutionResults[0].Succeeded)
	assert.False(t, result.ExecutionResults[1].Succeeded)
	assert.True(t, errors.Is(result.ExecutionResults[1].Err, tools.ErrToolExecution))
	assert.True(t, result.ExecutionResults[2].Succeeded)

	second := eng.inputs[1]
	var toolMessages []string
	for _, m := range second {
		if m.Role == conversation.RoleTool {
			toolMessages = append(toolMessages, m.Content)
		}
	}
	require.Len(t, toolMessages, 3)
	assert.Contains(t, toolMessages[0], "sunny in Lyon")
	assert.Contains(t, toolMessages[1], "failed")
	assert.Contains(t, toolMessages[1], "city not found")
	assert.Contains(t, toolMessages[2], "12:00")
}

func TestRunTurn_RejectedCallsDoNotExecute(t *testing.T) {
	var invocations int32
	eng := &scriptedEngine{responses: []string{
		`{"tool_call": {"name": "launch_rockets", "arguments": {}}} {"tool_call": {"name": "weather", "arguments": {}}}`,
	}}
	rec := &eventRecorder{}
	o := New(WithEngine(eng), WithToolSource(newRegistry(t, &invocations)))

	result, err := o.RunTurn(events.WithEventSinks(context.Background(), rec), userMessages("go"))
	require.NoError(t, err)
	assert.Empty(t, result.ExtractedCalls)
	require.Len(t, result.Rejections, 2)
	assert.Equal(t, tools.ErrorKindUnknownTool, result.Rejections[0].Err.Kind)
	assert.Equal(t, tools.ErrorKindMissingRequiredArgument, result.Rejections[1].Err.Kind)
	assert.Equal(t, result.FirstModelResponseText, result.FinalResponseText)
	assert.Equal(t, int32(0), atomic.LoadInt32(&invocations))

	rejected := rec.ofType(events.EventTypeToolCallRejected)
	require.Len(t, rejected, 2)
	e, ok := rejected[0].(*events.EventToolCallRejected)
	require.True(t, ok)
	assert.Equal(t, "launch_rockets", e.ToolCall.Name)
	assert.Equal(t, string(tools.ErrorKindUnknownTool), e.Kind)
}

func TestRunTurn_ModelFailureIsFatal(t *testing.T) {
	boom := errors.New("upstream unavailable")

	t.Run("first invocation", func(t *testing.T) {
		var invocations int32
		eng := &scriptedEngine{errs: []error{boom}}
		rec := &eventRecorder{}
		o := New(WithEngine(eng), WithToolSource(newRegistry(t, &invocations)))

		result, err := o.RunTurn(events.WithEventSinks(context.Background(), rec), userMessages("hi"))
		require.Error(t, err)
		assert.Nil(t, result)

		var stageErr *StageError
		require.True(t, errors.As(err, &stageErr))
		assert.Equal(t, StageModelInvoke, stageErr.Stage)
		assert.True(t, errors.Is(err, ErrModelInvocation))
		assert.True(t, errors.Is(err, boom))
		assert.Len(t, rec.ofType(events.EventTypeError), 1)
		assert.Empty(t, rec.ofType(events.EventTypeTurnFinal))
	})

	t.Run("re-invocation", func(t *testing.T) {
		var invocations int32
		eng := &scriptedEngine{
			responses: []string{`{"tool_call": {"name": "get_time", "arguments": {}}}`},
			errs:      []error{nil, boom},
		}
		o := New(WithEngine(eng), WithToolSource(newRegistry(t, &invocations)))

		_, err := o.RunTurn(context.Background(), userMessages("time?"))
		var stageErr *StageError
		require.True(t, errors.As(err, &stageErr))
		assert.Equal(t, StageModelReinvoke, stageErr.Stage)
		assert.True(t, errors.Is(err, ErrModelInvocation))
		assert.Equal(t, int32(1), atomic.LoadInt32(&invocations))
	})
}

func TestRunTurn_ResultsFollowCallOrder(t *testing.T) {
	release := make(chan struct{})
	invoker := tools.InvokerFunc(func(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
		if args["city"] == "first" {
			<-release
		} else {
			defer close(release)
		}
		return args["city"], nil
	})
	source := tools.NewInMemoryToolRegistry()
	require.NoError(t, source.RegisterFunc("weather", "", func(in CityInput) string { return in.City }))

	eng := &scriptedEngine{responses: []string{
		`{"tool_call": {"name": "weather", "arguments": {"city": "first"}}} {"tool_call": {"name": "weather", "arguments": {"city": "second"}}}`,
		"done",
	}}
	o := New(WithEngine(eng), WithToolSource(source), WithInvoker(invoker))

	result, err := o.RunTurn(context.Background(), userMessages("go"))
	require.NoError(t, err)
	require.Len(t, result.ExecutionResults, 2)
	assert.Equal(t, "first", result.ExecutionResults[0].Output)
	assert.Equal(t, "second", result.ExecutionResults[1].Output)
}

type failingSource struct{}

func (failingSource) ListTools(context.Context) ([]tools.ToolDescriptor, error) {
	return nil, errors.New("registry down")
}

func TestRunTurn_ToolSourceFailureLeavesNoTools(t *testing.T) {
	eng := &scriptedEngine{responses: []string{`{"tool_call": {"name": "get_time", "arguments": {}}}`}}
	o := New(WithEngine(eng), WithToolSource(failingSource{}), WithPreprocessor(Passthrough))

	result, err := o.RunTurn(context.Background(), userMessages("time?"))
	require.NoError(t, err)
	require.Len(t, result.Rejections, 1)
	assert.Equal(t, tools.ErrorKindUnknownTool, result.Rejections[0].Err.Kind)
	require.Len(t, eng.inputs, 1)
	assert.Len(t, eng.inputs[0], 1)
}

func TestRunTurn_PreprocessorFailure(t *testing.T) {
	eng := &scriptedEngine{}
	o := New(WithEngine(eng), WithPreprocessor(PreprocessorFunc(
		func(context.Context, conversation.Conversation, *tools.Snapshot) (conversation.Conversation, error) {
			return nil, errors.New("template broken")
		})))

	_, err := o.RunTurn(context.Background(), userMessages("hi"))
	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StagePreprocess, stageErr.Stage)
	assert.False(t, errors.Is(err, ErrModelInvocation))
	assert.Empty(t, eng.inputs)
}

func TestRunTurn_CustomFollowUpInstruction(t *testing.T) {
	var invocations int32
	eng := &scriptedEngine{responses: []string{`{"tool_call": {"name": "get_time", "arguments": {}}}`, "ok"}}
	o := New(
		WithEngine(eng),
		WithToolSource(newRegistry(t, &invocations)),
		WithFollowUpInstruction("Answer in French."),
	)

	_, err := o.RunTurn(context.Background(), userMessages("time?"))
	require.NoError(t, err)
	last := eng.inputs[1][len(eng.inputs[1])-1]
	assert.Equal(t, "Answer in French.", last.Content)
}

func TestRunTurn_NoEngine(t *testing.T) {
	_, err := New().RunTurn(context.Background(), nil)
	assert.Error(t, err)
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "model-reinvoke", StageModelReinvoke.String())
	assert.Equal(t, "unknown", Stage(42).String())
	assert.True(t, strings.HasPrefix((&StageError{Stage: StageExtract, Err: errors.New("x")}).Error(), "turn failed at stage extract"))
}
