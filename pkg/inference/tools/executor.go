package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/mcpturn/pkg/events"
)

// Executor runs validated calls concurrently against an Invoker. A failing
// call never cancels its siblings, and results come back in input order.
type Executor struct {
	maxParallel int
	callTimeout time.Duration
}

type ExecutorOption func(*Executor)

// WithMaxParallel bounds the number of in-flight invocations. Zero means unbounded.
func WithMaxParallel(n int) ExecutorOption {
	return func(e *Executor) {
		e.maxParallel = n
	}
}

// WithCallTimeout bounds each invocation. Zero leaves timeouts to the Invoker.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.callTimeout = d
	}
}

func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExecuteAll runs calls with the default executor.
func ExecuteAll(ctx context.Context, calls []ValidatedToolCall, invoker Invoker) []ToolExecutionResult {
	return NewExecutor().ExecuteAll(ctx, calls, invoker)
}

// ExecuteAll dispatches every call and waits for all of them. The returned
// slice has one entry per call, at the same index.
func (e *Executor) ExecuteAll(ctx context.Context, calls []ValidatedToolCall, invoker Invoker) []ToolExecutionResult {
	results := make([]ToolExecutionResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	// no WithContext: one failed call must not cancel the others
	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}

	for i := range calls {
		i := i
		g.Go(func() error {
			results[i] = e.executeOne(ctx, calls[i], invoker)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Executor) executeOne(ctx context.Context, call ValidatedToolCall, invoker Invoker) (result ToolExecutionResult) {
	start := time.Now()
	result.Call = call

	meta := events.NewEventMetadata(events.TurnIDFromContext(ctx))
	events.PublishEventToContext(ctx, events.NewToolCallExecuteEvent(meta, events.ToolCall{
		ID:    call.Identity.String(),
		Name:  call.Name,
		Input: call.Identity.Arguments,
	}))

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("tool", call.Name).Interface("panic", r).Msg("tools: invocation panicked")
			result.Output = nil
			result.Succeeded = false
			result.Err = newToolError(ErrorKindExecution, call.Name, nil, "panic: %v", r)
		}
		result.Duration = time.Since(start)
		e.publishResult(ctx, result)
	}()

	if invoker == nil {
		result.Err = newToolError(ErrorKindExecution, call.Name, nil, "no invoker configured")
		return result
	}

	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	log.Debug().Str("tool", call.Name).Str("arguments", call.Identity.Arguments).Msg("tools: invoking")
	output, err := invoker.InvokeTool(callCtx, call.Name, call.Arguments)
	if err != nil {
		result.Err = classifyError(callCtx, call.Name, err)
		log.Debug().Err(err).Str("tool", call.Name).Msg("tools: invocation failed")
		return result
	}

	result.Output = output
	result.Succeeded = true
	return result
}

func (e *Executor) publishResult(ctx context.Context, result ToolExecutionResult) {
	payload := events.ToolResult{
		ID:         result.Call.Identity.String(),
		Name:       result.Call.Name,
		DurationMs: result.Duration.Milliseconds(),
	}
	if result.Succeeded {
		payload.Result = OutputString(result.Output)
	} else if result.Err != nil {
		payload.Error = result.Err.Error()
	}
	meta := events.NewEventMetadata(events.TurnIDFromContext(ctx))
	events.PublishEventToContext(ctx, events.NewToolCallExecutionResultEvent(meta, payload))
}

func classifyError(ctx context.Context, name string, err error) error {
	var te *ToolError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newToolError(ErrorKindTimeout, name, err, "%s", err.Error())
	}
	return newToolError(ErrorKindExecution, name, err, "%s", err.Error())
}

// OutputString renders a tool output for messages and events. Strings are
// used as is, everything else is serialized as JSON.
func OutputString(output interface{}) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(output)
	if err != nil {
		return fmt.Sprintf("%v", output)
	}
	return string(b)
}
