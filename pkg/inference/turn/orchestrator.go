package turn

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/mcpturn/pkg/conversation"
	"github.com/go-go-golems/mcpturn/pkg/events"
	"github.com/go-go-golems/mcpturn/pkg/inference/engine"
	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
)

// Orchestrator drives a turn through its stages: model invoke, extract,
// optional tool execution and model re-invoke.
type Orchestrator struct {
	engine  engine.Engine
	source  tools.ToolSource
	invoker tools.Invoker
	toolCfg tools.ToolConfig

	preprocessor Preprocessor
	followUp     *FollowUpBuilder

	extractor *tools.Extractor
	validator *tools.Validator
	executor  *tools.Executor
}

type Option func(*Orchestrator)

func WithEngine(eng engine.Engine) Option {
	return func(o *Orchestrator) { o.engine = eng }
}

// WithToolSource sets where the tool snapshot of each turn comes from. A
// source that is also an Invoker is used for execution unless WithInvoker
// says otherwise.
func WithToolSource(source tools.ToolSource) Option {
	return func(o *Orchestrator) { o.source = source }
}

func WithInvoker(invoker tools.Invoker) Option {
	return func(o *Orchestrator) { o.invoker = invoker }
}

func WithToolConfig(cfg tools.ToolConfig) Option {
	return func(o *Orchestrator) { o.toolCfg = cfg }
}

func WithPreprocessor(p Preprocessor) Option {
	return func(o *Orchestrator) { o.preprocessor = p }
}

func WithFollowUpInstruction(instruction string) Option {
	return func(o *Orchestrator) { o.followUp = NewFollowUpBuilder(instruction) }
}

func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		toolCfg:  tools.DefaultToolConfig(),
		followUp: NewFollowUpBuilder(""),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if o.invoker == nil {
		if inv, ok := o.source.(tools.Invoker); ok {
			o.invoker = inv
		}
	}
	if o.preprocessor == nil {
		o.preprocessor = NewToolPromptPreprocessor(o.toolCfg.Marker)
	}

	o.extractor = o.toolCfg.NewExtractor()
	o.validator = o.toolCfg.NewValidator()
	o.executor = o.toolCfg.NewExecutor()
	return o
}

// RunTurn runs one full turn over messages, which are not modified. The
// only errors returned are *StageError values for model failures; tool
// rejections and failures are reported in the result.
func (o *Orchestrator) RunTurn(ctx context.Context, messages conversation.Conversation) (*TurnResult, error) {
	if o == nil || o.engine == nil {
		return nil, errors.New("orchestrator has no engine")
	}

	start := time.Now()
	state := NewTurnState(messages)
	ctx = events.WithTurnID(ctx, state.ID.String())
	logger := log.With().Str("turn_id", state.ID.String()).Logger()

	snapshot := o.takeSnapshot(ctx)
	logger.Debug().Int("tools", snapshot.Len()).Msg("turn started")

	for stage := StagePreprocess; ; {
		state.Stage = stage
		events.PublishEventToContext(ctx, events.NewTurnStageEvent(o.metadata(ctx), stage.String()))
		logger.Debug().Str("stage", stage.String()).Msg("entering stage")

		next, err := o.step(ctx, state, snapshot)
		if err != nil {
			logger.Error().Err(err).Str("stage", stage.String()).Msg("turn aborted")
			events.PublishEventToContext(ctx, events.NewErrorEvent(o.metadata(ctx), stage.String(), err))
			return nil, err
		}
		if stage == StageFinalize {
			break
		}
		stage = next
	}

	duration := time.Since(start)
	events.PublishEventToContext(ctx, events.NewTurnFinalEvent(
		o.metadata(ctx), state.FinalResponseText, len(state.ExecutionResults), duration.Milliseconds(),
	))
	logger.Debug().
		Int("calls", len(state.ExtractedCalls)).
		Int("rejections", len(state.Rejections)).
		Dur("duration", duration).
		Msg("turn finished")

	return state.Result(), nil
}

func (o *Orchestrator) step(ctx context.Context, state *TurnState, snapshot *tools.Snapshot) (Stage, error) {
	switch state.Stage {
	case StagePreprocess:
		input, err := o.preprocessor.Preprocess(ctx, state.Messages, snapshot)
		if err != nil {
			return state.Stage, &StageError{Stage: state.Stage, Err: err}
		}
		state.InputMessages = input
		return StageModelInvoke, nil

	case StageModelInvoke:
		text, err := o.engine.RunInference(ctx, state.InputMessages)
		if err != nil {
			return state.Stage, &StageError{Stage: state.Stage, Err: err}
		}
		state.FirstModelResponseText = text
		return StageExtract, nil

	case StageExtract:
		raw := o.extractor.Extract(state.FirstModelResponseText)
		state.ExtractedCalls, state.Rejections = o.validator.Validate(raw, snapshot)
		for _, r := range state.Rejections {
			o.publishRejection(ctx, r)
		}
		state.NeedsToolExecution = len(state.ExtractedCalls) > 0
		return StageConditionalRoute, nil

	case StageConditionalRoute:
		if !state.NeedsToolExecution {
			state.FinalResponseText = state.FirstModelResponseText
			return StageFinalize, nil
		}
		return StageToolExecution, nil

	case StageToolExecution:
		state.ExecutionResults = o.executor.ExecuteAll(ctx, state.ExtractedCalls, o.invoker)
		return StageModelReinvoke, nil

	case StageModelReinvoke:
		input := o.followUp.Build(state.InputMessages, state.FirstModelResponseText, state.ExecutionResults)
		text, err := o.engine.RunInference(ctx, input)
		if err != nil {
			return state.Stage, &StageError{Stage: state.Stage, Err: err}
		}
		state.FinalResponseText = text
		return StageFinalize, nil

	case StageFinalize:
		return StageFinalize, nil
	}

	return state.Stage, errors.Errorf("unknown stage %d", state.Stage)
}

// takeSnapshot lists the tools once per turn. A failing source leaves the
// turn with no tools, so every extracted call is rejected as unknown.
func (o *Orchestrator) takeSnapshot(ctx context.Context) *tools.Snapshot {
	if o.source == nil {
		return tools.NewSnapshot(nil)
	}
	snapshot, err := tools.TakeSnapshot(ctx, o.source)
	if err != nil {
		log.Warn().Err(err).Msg("could not list tools, continuing without any")
		return tools.NewSnapshot(nil)
	}
	return snapshot
}

func (o *Orchestrator) publishRejection(ctx context.Context, r tools.Rejection) {
	input, _ := tools.CanonicalJSON(r.Call.Arguments)
	kind, reason := string(tools.ErrorKindMalformedFragment), ""
	if r.Err != nil {
		kind, reason = string(r.Err.Kind), r.Err.Message
	}
	events.PublishEventToContext(ctx, events.NewToolCallRejectedEvent(o.metadata(ctx), events.ToolCall{
		Name:  r.Call.Name,
		Input: input,
	}, kind, reason))
}

func (o *Orchestrator) metadata(ctx context.Context) events.EventMetadata {
	return events.NewEventMetadata(events.TurnIDFromContext(ctx))
}
