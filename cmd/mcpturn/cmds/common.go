package cmds

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/mcpturn/pkg/config"
	"github.com/go-go-golems/mcpturn/pkg/conversation"
	"github.com/go-go-golems/mcpturn/pkg/events"
	"github.com/go-go-golems/mcpturn/pkg/inference/engine"
	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
	"github.com/go-go-golems/mcpturn/pkg/inference/turn"
	"github.com/go-go-golems/mcpturn/pkg/mcp"
)

const eventsTopic = "turn-events"

// toolBackend is a tool source that can also invoke its tools.
type toolBackend interface {
	tools.ToolSource
	tools.Invoker
}

func newToolBackend(s *config.Settings) (toolBackend, func() error, error) {
	switch s.Tools.Source {
	case config.ToolSourceBuiltin:
		r := tools.NewInMemoryToolRegistry()
		if err := tools.RegisterBuiltins(r); err != nil {
			return nil, nil, err
		}
		return r, func() error { return nil }, nil
	case config.ToolSourceMCP:
		c := mcp.NewClient(s.MCP)
		return c, c.Close, nil
	default:
		return nil, nil, errors.Errorf("unsupported tool source %s", s.Tools.Source)
	}
}

func newOrchestrator(s *config.Settings, backend toolBackend) (*turn.Orchestrator, error) {
	eng, err := engine.NewEngineFromSettings(s.Chat)
	if err != nil {
		return nil, err
	}

	opts := []turn.Option{
		turn.WithEngine(eng),
		turn.WithToolSource(backend),
		turn.WithInvoker(backend),
		turn.WithToolConfig(s.Tools.ToolConfig),
		turn.WithFollowUpInstruction(s.Turn.FollowUpInstruction),
	}
	if !s.Turn.ToolPrompt {
		opts = append(opts, turn.WithPreprocessor(turn.Passthrough))
	}
	return turn.New(opts...), nil
}

// initialConversation starts a conversation with the configured system prompt.
func initialConversation(s *config.Settings) conversation.Conversation {
	if strings.TrimSpace(s.Turn.SystemPrompt) == "" {
		return conversation.Conversation{}
	}
	return conversation.Conversation{conversation.NewChatMessage(conversation.RoleSystem, s.Turn.SystemPrompt)}
}

// setupEvents routes the events of every turn run with the returned context
// through a watermill router: printed to out when events.print is set, and
// forwarded to the given sinks. The returned func shuts the router down.
func setupEvents(ctx context.Context, s *config.Settings, out io.Writer, sinks ...events.EventSink) (context.Context, func(), error) {
	if !s.Events.Print && len(sinks) == 0 {
		return ctx, func() {}, nil
	}

	router, err := events.NewEventRouter(events.WithVerbose(s.Events.Verbose), events.WithOutput(out))
	if err != nil {
		return nil, nil, err
	}
	if s.Events.Print {
		router.AddHandler("print", eventsTopic, router.DumpRawEvents)
	}
	for i, sink := range sinks {
		router.AddSinkHandler(fmt.Sprintf("sink-%d", i), eventsTopic, sink)
	}

	runCtx, cancel := context.WithCancel(ctx)
	eg := errgroup.Group{}
	eg.Go(func() error {
		return router.Run(runCtx)
	})
	<-router.Running()

	cleanup := func() {
		if err := router.Close(); err != nil {
			log.Warn().Err(err).Msg("could not close event router")
		}
		cancel()
		if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("event router stopped with an error")
		}
	}

	ctx = events.WithEventSinks(ctx, events.NewWatermillSink(router.Publisher, eventsTopic))
	return ctx, cleanup, nil
}
