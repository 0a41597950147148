package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/mcpturn/pkg/conversation"
	"github.com/go-go-golems/mcpturn/pkg/events"
	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
	"github.com/go-go-golems/mcpturn/pkg/inference/turn"
	"github.com/go-go-golems/mcpturn/pkg/metrics"
)

const chatHelp = `Commands:
  /tools        list the available tools
  /save <file>  write the conversation to a JSON file
  /exit         leave the chat
`

func NewChatCommand() *cobra.Command {
	var historyDir string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive multi-turn chat with tool calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(viper.GetViper())
			if err != nil {
				return err
			}

			backend, closeBackend, err := newToolBackend(s)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeBackend()
			}()

			orchestrator, err := newOrchestrator(s, backend)
			if err != nil {
				return err
			}

			var sinks []events.EventSink
			if s.Events.MetricsAddr != "" {
				reg := prometheus.NewRegistry()
				sink, err := metrics.NewSink(reg)
				if err != nil {
					return err
				}
				sinks = append(sinks, sink)
				stop := serveMetrics(s.Events.MetricsAddr, reg)
				defer stop()
			}

			ctx, cleanup, err := setupEvents(cmd.Context(), s, cmd.ErrOrStderr(), sinks...)
			if err != nil {
				return err
			}
			defer cleanup()

			managerOpts := []conversation.ManagerOption{
				conversation.WithMessages(initialConversation(s)...),
			}
			if historyDir != "" {
				managerOpts = append(managerOpts, conversation.WithAutosave(historyDir, ""))
			}
			manager := conversation.NewManager(managerOpts...)

			return chatLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), manager, orchestrator, backend)
		},
	}

	cmd.Flags().StringVar(&historyDir, "history-dir", "", "Autosave the conversation after every turn into this directory")
	cmd.Flags().String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	_ = viper.BindPFlag("events.metrics-addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func chatLoop(
	ctx context.Context,
	in io.Reader,
	out io.Writer,
	manager conversation.Manager,
	orchestrator *turn.Orchestrator,
	source tools.ToolSource,
) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	_, _ = fmt.Fprint(out, chatHelp)
	for {
		_, _ = fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			_, _ = fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			done, err := chatCommand(ctx, out, line, manager, source)
			if err != nil {
				_, _ = fmt.Fprintf(out, "error: %v\n", err)
			}
			if done {
				return nil
			}
			continue
		}

		manager.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, line))
		result, err := orchestrator.RunTurn(ctx, manager.GetConversation())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// the turn is lost but the session goes on
			log.Error().Err(err).Msg("turn failed")
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		manager.AppendMessages(conversation.NewChatMessage(
			conversation.RoleAssistant,
			result.FinalResponseText,
			conversation.WithMetadata(map[string]interface{}{
				"turn_id":    result.TurnID.String(),
				"tool_calls": len(result.ExecutionResults),
			}),
		))
		_, _ = fmt.Fprintln(out, result.FinalResponseText)
	}
}

func chatCommand(ctx context.Context, out io.Writer, line string, manager conversation.Manager, source tools.ToolSource) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit", "/quit":
		return true, nil
	case "/help":
		_, _ = fmt.Fprint(out, chatHelp)
	case "/tools":
		descriptors, err := source.ListTools(ctx)
		if err != nil {
			return false, err
		}
		for _, d := range descriptors {
			_, _ = fmt.Fprintf(out, "- %s: %s\n", d.Name, d.Description)
		}
	case "/save":
		if len(fields) != 2 {
			return false, errors.New("usage: /save <file>")
		}
		if err := manager.SaveToFile(fields[1]); err != nil {
			return false, err
		}
		_, _ = fmt.Fprintf(out, "saved to %s\n", fields[1])
	default:
		return false, errors.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
