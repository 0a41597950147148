package cmds

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/mcpturn/pkg/conversation"
	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
	"github.com/go-go-golems/mcpturn/pkg/inference/turn"
)

func NewRunCommand() *cobra.Command {
	var file string
	var showCalls bool

	cmd := &cobra.Command{
		Use:   "run [prompt...]",
		Short: "Run a single turn and print the final answer",
		Long: "Run a single turn: the model answers the prompt, the tool calls in its answer are executed " +
			"and the model answers again with the results. The prompt is read from the arguments, " +
			"from --file, or from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}

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

			ctx, cleanup, err := setupEvents(cmd.Context(), s, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer cleanup()

			messages := append(initialConversation(s), conversation.NewChatMessage(conversation.RoleUser, prompt))
			result, err := orchestrator.RunTurn(ctx, messages)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if showCalls {
				if err := printTurnSummary(out, result); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintln(out, result.FinalResponseText)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the prompt from a file (- for stdin)")
	cmd.Flags().BoolVar(&showCalls, "show-calls", false, "Print the extracted tool calls and their results")
	return cmd
}

func readPrompt(stdin io.Reader, file string, args []string) (string, error) {
	var b []byte
	var err error
	switch {
	case file == "-":
		b, err = io.ReadAll(stdin)
	case file != "":
		b, err = os.ReadFile(file)
	case len(args) > 0:
		return strings.Join(args, " "), nil
	default:
		b, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", errors.Wrap(err, "could not read prompt")
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}

type callSummary struct {
	Name      string                 `yaml:"name"`
	Arguments map[string]interface{} `yaml:"arguments"`
	Succeeded *bool                  `yaml:"succeeded,omitempty"`
	Output    string                 `yaml:"output,omitempty"`
	Error     string                 `yaml:"error,omitempty"`
	Duration  string                 `yaml:"duration,omitempty"`
}

type rejectionSummary struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"`
	Reason string `yaml:"reason"`
}

func summarizeResults(results []tools.ToolExecutionResult) []callSummary {
	ret := make([]callSummary, 0, len(results))
	for _, r := range results {
		succeeded := r.Succeeded
		c := callSummary{
			Name:      r.Call.Name,
			Arguments: r.Call.Arguments,
			Succeeded: &succeeded,
			Duration:  r.Duration.String(),
		}
		if r.Succeeded {
			c.Output = tools.OutputString(r.Output)
		} else if r.Err != nil {
			c.Error = r.Err.Error()
		}
		ret = append(ret, c)
	}
	return ret
}

func summarizeRejections(rejections []tools.Rejection) []rejectionSummary {
	ret := make([]rejectionSummary, 0, len(rejections))
	for _, r := range rejections {
		rs := rejectionSummary{Name: r.Call.Name}
		if r.Err != nil {
			rs.Kind = string(r.Err.Kind)
			rs.Reason = r.Err.Message
		}
		ret = append(ret, rs)
	}
	return ret
}

func printTurnSummary(w io.Writer, result *turn.TurnResult) error {
	summary := map[string]interface{}{
		"turn_id": result.TurnID.String(),
		"calls":   summarizeResults(result.ExecutionResults),
	}
	if len(result.Rejections) > 0 {
		summary["rejections"] = summarizeRejections(result.Rejections)
	}
	return writeYAML(w, summary)
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
