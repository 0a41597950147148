package cmds

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/mcpturn/pkg/inference/tools"
)

type extractOutput struct {
	Calls      []tools.RawToolCall       `yaml:"calls"`
	Validated  []tools.ValidatedToolCall `yaml:"validated,omitempty"`
	Rejections []rejectionSummary        `yaml:"rejections,omitempty"`
	Results    []callSummary             `yaml:"results,omitempty"`
	Response   string                    `yaml:"response,omitempty"`
}

func NewExtractCommand() *cobra.Command {
	var validate, execute, strip bool

	cmd := &cobra.Command{
		Use:   "extract [file]",
		Short: "Extract tool calls from a model response",
		Long: "Extract the tool calls marked in a model response read from a file or stdin. " +
			"With --validate the calls are checked against the configured tool source, " +
			"with --execute they are also run.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text []byte
			var err error
			if len(args) == 1 && args[0] != "-" {
				text, err = os.ReadFile(args[0])
			} else {
				text, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return errors.Wrap(err, "could not read input")
			}

			s, err := loadSettings(viper.GetViper())
			if err != nil {
				return err
			}
			extractor := s.Tools.NewExtractor()
			out := cmd.OutOrStdout()

			if strip {
				_, err = fmt.Fprintln(out, extractor.RemoveToolCallMarkers(string(text)))
				return err
			}

			ret := extractOutput{Calls: extractor.Extract(string(text))}
			if !validate && !execute {
				return writeYAML(out, ret)
			}

			backend, closeBackend, err := newToolBackend(s)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeBackend()
			}()

			ctx := cmd.Context()
			snapshot, err := tools.TakeSnapshot(ctx, backend)
			if err != nil {
				return err
			}
			validated, rejections := s.Tools.NewValidator().Validate(ret.Calls, snapshot)
			ret.Validated = validated
			ret.Rejections = summarizeRejections(rejections)

			if execute {
				results := s.Tools.NewExecutor().ExecuteAll(ctx, validated, backend)
				ret.Results = summarizeResults(results)
				ret.Response = extractor.SynthesizeResponse(string(text), results)
			}
			return writeYAML(out, ret)
		},
	}

	cmd.Flags().BoolVar(&validate, "validate", false, "Validate the calls against the tool source")
	cmd.Flags().BoolVar(&execute, "execute", false, "Validate and execute the calls")
	cmd.Flags().BoolVar(&strip, "strip", false, "Print the input with the tool call markers removed")
	return cmd
}
