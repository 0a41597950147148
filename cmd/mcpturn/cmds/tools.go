package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/mcpturn/pkg/config"
	"github.com/go-go-golems/mcpturn/pkg/mcp"
)

type toolSummary struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Required    []string `yaml:"required,omitempty"`
	Arguments   []string `yaml:"arguments,omitempty"`
}

func NewToolsCommand() *cobra.Command {
	var ping bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered by the configured tool source",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(viper.GetViper())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if ping {
				if s.Tools.Source != config.ToolSourceMCP {
					return errors.New("--ping needs tools.source=mcp")
				}
				if err := mcp.NewClient(s.MCP).Ping(ctx); err != nil {
					return errors.Wrapf(err, "mcp server %s is not healthy", s.MCP.URL)
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s is healthy\n", s.MCP.URL)
				return err
			}

			backend, closeBackend, err := newToolBackend(s)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeBackend()
			}()

			descriptors, err := backend.ListTools(ctx)
			if err != nil {
				return err
			}
			ret := make([]toolSummary, 0, len(descriptors))
			for _, d := range descriptors {
				ret = append(ret, toolSummary{
					Name:        d.Name,
					Description: d.Description,
					Required:    d.RequiredArguments,
					Arguments:   d.Properties(),
				})
			}
			return writeYAML(cmd.OutOrStdout(), ret)
		},
	}

	cmd.Flags().BoolVar(&ping, "ping", false, "Only check that the MCP server is reachable")
	return cmd
}
