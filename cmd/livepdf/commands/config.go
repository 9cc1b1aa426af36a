package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/livepdf/internal/config"
)

// NewConfigCommand creates the config subcommand group.
func NewConfigCommand(g *Globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(newConfigShowCommand(g))
	return cmd
}

func newConfigShowCommand(g *Globals) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration after defaults, file and environment are merged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			data, err := config.Encode(cfg, format)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	cmd.Flags().StringVar(&format, "format", "toml", "output format (toml, yaml)")

	return cmd
}
