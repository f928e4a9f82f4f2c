package main

import (
	"github.com/spf13/cobra"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

// newRootCmd creates the root chatagent command with all subcommands attached.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:           "chatagent",
		Short:         "Autonomous group chat agent",
		Long:          "chatagent decides whether to reply to, react to or ignore group chat messages.\nIt replays events through the agent pipeline and inspects its checkpoints.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML or TOML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(flags),
		newCheckpointCmd(flags),
		newConfigCmd(flags),
	)

	return cmd
}
