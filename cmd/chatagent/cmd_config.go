package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/chatagent/config"
)

const redacted = "***"

// newConfigCmd creates the "chatagent config" command group.
func newConfigCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(newConfigPrintCmd(flags))

	return cmd
}

func newConfigPrintCmd(flags *globalFlags) *cobra.Command {
	var (
		format      string
		showSecrets bool
	)

	cmd := &cobra.Command{
		Use:   "print",
		Short: "Print the configuration after file, environment and normalization",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return fmt.Errorf("config print: %w", err)
			}
			if !showSecrets {
				cfg = redact(cfg)
			}

			var out []byte
			switch format {
			case "yaml", "yml":
				out, err = yaml.Marshal(cfg)
			case "toml":
				out, err = toml.Marshal(cfg)
			default:
				return fmt.Errorf("config print: %w: unsupported format %q", config.ErrInvalid, format)
			}
			if err != nil {
				return fmt.Errorf("config print: %w", err)
			}

			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml or toml)")
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print API keys and tokens")

	return cmd
}

func redact(cfg *config.Config) *config.Config {
	c := cfg.Clone()
	if c.Provider.APIKey != "" {
		c.Provider.APIKey = redacted
	}
	if c.Platform.AccessToken != "" {
		c.Platform.AccessToken = redacted
	}
	if c.History.DatabaseURL != "" {
		c.History.DatabaseURL = redacted
	}
	return c
}
