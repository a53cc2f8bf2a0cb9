package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/getmockd/vbackend/pkg/cli/internal/output"
	"github.com/getmockd/vbackend/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect server configuration",
	Long: `Inspect the configuration 'vbackend serve' would start with.

Examples:
  vbackend config show
  vbackend config show --config ./vbackend.yaml --json
  VBACKEND_STORE_BACKEND=sqlite vbackend config validate`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		if cfg.Snapshots.S3.SecretAccessKey != "" {
			cfg.Snapshots.S3.SecretAccessKey = "********"
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), cfg)
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if _, err := config.Load(configFile); err != nil {
			return err
		}
		if jsonOutput {
			return output.JSON(cmd.OutOrStdout(), map[string]any{"valid": true})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
