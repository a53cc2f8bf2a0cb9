// Package cli implements the vbackend command line: the server itself and
// client commands that drive a running server through its admin API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getmockd/vbackend/pkg/config"
)

var (
	// Persistent flags available to all subcommands
	adminURL    string
	workspaceID string
	jsonOutput  bool

	// Version is injected during build
	Version = "dev"
	// Commit is injected during build
	Commit = "none"
	// BuildDate is injected during build
	BuildDate = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vbackend",
	Short: "vbackend is the shared virtual backend behind a multi-protocol mock server",
	Long: `vbackend keeps the entity state that REST, GraphQL, gRPC, MQTT, AMQP,
WebSocket and SMTP mocks read and write, so a record created over one
protocol is visible to all of them.

Run 'vbackend serve' to start the server. The other commands talk to a
running server through its admin API.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, FormatError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin-url", envOr("VBACKEND_ADMIN_URL", "http://"+config.DefaultAdminAddr), "Admin API base URL")
	rootCmd.PersistentFlags().StringVarP(&workspaceID, "workspace", "w", envOr("VBACKEND_WORKSPACE", "default"), "Workspace to operate on")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() *AdminClient {
	return NewAdminClient(adminURL)
}
