package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/getmockd/vbackend/pkg/config"
	"github.com/getmockd/vbackend/pkg/store"
)

var (
	configFile     string
	serveAddr      string
	serveStore     string
	serveSnapshots string
	serveSeed      string
	serveLogLevel  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the virtual backend server",
	Long: `Start the virtual backend and its admin API.

Configuration is read from vbackend.yaml (working directory, then the user
config directory) or the file given by --config. VBACKEND_* environment
variables override file values, and flags override both.

Examples:
  vbackend serve
  vbackend serve --addr 0.0.0.0:4290 --store sqlite --snapshots file
  vbackend serve --config ./vbackend.yaml --seed ./fixtures.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Admin API listen address (default "+config.DefaultAdminAddr+")")
	serveCmd.Flags().StringVar(&serveStore, "store", "", "Entity backend: memory, sqlite or postgres")
	serveCmd.Flags().StringVar(&serveSnapshots, "snapshots", "", "Snapshot backend: memory, file, sqlite, postgres or s3")
	serveCmd.Flags().StringVar(&serveSeed, "seed", "", "Fixture file to seed at startup")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.AddCommand(serveCmd)
}

// loadServeConfig loads the config file and applies serve flags on top.
func loadServeConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveStore != "" {
		cfg.Store.Backend = store.Backend(serveStore)
	}
	if serveSnapshots != "" {
		cfg.Snapshots.Backend = store.Backend(serveSnapshots)
	}
	if serveSeed != "" {
		cfg.Seed.File = serveSeed
	}
	if serveLogLevel != "" {
		cfg.Log.Level = serveLogLevel
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, nil)
}

// serve builds a server from cfg and runs it until ctx ends.
func serve(ctx context.Context, cfg *config.Config, ready func(addr string)) (retErr error) {
	s, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	return s.run(ctx, ready)
}
