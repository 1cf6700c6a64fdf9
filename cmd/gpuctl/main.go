package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/internal/config"
	"github.com/mscrnt/gpuctl/internal/logging"
	"github.com/mscrnt/gpuctl/internal/version"
)

var (
	// Build variables set by ldflags
	buildVersion string
	buildCommit  string
	buildTime    string
)

// cli carries the state shared by every command
type cli struct {
	configPath string
	verbose    bool
	backend    string
	dbPath     string
	jsonOutput bool

	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "gpuctl",
		Short: "gpuctl - GPU settings and custom display resolutions",
		Long: `gpuctl manages custom display resolutions through the best available
display backend, reads and rewrites monitor EDIDs, and controls GPU
power, texture filtering and vertical sync settings.`,
		Version:       version.GetVersion(buildVersion, buildCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "Config file (default ~/.gpuctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&c.backend, "backend", "", "Force a display backend (nvml, registry, xrandr, simulated)")
	rootCmd.PersistentFlags().StringVar(&c.dbPath, "db", "", "Database path (overrides config and GPUCTL_DB_PATH)")
	rootCmd.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(c.versionCmd())
	rootCmd.AddCommand(c.edidCmd())
	rootCmd.AddCommand(c.resolutionCmd())
	rootCmd.AddCommand(c.settingsCmd())
	rootCmd.AddCommand(c.profileCmd())
	rootCmd.AddCommand(c.scheduleCmd())
	rootCmd.AddCommand(c.historyCmd())
	rootCmd.AddCommand(c.agentCmd())
	rootCmd.AddCommand(c.certCmd())

	return rootCmd
}

// setup loads the configuration and builds the logger
func (c *cli) setup() error {
	path := c.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if c.backend != "" {
		cfg.Backend = c.backend
	}
	if c.dbPath != "" {
		cfg.DBPath = c.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	c.cfg = cfg

	logger, err := logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Verbose: c.verbose,
		File:    cfg.Log.File,
	})
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}

func (c *cli) versionCmd() *cobra.Command {
	var components bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !components {
				fmt.Fprintln(cmd.OutOrStdout(), version.GetDetailedVersion(buildVersion, buildCommit, buildTime))
				return nil
			}

			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			backend := "unavailable"
			if err := app.dispatcher.Bind(cmd.Context()); err == nil {
				backend = app.dispatcher.Backend()
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.GetDetailedVersion(buildVersion, buildCommit, buildTime,
				version.Component{Name: "Backend", Value: backend},
				version.Component{Name: "Telemetry", Value: app.facade.Source()},
				version.Component{Name: "Database", Value: c.cfg.DBPath},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&components, "components", false, "Probe and show the bound backend and telemetry source")

	return cmd
}
