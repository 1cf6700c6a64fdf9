package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mscrnt/gpuctl/internal/version"
	"github.com/mscrnt/gpuctl/pkg/agent"
)

func (c *cli) agentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Remote control agent",
		Long:  "Serve the gpuctl HTTP API, or query a running agent",
	}

	cmd.AddCommand(c.agentServeCmd())
	cmd.AddCommand(c.agentHealthCmd())
	cmd.AddCommand(c.agentApplyCmd())

	return cmd
}

func (c *cli) agentServeCmd() *cobra.Command {
	var (
		host     string
		port     int
		certFile string
		keyFile  string
		caFile   string
		logFile  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent server",
		Long: `Start the gpuctl agent. With --cert, --key and --ca the agent requires
mutual TLS; without them it serves plain HTTP.

The agent exposes the following endpoints:
  GET    /health
  GET    /settings
  PATCH  /settings
  GET    /displays/{n}/resolutions
  POST   /displays/{n}/resolutions
  POST   /displays/{n}/resolutions/apply
  DELETE /displays/{n}/resolutions/{name}
  GET    /displays/{n}/edid
  GET    /profiles
  POST   /profiles/{name}/apply

Examples:
  # Start with mTLS
  gpuctl agent serve --cert server.pem --key server-key.pem --ca ca.pem

  # Start on custom port with logging
  gpuctl agent serve --port 2223 --cert server.pem --key server-key.pem --ca ca.pem --log agent.log

  # Using environment variables
  export GPUCTL_AGENT_PORT=2223
  gpuctl agent serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			config := c.cfg.AgentServerConfig()
			flags := cmd.Flags()
			if flags.Changed("host") {
				config.Host = host
			}
			if flags.Changed("port") {
				config.Port = port
			}
			if flags.Changed("cert") {
				config.CertFile = certFile
			}
			if flags.Changed("key") {
				config.KeyFile = keyFile
			}
			if flags.Changed("ca") {
				config.CAFile = caFile
			}
			if flags.Changed("log") {
				config.LogFile = logFile
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.dispatcher.Bind(ctx); err != nil {
				return err
			}

			server, err := agent.NewServer(config, agent.Services{
				Settings: app.facade,
				Displays: app.dispatcher,
				Profiles: app.profiles,
				Version:  version.GetVersion(buildVersion, buildCommit, buildTime),
			}, c.logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			// Start server in goroutine
			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Start()
			}()

			mode := "plain HTTP"
			if config.TLSEnabled() {
				mode = "mTLS"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Agent server started on port %d with %s (%s backend)\n",
				config.Port, mode, app.dispatcher.Backend())
			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop...")

			// Wait for signal or error
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown error: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Server stopped gracefully")
				return nil

			case err := <-errChan:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Address to listen on (default all interfaces)")
	cmd.Flags().IntVar(&port, "port", agent.DefaultPort, "Port to listen on")
	cmd.Flags().StringVar(&certFile, "cert", "", "Server certificate file")
	cmd.Flags().StringVar(&keyFile, "key", "", "Server private key file")
	cmd.Flags().StringVar(&caFile, "ca", "", "CA certificate file for client verification")
	cmd.Flags().StringVar(&logFile, "log", "", "Request log file (optional)")

	return cmd
}

// clientFlags are the connection flags of the agent client commands
type clientFlags struct {
	host     string
	port     int
	certFile string
	keyFile  string
	caFile   string
}

func addClientFlags(cmd *cobra.Command, f *clientFlags) {
	cmd.Flags().StringVar(&f.host, "host", "localhost", "Target host")
	cmd.Flags().IntVar(&f.port, "port", agent.DefaultPort, "Target port")
	cmd.Flags().StringVar(&f.certFile, "cert", "", "Client certificate file")
	cmd.Flags().StringVar(&f.keyFile, "key", "", "Client private key file")
	cmd.Flags().StringVar(&f.caFile, "ca", "", "CA certificate file for server verification")
}

func (f *clientFlags) client() (*agent.Client, error) {
	return agent.NewClient(agent.ClientConfig{
		Host:     f.host,
		Port:     f.port,
		CertFile: f.certFile,
		KeyFile:  f.keyFile,
		CAFile:   f.caFile,
	})
}

func (c *cli) agentHealthCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running agent",
		Long: `Check a gpuctl agent and show its host facts.

Examples:
  gpuctl agent health --host 192.168.1.100 \
    --cert client.pem --key client-key.pem --ca ca.pem`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			health, err := client.CheckHealth(cmd.Context())
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), health)
			}
			renderKV(cmd.OutOrStdout(), [][2]string{
				{"Status", health.Status},
				{"Version", health.Version},
				{"Backend", health.Backend},
				{"Telemetry", health.Telemetry},
				{"Host", health.Hostname},
				{"Platform", fmt.Sprintf("%s %s (%s)", health.Platform, health.PlatformVersion, health.Architecture)},
				{"Kernel", health.KernelVersion},
				{"Uptime", (time.Duration(health.Uptime) * time.Second).String()},
				{"Memory", fmt.Sprintf("%.1f%% of %d MiB", health.MemoryUsedPct, health.MemoryTotal>>20)},
			})
			return nil
		},
	}

	addClientFlags(cmd, &flags)

	return cmd
}

func (c *cli) agentApplyCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "apply <profile>",
		Short: "Apply a profile on a remote agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			s, err := client.ApplyProfile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied profile '%s' on %s\n", args[0], flags.host)
			return c.printSettings(cmd.OutOrStdout(), s)
		},
	}

	addClientFlags(cmd, &flags)

	return cmd
}
