package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mscrnt/gpuctl/internal/config"
	"github.com/mscrnt/gpuctl/pkg/cert"
)

func (c *cli) certCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Certificate management",
		Long:  "Create and verify the mTLS certificates used by the agent",
	}

	cmd.AddCommand(c.certInitCmd())
	cmd.AddCommand(c.certIssueCmd())
	cmd.AddCommand(c.certBundleCmd())
	cmd.AddCommand(c.certVerifyCmd())

	return cmd
}

func defaultCAPath() string {
	return filepath.Join(config.Dir(), "ca")
}

func (c *cli) certInitCmd() *cobra.Command {
	var (
		caPath string
		bits   int
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize certificate authority",
		Long: `Initialize a certificate authority (CA) for signing agent certificates.

Examples:
  # Initialize CA in default location
  gpuctl cert init

  # Force overwrite existing CA
  gpuctl cert init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if caPath == "" {
				caPath = defaultCAPath()
			}
			if err := os.MkdirAll(caPath, 0o700); err != nil {
				return fmt.Errorf("failed to create CA directory: %w", err)
			}

			certPath := filepath.Join(caPath, "ca.pem")
			keyPath := filepath.Join(caPath, "ca-key.pem")

			// Check if CA already exists
			if !force {
				if _, err := os.Stat(certPath); err == nil {
					return fmt.Errorf("CA certificate already exists at %s (use --force to overwrite)", certPath)
				}
			}

			issuer, err := cert.NewIssuer(bits)
			if err != nil {
				return fmt.Errorf("failed to create CA: %w", err)
			}
			if err := issuer.SaveCA(certPath, keyPath); err != nil {
				return fmt.Errorf("failed to save CA: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Certificate Authority initialized successfully")
			fmt.Fprintf(cmd.OutOrStdout(), "CA Certificate: %s\n", certPath)
			fmt.Fprintf(cmd.OutOrStdout(), "CA Private Key: %s\n", keyPath)
			fmt.Fprintln(cmd.OutOrStdout(), "\nIMPORTANT: Keep the private key secure and backed up!")
			return nil
		},
	}

	cmd.Flags().StringVar(&caPath, "ca-path", "", "Path to CA directory (default ~/.gpuctl/ca)")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	cmd.Flags().BoolVar(&force, "force", false, "Force overwrite existing CA")

	return cmd
}

func (c *cli) certIssueCmd() *cobra.Command {
	var (
		caPath   string
		hosts    []string
		name     string
		output   string
		validity time.Duration
	)

	cmd := &cobra.Command{
		Use:   "issue <server|client>",
		Short: "Issue an agent server or client certificate",
		Long: `Issue a certificate signed by the CA.

Examples:
  gpuctl cert issue server --host gpu-box.local --host 192.168.1.100 --output server
  gpuctl cert issue client --name laptop --output laptop`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"server", "client"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if caPath == "" {
				caPath = defaultCAPath()
			}
			issuer, err := cert.LoadCA(filepath.Join(caPath, "ca.pem"), filepath.Join(caPath, "ca-key.pem"))
			if err != nil {
				return fmt.Errorf("failed to load CA (run 'gpuctl cert init' first): %w", err)
			}

			var certificate *cert.Certificate
			switch args[0] {
			case "server":
				certificate, err = issuer.IssueServer(hosts, validity)
			case "client":
				certificate, err = issuer.IssueClient(name, validity)
			default:
				return fmt.Errorf("unknown certificate kind %q (want server or client)", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to issue certificate: %w", err)
			}

			if output == "" {
				output = args[0]
			}
			certPath, keyPath := output+".pem", output+"-key.pem"
			if err := certificate.Save(certPath, keyPath); err != nil {
				return fmt.Errorf("failed to save certificate: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Certificate: %s\n", certPath)
			fmt.Fprintf(cmd.OutOrStdout(), "Private Key: %s\n", keyPath)
			fmt.Fprintf(cmd.OutOrStdout(), "\nCertificate Details:\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  Subject: %s\n", certificate.Subject)
			fmt.Fprintf(cmd.OutOrStdout(), "  Serial: %s\n", certificate.SerialNumber)
			fmt.Fprintf(cmd.OutOrStdout(), "  Valid Until: %s\n", certificate.NotAfter.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVar(&caPath, "ca-path", "", "Path to CA directory (default ~/.gpuctl/ca)")
	cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1"}, "Server DNS names or IPs")
	cmd.Flags().StringVar(&name, "name", "gpuctl client", "Client common name")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file prefix (default: the certificate kind)")
	cmd.Flags().DurationVar(&validity, "validity", 0, "Certificate lifetime (default one year)")

	return cmd
}

func (c *cli) certBundleCmd() *cobra.Command {
	var (
		dir   string
		hosts []string
		bits  int
	)

	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Generate a CA, server and client certificate in one step",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := cert.GenerateBundle(dir, hosts, bits)
			if err != nil {
				return err
			}
			renderKV(cmd.OutOrStdout(), [][2]string{
				{"CA", b.CAFile},
				{"Server certificate", b.ServerCertFile},
				{"Server key", b.ServerKeyFile},
				{"Client certificate", b.ClientCertFile},
				{"Client key", b.ClientKeyFile},
			})
			fmt.Fprintf(cmd.OutOrStdout(), "\nStart the agent with:\n  gpuctl agent serve --cert %s --key %s --ca %s\n",
				b.ServerCertFile, b.ServerKeyFile, b.CAFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "certs", "Output directory")
	cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1"}, "Server DNS names or IPs")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")

	return cmd
}

func (c *cli) certVerifyCmd() *cobra.Command {
	var caFile string

	cmd := &cobra.Command{
		Use:   "verify <certificate>",
		Short: "Verify a certificate against the CA",
		Long: `Verify a certificate signature against the CA and show its usage,
hosts and expiry.

Examples:
  gpuctl cert verify server.pem
  gpuctl cert verify client.pem --ca certs/ca.pem`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if caFile == "" {
				caFile = filepath.Join(defaultCAPath(), "ca.pem")
			}
			result, err := cert.VerifyCertificateFile(args[0], caFile)
			if err != nil {
				return fmt.Errorf("failed to verify certificate: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cert.FormatVerifyResult(result))
			if !result.Valid {
				return fmt.Errorf("%s is not valid", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&caFile, "ca", "", "CA certificate file (default ~/.gpuctl/ca/ca.pem)")

	return cmd
}
