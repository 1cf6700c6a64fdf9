package agent

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// DefaultPort is the agent's default listen port
const DefaultPort = 2223

// Config contains configuration for the agent server. TLS is enabled when
// all three of CertFile, KeyFile and CAFile are set, and then clients must
// present a certificate signed by the CA.
type Config struct {
	Host     string // Listen address, empty for all interfaces
	Port     int    // Server port
	CertFile string // Server certificate file
	KeyFile  string // Server private key file
	CAFile   string // CA certificate file for client verification
	LogFile  string // Optional log file path
}

// DefaultConfig returns default agent configuration
func DefaultConfig() Config {
	return Config{
		Port: DefaultPort,
	}
}

// TLSEnabled reports whether the server requires mTLS
func (c Config) TLSEnabled() bool {
	return c.CertFile != "" || c.KeyFile != "" || c.CAFile != ""
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if !c.TLSEnabled() {
		return nil
	}
	return validateTLSFiles(c.CertFile, c.KeyFile, c.CAFile)
}

func validateTLSFiles(certFile, keyFile, caFile string) error {
	if certFile == "" {
		return fmt.Errorf("certificate file is required")
	}

	if keyFile == "" {
		return fmt.Errorf("key file is required")
	}

	if caFile == "" {
		return fmt.Errorf("CA certificate file is required")
	}

	// Check if files exist
	if _, err := os.Stat(certFile); err != nil {
		return fmt.Errorf("certificate file not found: %s", certFile)
	}

	if _, err := os.Stat(keyFile); err != nil {
		return fmt.Errorf("key file not found: %s", keyFile)
	}

	if _, err := os.Stat(caFile); err != nil {
		return fmt.Errorf("CA file not found: %s", caFile)
	}

	return nil
}

// LoadTLSConfig creates TLS configuration from the agent config
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	caCertPool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caCertPool,
		MinVersion:   tls.VersionTLS13,
	}

	return tlsConfig, nil
}

// ClientConfig contains configuration for the agent client
type ClientConfig struct {
	Host     string // Target host
	Port     int    // Target port
	CertFile string // Client certificate file
	KeyFile  string // Client private key file
	CAFile   string // CA certificate file for server verification
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host: "localhost",
		Port: DefaultPort,
	}
}

// TLSEnabled reports whether the client connects over mTLS
func (c ClientConfig) TLSEnabled() bool {
	return c.CertFile != "" || c.KeyFile != "" || c.CAFile != ""
}

// Validate checks if the client configuration is valid
func (c ClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if !c.TLSEnabled() {
		return nil
	}
	return validateTLSFiles(c.CertFile, c.KeyFile, c.CAFile)
}

// LoadClientTLSConfig creates TLS configuration for the client
func (c ClientConfig) LoadClientTLSConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCertPool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
	}

	return tlsConfig, nil
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(caFile) // #nosec G304 -- caFile is a user-specified CA file path
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return caCertPool, nil
}
