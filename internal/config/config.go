// Package config loads the gpuctl configuration file and applies GPUCTL_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/mscrnt/gpuctl/pkg/agent"
	"github.com/mscrnt/gpuctl/pkg/display"
	"github.com/mscrnt/gpuctl/pkg/gpu"
)

// Environment variables that override file values
const (
	EnvDBPath    = "GPUCTL_DB_PATH"
	EnvBackend   = "GPUCTL_BACKEND"
	EnvCacheTTL  = "GPUCTL_CACHE_TTL"
	EnvAgentPort = "GPUCTL_AGENT_PORT"
	EnvLogLevel  = "GPUCTL_LOG_LEVEL"
)

// Config holds the gpuctl configuration.
type Config struct {
	DBPath        string        `yaml:"db_path"`
	Backend       string        `yaml:"backend"`
	Telemetry     string        `yaml:"telemetry"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	XrandrCommand string        `yaml:"xrandr_command"`
	Agent         AgentConfig   `yaml:"agent"`
	Log           LogConfig     `yaml:"log"`
}

// AgentConfig configures `gpuctl agent serve`.
type AgentConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`
	LogFile  string `yaml:"log_file"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Dir returns the gpuctl state directory: ~/.gpuctl
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gpuctl"
	}
	return filepath.Join(home, ".gpuctl")
}

// DefaultPath returns the default config file path: ~/.gpuctl/config.yaml
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DBPath:        filepath.Join(Dir(), "gpuctl.db"),
		CacheTTL:      gpu.DefaultTTL,
		XrandrCommand: display.DefaultXrandrCommand,
		Agent: AgentConfig{
			Port: agent.DefaultPort,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration from the given YAML file path, then applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDBPath); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Backend = v
	}
	if v, ok := lookup(EnvCacheTTL); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCacheTTL, err)
		}
		c.CacheTTL = ttl
	}
	if v, ok := lookup(EnvAgentPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAgentPort, err)
		}
		c.Agent.Port = port
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks ranges and names.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.Backend != "" && !slices.Contains(Backends, c.Backend) {
		return fmt.Errorf("unknown backend %q (want one of %v)", c.Backend, Backends)
	}
	if c.Telemetry != "" && !slices.Contains(TelemetrySources, c.Telemetry) {
		return fmt.Errorf("unknown telemetry source %q (want one of %v)", c.Telemetry, TelemetrySources)
	}
	if c.Agent.Port < 0 || c.Agent.Port > 65535 {
		return fmt.Errorf("invalid agent port: %d", c.Agent.Port)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// AgentServerConfig returns the agent server settings.
func (c *Config) AgentServerConfig() agent.Config {
	return agent.Config{
		Host:     c.Agent.Host,
		Port:     c.Agent.Port,
		CertFile: c.Agent.CertFile,
		KeyFile:  c.Agent.KeyFile,
		CAFile:   c.Agent.CAFile,
		LogFile:  c.Agent.LogFile,
	}
}

// Backends are the names accepted for Backend.
var Backends = []string{
	display.BackendNVML,
	display.BackendRegistry,
	display.BackendXrandr,
	display.BackendSimulated,
}

// TelemetrySources are the names accepted for Telemetry.
var TelemetrySources = []string{
	gpu.SourceNVML,
	gpu.SourceSMI,
	gpu.SourceSimulated,
}

// Save writes the configuration as YAML, creating the parent directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
