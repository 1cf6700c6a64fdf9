package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscrnt/gpuctl/pkg/agent"
	"github.com/mscrnt/gpuctl/pkg/display"
	"github.com/mscrnt/gpuctl/pkg/gpu"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{EnvDBPath, EnvBackend, EnvCacheTTL, EnvAgentPort, EnvLogLevel} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, gpu.DefaultTTL, cfg.CacheTTL)
	assert.Equal(t, display.DefaultXrandrCommand, cfg.XrandrCommand)
	assert.Equal(t, agent.DefaultPort, cfg.Agent.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Backend)
	assert.NotEmpty(t, cfg.DBPath)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /var/lib/gpuctl/state.db
backend: xrandr
cache_ttl: 500ms
agent:
  port: 9000
  cert_file: server.pem
log:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/gpuctl/state.db", cfg.DBPath)
	assert.Equal(t, display.BackendXrandr, cfg.Backend)
	assert.Equal(t, 500*time.Millisecond, cfg.CacheTTL)
	assert.Equal(t, 9000, cfg.Agent.Port)
	assert.Equal(t, "server.pem", cfg.Agent.CertFile)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.Equal(t, display.DefaultXrandrCommand, cfg.XrandrCommand)
}

func TestEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: xrandr\n"), 0o600))

	t.Setenv(EnvDBPath, "/tmp/override.db")
	t.Setenv(EnvBackend, display.BackendSimulated)
	t.Setenv(EnvCacheTTL, "10s")
	t.Setenv(EnvAgentPort, "4000")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.DBPath)
	assert.Equal(t, display.BackendSimulated, cfg.Backend)
	assert.Equal(t, 10*time.Second, cfg.CacheTTL)
	assert.Equal(t, 4000, cfg.Agent.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{"bad yaml", "backend: [", nil},
		{"unknown backend", "backend: wayland\n", nil},
		{"unknown telemetry", "telemetry: rocm\n", nil},
		{"port out of range", "agent:\n  port: 70000\n", nil},
		{"bad log level", "log:\n  level: loud\n", nil},
		{"bad ttl env", "", map[string]string{EnvCacheTTL: "soon"}},
		{"bad port env", "", map[string]string{EnvAgentPort: "http"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Backend = display.BackendNVML
	cfg.CacheTTL = 2 * time.Second
	cfg.Agent.CAFile = "ca.pem"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestAgentServerConfig(t *testing.T) {
	cfg := Default()
	cfg.Agent.Host = "127.0.0.1"
	cfg.Agent.LogFile = "agent.log"

	ac := cfg.AgentServerConfig()
	assert.Equal(t, "127.0.0.1", ac.Host)
	assert.Equal(t, agent.DefaultPort, ac.Port)
	assert.Equal(t, "agent.log", ac.LogFile)
	assert.False(t, ac.TLSEnabled())
}
