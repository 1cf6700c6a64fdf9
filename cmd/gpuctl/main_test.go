package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscrnt/gpuctl/internal/config"
	"github.com/mscrnt/gpuctl/pkg/display"
	"github.com/mscrnt/gpuctl/pkg/gpu"
	"github.com/mscrnt/gpuctl/pkg/profile"
	"github.com/mscrnt/gpuctl/pkg/schedule"
)

// harness runs gpuctl commands against a temporary database with the
// simulated backend and telemetry
type harness struct {
	t      *testing.T
	dir    string
	config string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	for _, k := range []string{config.EnvDBPath, config.EnvBackend, config.EnvCacheTTL, config.EnvAgentPort, config.EnvLogLevel} {
		t.Setenv(k, "")
	}

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(
		"db_path: "+filepath.Join(dir, "gpuctl.db")+"\n"+
			"backend: simulated\n"+
			"telemetry: simulated\n"+
			"cache_ttl: -1s\n"+
			"log:\n  level: error\n"), 0o600))

	return &harness{t: t, dir: dir, config: cfgPath}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config", h.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func (h *harness) runJSON(v any, args ...string) {
	h.t.Helper()
	out := h.mustRun(append([]string{"--json"}, args...)...)
	require.NoError(h.t, json.Unmarshal([]byte(out), v), out)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		w, h, r int
		wantErr bool
	}{
		{"1920x1080", 1920, 1080, 0, false},
		{"2560x1440@144", 2560, 1440, 144, false},
		{"3840x2160@60Hz", 3840, 2160, 60, false},
		{"1920*1080", 0, 0, 0, true},
		{"1920x", 0, 0, 0, true},
		{"", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, r, err := parseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []int{tt.w, tt.h, tt.r}, []int{w, h, r})
		})
	}
}

func TestResolutionCommands(t *testing.T) {
	h := newHarness(t)

	var modes []display.Mode
	h.runJSON(&modes, "resolution", "list")
	require.Len(t, modes, 4)

	h.mustRun("resolution", "add", "2560x1080@75")
	h.mustRun("resolution", "apply", "2560x1080", "--refresh", "75")

	modes = nil
	h.runJSON(&modes, "resolution", "list")
	require.Len(t, modes, 5)
	var active string
	for _, m := range modes {
		if m.Active {
			active = m.Name
		}
	}
	assert.Equal(t, "2560x1080@75Hz", active)

	h.mustRun("resolution", "remove", "2560x1080@75Hz")
	_, err := h.run("resolution", "remove", "2560x1080@75Hz")
	assert.ErrorIs(t, err, display.ErrNotFound)

	_, err = h.run("resolution", "add", "100x100")
	assert.Error(t, err)
}

func TestResolutionTiming(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("resolution", "timing", "1920x1080@60", "--timing", "CVT-RB")
	assert.Contains(t, out, "Modeline")
	assert.Contains(t, out, "CVT-RB")
}

func TestSettingsCommands(t *testing.T) {
	h := newHarness(t)

	var s gpu.Settings
	h.runJSON(&s, "settings", "get")
	assert.Equal(t, gpu.DefaultMutable, s.Mutable)

	s = gpu.Settings{}
	h.runJSON(&s, "settings", "set", "--vsync", "On")
	assert.Equal(t, gpu.VSyncOn, s.VerticalSync)

	_, err := h.run("settings", "set", "--power", "Turbo")
	assert.ErrorIs(t, err, gpu.ErrInvalidSetting)
	_, err = h.run("settings", "set")
	assert.Error(t, err)

	s = gpu.Settings{}
	h.runJSON(&s, "settings", "optimize")
	assert.Equal(t, gpu.PowerMaxPerformance, s.PowerMode)
	assert.Equal(t, gpu.TexturePerformance, s.TextureFiltering)
	assert.Equal(t, gpu.VSyncOff, s.VerticalSync)

	// settings persist between invocations
	s = gpu.Settings{}
	h.runJSON(&s, "settings", "get")
	assert.Equal(t, gpu.PowerMaxPerformance, s.PowerMode)
}

func TestSettingsPatchFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "patch.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"texture_filtering":"High Quality"}`), 0o600))

	var s gpu.Settings
	h.runJSON(&s, "settings", "set", "--file", path)
	assert.Equal(t, gpu.TextureHighQuality, s.TextureFiltering)

	require.NoError(t, os.WriteFile(path, []byte(`{"overclock":true}`), 0o600))
	_, err := h.run("settings", "set", "--file", path)
	assert.Error(t, err)
}

func TestProfileAndScheduleCommands(t *testing.T) {
	h := newHarness(t)

	h.mustRun("profile", "create", "training", "--power", "Prefer Maximum Performance", "--tag", "ml")
	_, err := h.run("profile", "create", "training", "--vsync", "On")
	assert.ErrorIs(t, err, profile.ErrExists)

	var profiles []*profile.Profile
	h.runJSON(&profiles, "profile", "list", "--tag", "ml")
	require.Len(t, profiles, 1)
	assert.Equal(t, "training", profiles[0].Name)

	out := h.mustRun("profile", "apply", "training")
	assert.Contains(t, out, "Prefer Maximum Performance")

	_, err = h.run("schedule", "create", "nightly", "--cron", "0 21 * * *", "--profile", "missing")
	assert.ErrorIs(t, err, profile.ErrNotFound)
	h.mustRun("schedule", "create", "nightly", "--cron", "0 21 * * *", "--profile", "training")

	var schedules []*schedule.Schedule
	h.runJSON(&schedules, "schedule", "list")
	require.Len(t, schedules, 1)
	assert.NotNil(t, schedules[0].NextRunTime)

	h.mustRun("schedule", "run", "nightly")
	h.mustRun("schedule", "disable", "nightly")
	schedules = nil
	h.runJSON(&schedules, "schedule", "list")
	assert.Empty(t, schedules)

	csv := h.mustRun("history", "export", "--profile", "training")
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID,Profile,Source,Schedule ID,Applied At,Success,Error", lines[0])
	assert.Contains(t, csv, ",schedule,")
	assert.Contains(t, csv, ",cli,")

	h.mustRun("schedule", "delete", "nightly", "--force")
	h.mustRun("profile", "delete", "training", "--force")
	_, err = h.run("profile", "apply", "training")
	assert.ErrorIs(t, err, profile.ErrNotFound)
}

func TestDeleteWithoutConfirmation(t *testing.T) {
	h := newHarness(t)
	h.mustRun("profile", "create", "quiet", "--power", "Optimal Power")

	out := h.mustRun("profile", "delete", "quiet")
	assert.Contains(t, out, "Cancelled")

	var profiles []*profile.Profile
	h.runJSON(&profiles, "profile", "list")
	assert.Len(t, profiles, 1)
}

func TestEDIDCommands(t *testing.T) {
	h := newHarness(t)
	sample := filepath.Join(h.dir, "sample.bin")
	override := filepath.Join(h.dir, "override.bin")

	h.mustRun("edid", "export", "--sample", "--output", sample)
	out := h.mustRun("edid", "validate", sample)
	assert.Contains(t, out, "valid")

	var parsed struct {
		Summary struct {
			Valid bool `json:"valid"`
		} `json:"summary"`
	}
	h.runJSON(&parsed, "edid", "parse", sample)
	assert.True(t, parsed.Summary.Valid)

	out = h.mustRun("edid", "read", "--display", "0")
	assert.Contains(t, out, "Manufacturer")

	out = h.mustRun("edid", "override", "--input", sample, "--forced", "2560x1440@60", "--output", override)
	assert.Contains(t, out, "Wrote override of "+sample)
	h.mustRun("edid", "validate", override)

	data, err := os.ReadFile(sample)
	require.NoError(t, err)
	data[20] ^= 0xFF
	require.NoError(t, os.WriteFile(sample, data, 0o600))
	_, err = h.run("edid", "validate", sample)
	assert.Error(t, err)
}

func TestEDIDOverrideFromDisplay(t *testing.T) {
	h := newHarness(t)
	override := filepath.Join(h.dir, "override.bin")

	out := h.mustRun("edid", "override", "--display", "1", "--forced", "2560x1440@60", "--add", "1600x900@60", "--output", override)
	assert.Contains(t, out, "Wrote override of display 1")

	var parsed struct {
		Summary struct {
			PreferredResolution string `json:"preferred_resolution"`
			Valid               bool   `json:"valid"`
		} `json:"summary"`
	}
	h.runJSON(&parsed, "edid", "parse", override)
	assert.True(t, parsed.Summary.Valid)
	assert.Equal(t, "2560x1440@60Hz", parsed.Summary.PreferredResolution)

	_, err := h.run("edid", "override", "--display=-1", "--output", override)
	assert.Error(t, err)
	_, err = h.run("edid", "override", "--display", "0", "--input", override)
	assert.Error(t, err)
}

func TestCertBundleCommand(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(h.dir, "certs")

	h.mustRun("cert", "bundle", "--dir", dir, "--bits", "1024")
	out := h.mustRun("cert", "verify", filepath.Join(dir, "server.pem"), "--ca", filepath.Join(dir, "ca.pem"))
	assert.Contains(t, out, "Status: VALID")
	assert.Contains(t, out, "Usage: server")
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)

	out := h.mustRun("version", "--components")
	assert.Contains(t, out, "Backend:    simulated")
	assert.Contains(t, out, "Telemetry:  simulated")
}

func TestInvalidBackendFlag(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("--backend", "wayland", "resolution", "list")
	assert.Error(t, err)
}
