package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		commit    string
		buildTime string
		want      string
	}{
		{
			name:    "release build",
			version: "v0.4.2",
			commit:  "9f86d081884c7d65",
			want:    "v0.4.2-9f86d08",
		},
		{
			name:   "local build",
			commit: "9f86d081884c7d65",
			want:   "dev-9f86d08",
		},
		{
			name:    "abbreviated commit",
			version: "v0.4.2",
			commit:  "9f8",
			want:    "v0.4.2-9f8",
		},
		{
			name:    "no commit",
			version: "v0.4.2",
			want:    "v0.4.2",
		},
		{
			name: "nothing set",
			want: "dev",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetVersion(tt.version, tt.commit, tt.buildTime)
			if got != tt.want {
				t.Errorf("GetVersion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetDetailedVersion(t *testing.T) {
	result := GetDetailedVersion("v0.4.2", "9f86d081884c7d65", "2026-03-01T12:00:00Z")

	want := []string{
		"gpuctl (GPU and display control)",
		"Version:    v0.4.2",
		"Commit:     9f86d081884c7d65",
		"Built:      2026-03-01T12:00:00Z",
		"Go version: " + runtime.Version(),
		"OS/Arch:    " + runtime.GOOS + "/" + runtime.GOARCH,
	}
	lines := strings.Split(result, "\n")
	if len(lines) != len(want) {
		t.Fatalf("Expected %d lines, got %d:\n%s", len(want), len(lines), result)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("Expected line %d to be %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestGetDetailedVersionComponents(t *testing.T) {
	result := GetDetailedVersion("", "", "",
		Component{Name: "Backend", Value: "simulated"},
		Component{Name: "Telemetry", Value: "nvidia-smi"})

	expectedParts := []string{
		"Version:    dev",
		"Commit:     unknown",
	}
	for _, part := range expectedParts {
		if !strings.Contains(result, part) {
			t.Errorf("GetDetailedVersion() missing %q", part)
		}
	}
	if !strings.HasSuffix(result, "\nBackend:    simulated\nTelemetry:  nvidia-smi") {
		t.Errorf("Expected components at the end, got:\n%s", result)
	}
}
