package version

import (
	"fmt"
	"runtime"
)

// GetVersion returns a formatted version string
func GetVersion(version, commit, buildTime string) string {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		return version
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return fmt.Sprintf("%s-%s", version, commit)
}

// GetDetailedVersion returns detailed version information, including the
// display backend and telemetry source when they are known
func GetDetailedVersion(version, commit, buildTime string, components ...Component) string {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "unknown"
	}
	if buildTime == "" {
		buildTime = "unknown"
	}

	out := fmt.Sprintf(`gpuctl (GPU and display control)
Version:    %s
Commit:     %s
Built:      %s
Go version: %s
OS/Arch:    %s/%s`,
		version, commit, buildTime,
		runtime.Version(),
		runtime.GOOS, runtime.GOARCH)

	for _, c := range components {
		out += fmt.Sprintf("\n%-11s %s", c.Name+":", c.Value)
	}
	return out
}

// Component is an extra line of the detailed version output
type Component struct {
	Name  string
	Value string
}
