//go:build !linux

package gpu

import "errors"

// NewNVMLTelemetry always fails: the NVML binding is only built on Linux.
func NewNVMLTelemetry() (TelemetrySource, error) {
	return nil, errors.New("NVML is not supported on this platform")
}
