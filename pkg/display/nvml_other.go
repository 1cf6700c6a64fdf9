//go:build !linux

package display

import (
	"context"
	"errors"
)

// NVMLProber always fails: the NVML binding is only built on Linux.
func NVMLProber(opts ProbeOptions) Prober {
	return NewProber(BackendNVML, PriorityVendor, func(ctx context.Context) (Backend, error) {
		return nil, errors.New("NVML is not supported on this platform")
	})
}
