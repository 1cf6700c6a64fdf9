//go:build !windows

package display

import (
	"context"
	"errors"
)

// RegistryProber always fails: the OS configuration store backend is
// Windows only.
func RegistryProber(opts ProbeOptions) Prober {
	return NewProber(BackendRegistry, PriorityRegistry, func(ctx context.Context) (Backend, error) {
		return nil, errors.New("registry backend requires Windows")
	})
}
