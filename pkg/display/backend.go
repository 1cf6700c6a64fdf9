// Package display manages custom display resolutions through one of several
// platform backends chosen once per process.
package display

import (
	"context"
	"errors"
	"fmt"

	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// Backend names
const (
	BackendNVML      = "nvml"
	BackendRegistry  = "registry"
	BackendXrandr    = "xrandr"
	BackendSimulated = "simulated"
)

// Probe priorities, lower wins
const (
	PriorityVendor    = 10
	PriorityRegistry  = 20
	PriorityShell     = 30
	PrioritySimulated = 100
)

// Errors returned by the dispatcher and backends
var (
	ErrDuplicateResolution = errors.New("resolution already exists")
	ErrUnsupportedMode     = errors.New("mode not supported")
	ErrNotFound            = errors.New("resolution not found")
	ErrBackendUnavailable  = errors.New("display backend unavailable")
)

// BackendError wraps a failure of the bound backend that is not one of the
// taxonomy errors. It matches ErrBackendUnavailable.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is reports ErrBackendUnavailable as the error kind.
func (e *BackendError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// Mode is a resolution listed for a display.
type Mode struct {
	resolution.CustomResolution
	Active    bool `json:"active"`
	Preferred bool `json:"preferred,omitempty"`
	Custom    bool `json:"custom"`
}

// Backend reads and writes display configuration for one platform mechanism.
// Implementations do not deduplicate or validate; the Dispatcher does.
type Backend interface {
	Name() string
	ListResolutions(ctx context.Context, display int) ([]Mode, error)
	AddResolution(ctx context.Context, r resolution.CustomResolution, display int) error
	ApplyResolution(ctx context.Context, r resolution.CustomResolution, display int) error
	RemoveResolution(ctx context.Context, name string, display int) error
	ReadEDID(ctx context.Context, display int) ([]byte, error)
}

// ResolutionStore persists custom resolutions and the active mode name per
// backend and display.
type ResolutionStore interface {
	ListResolutions(ctx context.Context, backend string, display int) ([]resolution.CustomResolution, error)
	PutResolution(ctx context.Context, backend string, display int, r resolution.CustomResolution) error
	DeleteResolution(ctx context.Context, backend string, display int, name string) (bool, error)
	SetActive(ctx context.Context, backend string, display int, name string) error
	Active(ctx context.Context, backend string, display int) (string, error)
	// Seeded reports whether MarkSeeded was called for the display, so
	// seeded modes a user removed are not restored on the next run.
	Seeded(ctx context.Context, backend string, display int) (bool, error)
	MarkSeeded(ctx context.Context, backend string, display int) error
}

func findByName(modes []Mode, name string) (Mode, bool) {
	for _, m := range modes {
		if m.Name == name {
			return m, true
		}
	}
	return Mode{}, false
}

func findByKey(modes []Mode, key resolution.Key) (Mode, bool) {
	for _, m := range modes {
		if m.Key() == key {
			return m, true
		}
	}
	return Mode{}, false
}
