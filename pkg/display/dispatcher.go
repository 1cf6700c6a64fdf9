package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// State is the binding state of a Dispatcher.
type State int

const (
	StateUninitialized State = iota
	StateProbing
	StateBound
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateProbing:
		return "probing"
	case StateBound:
		return "bound"
	}
	return "unknown"
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Force binds the named backend without probing the others.
	Force  string
	Logger *zap.Logger
}

// Dispatcher binds exactly one backend on first use and routes every
// resolution operation to it. Once bound it never switches backends; call
// time failures surface as ErrBackendUnavailable.
type Dispatcher struct {
	registry *Registry
	force    string
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	backend Backend
}

// NewDispatcher creates an unbound dispatcher over the registry's probers.
func NewDispatcher(registry *Registry, opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		force:    opts.Force,
		logger:   logger,
	}
}

// Bind probes the registered backends in priority order and binds the first
// available one. It is a no-op once bound.
func (d *Dispatcher) Bind(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateBound {
		return nil
	}
	d.state = StateProbing

	probers := d.registry.List()
	if d.force != "" {
		p, err := d.registry.Get(d.force)
		if err != nil {
			d.state = StateUninitialized
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		probers = []Prober{p}
	}

	for _, p := range probers {
		b, err := p.Probe(ctx)
		if err != nil {
			d.logger.Info("display backend unavailable",
				zap.String("backend", p.Name()), zap.Error(err))
			continue
		}
		d.backend = b
		d.state = StateBound
		d.logger.Info("display backend bound",
			zap.String("backend", b.Name()), zap.Int("priority", p.Priority()))
		return nil
	}

	d.state = StateUninitialized
	if d.force != "" {
		return fmt.Errorf("%w: forced backend %q failed to probe", ErrBackendUnavailable, d.force)
	}
	return fmt.Errorf("%w: no backend probed successfully", ErrBackendUnavailable)
}

// State returns the current binding state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Backend returns the bound backend name, or "" when unbound.
func (d *Dispatcher) Backend() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend == nil {
		return ""
	}
	return d.backend.Name()
}

// Close releases the bound backend if it holds resources. The dispatcher
// is unusable afterwards.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.backend.(io.Closer)
	if !ok {
		return nil
	}
	return c.Close()
}

func (d *Dispatcher) bound(ctx context.Context) (Backend, error) {
	if err := d.Bind(ctx); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backend, nil
}

// ListResolutions returns the modes of a display. An invalid display or an
// unreachable backend yields an empty list, never an error.
func (d *Dispatcher) ListResolutions(ctx context.Context, display int) []Mode {
	b, err := d.bound(ctx)
	if err != nil {
		d.logger.Warn("listing resolutions without a backend", zap.Error(err))
		return []Mode{}
	}
	modes, err := b.ListResolutions(ctx, display)
	if err != nil {
		d.logger.Warn("failed to list resolutions",
			zap.String("backend", b.Name()), zap.Int("display", display), zap.Error(err))
		return []Mode{}
	}
	if modes == nil {
		modes = []Mode{}
	}
	return modes
}

// AddResolution registers r for the display without switching to it.
// Adding a resolution identical to a listed one succeeds without change;
// a listed mode with the same width/height/refresh or the same name but
// different attributes is ErrDuplicateResolution.
func (d *Dispatcher) AddResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	r, err := checkRequest(r, display)
	if err != nil {
		return err
	}
	b, err := d.bound(ctx)
	if err != nil {
		return err
	}
	modes, err := b.ListResolutions(ctx, display)
	if err != nil {
		return d.backendErr(b, "list", err)
	}
	return d.add(ctx, b, modes, r, display)
}

func (d *Dispatcher) add(ctx context.Context, b Backend, modes []Mode, r resolution.CustomResolution, display int) error {
	for _, m := range modes {
		if m.Key() != r.Key() && m.Name != r.Name {
			continue
		}
		if identical(m, r) {
			d.logger.Debug("resolution already registered",
				zap.String("name", r.Name), zap.Int("display", display))
			return nil
		}
		return fmt.Errorf("%w: %s conflicts with %s on display %d", ErrDuplicateResolution, r, m.Name, display)
	}

	if err := b.AddResolution(ctx, r, display); err != nil {
		return d.backendErr(b, "add", err)
	}
	d.logger.Info("resolution added",
		zap.String("backend", b.Name()), zap.String("name", r.Name), zap.Int("display", display))
	return nil
}

// identical compares a listed mode against a request. Custom modes must match
// on every attribute; built-in modes carry no attributes of their own, so
// the name and triple are compared.
func identical(m Mode, r resolution.CustomResolution) bool {
	if m.Key() != r.Key() || m.Name != r.Name {
		return false
	}
	if !m.Custom {
		return true
	}
	return m.CustomResolution == r
}

// ApplyResolution switches the display to r, adding it first if no listed
// mode has the same width/height/refresh. A listed mode that shares the
// triple or name but differs in any attribute is a duplicate, as in
// AddResolution.
func (d *Dispatcher) ApplyResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	r, err := checkRequest(r, display)
	if err != nil {
		return err
	}
	b, err := d.bound(ctx)
	if err != nil {
		return err
	}
	modes, err := b.ListResolutions(ctx, display)
	if err != nil {
		return d.backendErr(b, "list", err)
	}

	// a listed mode is only reused when the request matches it exactly
	if err := d.add(ctx, b, modes, r, display); err != nil {
		return err
	}
	target := r
	if m, ok := findByKey(modes, r.Key()); ok {
		target = m.CustomResolution
	}

	if err := b.ApplyResolution(ctx, target, display); err != nil {
		return d.backendErr(b, "apply", err)
	}
	d.logger.Info("resolution applied",
		zap.String("backend", b.Name()), zap.String("name", target.Name), zap.Int("display", display))
	return nil
}

// RemoveResolution unregisters a resolution by name. Removing the active
// mode is allowed; the backend picks the fallback mode.
func (d *Dispatcher) RemoveResolution(ctx context.Context, name string, display int) error {
	if name == "" {
		return &resolution.ValidationError{Field: "name", Value: name, Reason: "must not be empty"}
	}
	if display < 0 {
		return displayErr(display)
	}
	b, err := d.bound(ctx)
	if err != nil {
		return err
	}
	if err := b.RemoveResolution(ctx, name, display); err != nil {
		return d.backendErr(b, "remove", err)
	}
	d.logger.Info("resolution removed",
		zap.String("backend", b.Name()), zap.String("name", name), zap.Int("display", display))
	return nil
}

// ReadEDID returns the raw EDID of a display from the bound backend.
func (d *Dispatcher) ReadEDID(ctx context.Context, display int) ([]byte, error) {
	if display < 0 {
		return nil, displayErr(display)
	}
	b, err := d.bound(ctx)
	if err != nil {
		return nil, err
	}
	data, err := b.ReadEDID(ctx, display)
	if err != nil {
		return nil, d.backendErr(b, "read EDID", err)
	}
	return data, nil
}

// checkRequest applies defaults and validates again, since requests may
// arrive deserialized rather than built with resolution.New.
func checkRequest(r resolution.CustomResolution, display int) (resolution.CustomResolution, error) {
	if display < 0 {
		return r, displayErr(display)
	}
	return resolution.New(r)
}

func displayErr(display int) error {
	return &resolution.ValidationError{Field: "display", Value: display, Reason: "must not be negative"}
}

// backendErr passes taxonomy errors through and wraps everything else so it
// matches ErrBackendUnavailable.
func (d *Dispatcher) backendErr(b Backend, op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnsupportedMode),
		errors.Is(err, ErrDuplicateResolution),
		errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, resolution.ErrValidation):
		return err
	}
	d.logger.Error("display backend call failed",
		zap.String("backend", b.Name()), zap.String("op", op), zap.Error(err))
	return &BackendError{Backend: b.Name(), Op: op, Err: err}
}
