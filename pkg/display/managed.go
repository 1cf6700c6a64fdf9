package display

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/edid/parser"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// modeDriver is the platform half of a managedBackend: it knows the
// displays, their built-in modes and how to switch modes. Custom modes live
// in a ResolutionStore.
type modeDriver interface {
	// displayCount returns the number of displays, or -1 if every index,
	// negative included, is valid.
	displayCount(ctx context.Context) (int, error)
	baseModes(ctx context.Context, display int) ([]resolution.CustomResolution, error)
	switchMode(ctx context.Context, display int, r resolution.CustomResolution) error
	readEDID(ctx context.Context, display int) ([]byte, error)
}

// managedBackend keeps custom resolutions in a store and delegates the
// hardware side to a modeDriver.
type managedBackend struct {
	name   string
	store  ResolutionStore
	driver modeDriver
	logger *zap.Logger
}

func newManagedBackend(name string, store ResolutionStore, driver modeDriver, logger *zap.Logger) *managedBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &managedBackend{name: name, store: store, driver: driver, logger: logger.With(zap.String("backend", name))}
}

func (b *managedBackend) Name() string { return b.name }

func (b *managedBackend) checkDisplay(ctx context.Context, display int) error {
	n, err := b.driver.displayCount(ctx)
	if err != nil {
		return err
	}
	if n < 0 {
		return nil
	}
	if display < 0 || display >= n {
		return fmt.Errorf("%w: display %d", ErrNotFound, display)
	}
	return nil
}

func (b *managedBackend) ListResolutions(ctx context.Context, display int) ([]Mode, error) {
	if err := b.checkDisplay(ctx, display); err != nil {
		return nil, err
	}
	base, err := b.driver.baseModes(ctx, display)
	if err != nil {
		return nil, err
	}
	custom, err := b.store.ListResolutions(ctx, b.name, display)
	if err != nil {
		return nil, err
	}
	active, err := b.store.Active(ctx, b.name, display)
	if err != nil {
		return nil, err
	}

	modes := make([]Mode, 0, len(base)+len(custom))
	names := make(map[string]bool)
	for i, r := range base {
		names[r.Name] = true
		modes = append(modes, Mode{CustomResolution: r, Active: r.Name == active, Preferred: i == 0})
	}
	for _, r := range custom {
		if names[r.Name] {
			continue
		}
		modes = append(modes, Mode{CustomResolution: r, Active: r.Name == active, Custom: true})
	}
	return modes, nil
}

func (b *managedBackend) AddResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	if err := b.checkDisplay(ctx, display); err != nil {
		return err
	}
	return b.store.PutResolution(ctx, b.name, display, r)
}

func (b *managedBackend) ApplyResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	modes, err := b.ListResolutions(ctx, display)
	if err != nil {
		return err
	}
	if _, ok := findByName(modes, r.Name); !ok {
		return fmt.Errorf("%w: %s on display %d", ErrNotFound, r.Name, display)
	}
	if err := b.driver.switchMode(ctx, display, r); err != nil {
		return err
	}
	return b.store.SetActive(ctx, b.name, display, r.Name)
}

func (b *managedBackend) RemoveResolution(ctx context.Context, name string, display int) error {
	if err := b.checkDisplay(ctx, display); err != nil {
		return err
	}
	active, err := b.store.Active(ctx, b.name, display)
	if err != nil {
		return err
	}
	deleted, err := b.store.DeleteResolution(ctx, b.name, display, name)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("%w: %s on display %d", ErrNotFound, name, display)
	}
	if active != name {
		return nil
	}

	remaining, err := b.ListResolutions(ctx, display)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return b.store.SetActive(ctx, b.name, display, "")
	}
	fallback := remaining[0].CustomResolution
	if err := b.driver.switchMode(ctx, display, fallback); err != nil {
		b.logger.Warn("failed to switch to fallback mode",
			zap.String("mode", fallback.Name), zap.Int("display", display), zap.Error(err))
		return b.store.SetActive(ctx, b.name, display, "")
	}
	b.logger.Info("removed active mode, fell back",
		zap.String("removed", name), zap.String("fallback", fallback.Name), zap.Int("display", display))
	return b.store.SetActive(ctx, b.name, display, fallback.Name)
}

func (b *managedBackend) ReadEDID(ctx context.Context, display int) ([]byte, error) {
	if err := b.checkDisplay(ctx, display); err != nil {
		return nil, err
	}
	return b.driver.readEDID(ctx, display)
}

// edidModes lists the modes advertised by an EDID as resolutions.
func edidModes(data []byte) ([]resolution.CustomResolution, error) {
	info, err := parser.Parse(data)
	if err != nil {
		return nil, err
	}
	var out []resolution.CustomResolution
	for _, m := range info.Modes() {
		if m.Interlaced {
			continue
		}
		out = append(out, resolution.CustomResolution{
			Width:          m.Width,
			Height:         m.Height,
			RefreshRate:    m.RefreshRate,
			ColorDepth:     resolution.DefaultColorDepth,
			TimingStandard: resolution.TimingAutomatic,
			Scaling:        resolution.ScalingNone,
			Name:           resolution.DefaultName(m.Width, m.Height, m.RefreshRate),
		})
	}
	return out, nil
}
