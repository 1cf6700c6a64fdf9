package display

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/edid/parser"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// DefaultMaxPixelClockKHz bounds applied modes when the EDID carries no
// range limits descriptor.
const DefaultMaxPixelClockKHz = 1200000

// gpuDevices is the part of the vendor GPU API the NVML backend needs.
type gpuDevices interface {
	Count() (int, error)
	DisplayActive(index int) (bool, error)
	Shutdown() error
}

// modeSetter performs the mode switch once the vendor checks pass.
// *Xrandr implements it.
type modeSetter interface {
	SetMode(ctx context.Context, r resolution.CustomResolution, display int) error
}

// vendorDriver maps display N to GPU N. Built-in modes come from the EDID of
// the display; mode switches are gated on the adapter pixel clock limit and
// on the GPU reporting an active display, then carried out by the setter.
// NVML cannot set modes itself, so without a setter every switch fails with
// ErrUnsupportedMode.
type vendorDriver struct {
	devices gpuDevices
	edid    SysfsEDID
	setter  modeSetter
	logger  *zap.Logger
}

// Vendor is the NVML backend.
type Vendor struct {
	*managedBackend
	devices gpuDevices
}

func newVendor(devices gpuDevices, setter modeSetter, store ResolutionStore, sysfsRoot string, logger *zap.Logger) *Vendor {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	drv := &vendorDriver{devices: devices, edid: SysfsEDID{Root: sysfsRoot}, setter: setter, logger: logger}
	return &Vendor{
		managedBackend: newManagedBackend(BackendNVML, store, drv, logger),
		devices:        devices,
	}
}

// vendorModeSetter returns an xrandr setter when the command is available,
// or nil so vendor mode switches are rejected.
func vendorModeSetter(opts ProbeOptions) modeSetter {
	x := NewXrandr(XrandrOptions{
		Command:   opts.XrandrCommand,
		Runner:    opts.Runner,
		SysfsRoot: opts.SysfsRoot,
		Logger:    opts.Logger,
	})
	if opts.Runner == nil {
		if _, err := exec.LookPath(x.command); err != nil {
			x.logger.Warn("no mode-setting command, vendor backend will reject mode switches",
				zap.String("command", x.command), zap.Error(err))
			return nil
		}
	}
	return x
}

// Close shuts the vendor library down.
func (v *Vendor) Close() error {
	return v.devices.Shutdown()
}

func (d *vendorDriver) displayCount(context.Context) (int, error) {
	return d.devices.Count()
}

func (d *vendorDriver) baseModes(_ context.Context, display int) ([]resolution.CustomResolution, error) {
	data, err := d.edid.Read(display)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	modes, err := edidModes(data)
	if err != nil {
		d.logger.Warn("ignoring unparsable EDID", zap.Int("display", display), zap.Error(err))
		return nil, nil
	}
	return modes, nil
}

func (d *vendorDriver) clockLimitKHz(display int) int {
	data, err := d.edid.Read(display)
	if err != nil {
		return DefaultMaxPixelClockKHz
	}
	info, err := parser.Parse(data)
	if err != nil || info.RangeLimits == nil || info.RangeLimits.MaxPixelClockMHz == 0 {
		return DefaultMaxPixelClockKHz
	}
	return info.RangeLimits.MaxPixelClockMHz * 1000
}

func (d *vendorDriver) switchMode(ctx context.Context, display int, r resolution.CustomResolution) error {
	t, err := resolution.GenerateTiming(r)
	if err != nil {
		return err
	}
	if limit := d.clockLimitKHz(display); t.PixelClockKHz > limit {
		return fmt.Errorf("%w: %s needs %.2f MHz, adapter limit is %d MHz",
			ErrUnsupportedMode, r, t.PixelClockMHz(), limit/1000)
	}

	active, err := d.devices.DisplayActive(display)
	if err != nil {
		return err
	}
	if !active {
		return fmt.Errorf("%w: GPU %d has no active display", ErrUnsupportedMode, display)
	}
	if d.setter == nil {
		return fmt.Errorf("%w: no mode-setting command available for display %d", ErrUnsupportedMode, display)
	}
	return d.setter.SetMode(ctx, r, display)
}

func (d *vendorDriver) readEDID(_ context.Context, display int) ([]byte, error) {
	return d.edid.Read(display)
}
