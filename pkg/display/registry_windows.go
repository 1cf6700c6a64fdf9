//go:build windows

package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"github.com/mscrnt/gpuctl/pkg/resolution"
)

const (
	customResolutionsKey = `Software\gpuctl\CustomResolutions`
	activeResolutionKey  = `Software\gpuctl\ActiveResolution`
	seededDisplaysKey    = `Software\gpuctl\SeededDisplays`
	displayEnumKey       = `SYSTEM\CurrentControlSet\Enum\DISPLAY`
)

// user32 constants
const (
	enumCurrentSettings       = 0xFFFFFFFF
	dmBitsPerPel              = 0x00040000
	dmPelsWidth               = 0x00080000
	dmPelsHeight              = 0x00100000
	dmDisplayFrequency        = 0x00400000
	cdsUpdateRegistry         = 0x00000001
	cdsTest                   = 0x00000002
	dispChangeSuccessful      = 0
	displayAttachedToDesktop  = 0x00000001
	displayMirroringDriver    = 0x00000008
	displayDeviceNameCapacity = 32
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	procEnumDisplayDevicesW      = user32.NewProc("EnumDisplayDevicesW")
	procEnumDisplaySettingsW     = user32.NewProc("EnumDisplaySettingsW")
	procChangeDisplaySettingsExW = user32.NewProc("ChangeDisplaySettingsExW")
)

// devMode mirrors DEVMODEW (220 bytes) with the display union members.
type devMode struct {
	DeviceName         [32]uint16
	SpecVersion        uint16
	DriverVersion      uint16
	Size               uint16
	DriverExtra        uint16
	Fields             uint32
	PositionX          int32
	PositionY          int32
	DisplayOrientation uint32
	DisplayFixedOutput uint32
	Color              int16
	Duplex             int16
	YResolution        int16
	TTOption           int16
	Collate            int16
	FormName           [32]uint16
	LogPixels          uint16
	BitsPerPel         uint32
	PelsWidth          uint32
	PelsHeight         uint32
	DisplayFlags       uint32
	DisplayFrequency   uint32
	ICMMethod          uint32
	ICMIntent          uint32
	MediaType          uint32
	DitherType         uint32
	Reserved1          uint32
	Reserved2          uint32
	PanningWidth       uint32
	PanningHeight      uint32
}

// displayDevice mirrors DISPLAY_DEVICEW.
type displayDevice struct {
	Cb           uint32
	DeviceName   [32]uint16
	DeviceString [128]uint16
	StateFlags   uint32
	DeviceID     [128]uint16
	DeviceKey    [128]uint16
}

// RegistryProber succeeds when user32 reports at least one display attached
// to the desktop. Custom resolutions always live under HKCU; opts.Store is
// not used by this backend.
func RegistryProber(opts ProbeOptions) Prober {
	return NewProber(BackendRegistry, PriorityRegistry, func(ctx context.Context) (Backend, error) {
		if err := user32.Load(); err != nil {
			return nil, fmt.Errorf("failed to load user32: %w", err)
		}
		devices, err := attachedDisplays()
		if err != nil {
			return nil, err
		}
		if len(devices) == 0 {
			return nil, errors.New("no display attached to the desktop")
		}
		return newRegistryBackend(opts), nil
	})
}

func newRegistryBackend(opts ProbeOptions) *managedBackend {
	return newManagedBackend(BackendRegistry, registryStore{}, &user32Driver{logger: opts.Logger}, opts.Logger)
}

func attachedDisplays() ([]string, error) {
	var names []string
	for i := uint32(0); ; i++ {
		var dd displayDevice
		dd.Cb = uint32(unsafe.Sizeof(dd))
		ret, _, _ := procEnumDisplayDevicesW.Call(0, uintptr(i), uintptr(unsafe.Pointer(&dd)), 0)
		if ret == 0 {
			break
		}
		if dd.StateFlags&displayAttachedToDesktop == 0 || dd.StateFlags&displayMirroringDriver != 0 {
			continue
		}
		names = append(names, windows.UTF16ToString(dd.DeviceName[:]))
	}
	return names, nil
}

type user32Driver struct {
	logger *zap.Logger
}

func (d *user32Driver) device(display int) (string, error) {
	names, err := attachedDisplays()
	if err != nil {
		return "", err
	}
	if display < 0 || display >= len(names) {
		return "", fmt.Errorf("%w: display %d", ErrNotFound, display)
	}
	return names[display], nil
}

func (d *user32Driver) displayCount(context.Context) (int, error) {
	names, err := attachedDisplays()
	return len(names), err
}

func (d *user32Driver) baseModes(_ context.Context, display int) ([]resolution.CustomResolution, error) {
	name, err := d.device(display)
	if err != nil {
		return nil, err
	}
	devName, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}

	var modes []resolution.CustomResolution
	seen := make(map[resolution.Key]bool)
	for i := uint32(0); ; i++ {
		var dm devMode
		dm.Size = uint16(unsafe.Sizeof(dm))
		ret, _, _ := procEnumDisplaySettingsW.Call(uintptr(unsafe.Pointer(devName)), uintptr(i), uintptr(unsafe.Pointer(&dm)))
		if ret == 0 {
			break
		}
		if dm.BitsPerPel != 32 {
			continue
		}
		k := resolution.Key{Width: int(dm.PelsWidth), Height: int(dm.PelsHeight), RefreshRate: int(dm.DisplayFrequency)}
		if seen[k] {
			continue
		}
		seen[k] = true
		modes = append(modes, resolution.CustomResolution{
			Width:          k.Width,
			Height:         k.Height,
			RefreshRate:    k.RefreshRate,
			ColorDepth:     int(dm.BitsPerPel),
			TimingStandard: resolution.TimingAutomatic,
			Scaling:        resolution.ScalingNone,
			Name:           k.String(),
		})
	}

	// current mode first so it reads as preferred
	var cur devMode
	cur.Size = uint16(unsafe.Sizeof(cur))
	if ret, _, _ := procEnumDisplaySettingsW.Call(uintptr(unsafe.Pointer(devName)), enumCurrentSettings, uintptr(unsafe.Pointer(&cur))); ret != 0 {
		k := resolution.Key{Width: int(cur.PelsWidth), Height: int(cur.PelsHeight), RefreshRate: int(cur.DisplayFrequency)}
		sort.SliceStable(modes, func(i, j int) bool {
			return modes[i].Key() == k && modes[j].Key() != k
		})
	}
	return modes, nil
}

func (d *user32Driver) switchMode(_ context.Context, display int, r resolution.CustomResolution) error {
	name, err := d.device(display)
	if err != nil {
		return err
	}
	devName, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return err
	}

	var dm devMode
	dm.Size = uint16(unsafe.Sizeof(dm))
	dm.Fields = dmBitsPerPel | dmPelsWidth | dmPelsHeight | dmDisplayFrequency
	dm.BitsPerPel = uint32(r.ColorDepth)
	dm.PelsWidth = uint32(r.Width)
	dm.PelsHeight = uint32(r.Height)
	dm.DisplayFrequency = uint32(r.RefreshRate)

	ret, _, _ := procChangeDisplaySettingsExW.Call(uintptr(unsafe.Pointer(devName)), uintptr(unsafe.Pointer(&dm)), 0, cdsTest, 0)
	if int32(ret) != dispChangeSuccessful {
		return fmt.Errorf("%w: %s rejected by driver (code %d)", ErrUnsupportedMode, r, int32(ret))
	}
	ret, _, _ = procChangeDisplaySettingsExW.Call(uintptr(unsafe.Pointer(devName)), uintptr(unsafe.Pointer(&dm)), 0, cdsUpdateRegistry, 0)
	if int32(ret) != dispChangeSuccessful {
		return fmt.Errorf("failed to change display settings for %s (code %d)", r, int32(ret))
	}
	return nil
}

// readEDID returns the N-th EDID found under the monitor enumeration key.
func (d *user32Driver) readEDID(_ context.Context, display int) ([]byte, error) {
	root, err := registry.OpenKey(registry.LOCAL_MACHINE, displayEnumKey, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", displayEnumKey, err)
	}
	defer root.Close()

	models, err := root.ReadSubKeyNames(0)
	if err != nil {
		return nil, err
	}
	sort.Strings(models)

	var blobs [][]byte
	for _, model := range models {
		mk, err := registry.OpenKey(root, model, registry.ENUMERATE_SUB_KEYS)
		if err != nil {
			continue
		}
		instances, _ := mk.ReadSubKeyNames(0)
		mk.Close()
		sort.Strings(instances)
		for _, inst := range instances {
			pk, err := registry.OpenKey(root, model+`\`+inst+`\Device Parameters`, registry.QUERY_VALUE)
			if err != nil {
				continue
			}
			data, _, err := pk.GetBinaryValue("EDID")
			pk.Close()
			if err == nil && len(data) > 0 {
				blobs = append(blobs, data)
			}
		}
	}
	if display < 0 || display >= len(blobs) {
		return nil, fmt.Errorf("%w: no EDID for display %d", ErrNotFound, display)
	}
	return blobs[display], nil
}

// registryStore keeps custom resolutions as JSON string values under HKCU.
type registryStore struct{}

func displayKey(base, backend string, display int) string {
	return fmt.Sprintf(`%s\%s\Display%d`, base, backend, display)
}

func (registryStore) ListResolutions(_ context.Context, backend string, display int) ([]resolution.CustomResolution, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, displayKey(customResolutionsKey, backend, display), registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open resolution key: %w", err)
	}
	defer k.Close()

	names, err := k.ReadValueNames(0)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var out []resolution.CustomResolution
	for _, name := range names {
		raw, _, err := k.GetStringValue(name)
		if err != nil {
			continue
		}
		var r resolution.CustomResolution
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (registryStore) PutResolution(_ context.Context, backend string, display int, r resolution.CustomResolution) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, displayKey(customResolutionsKey, backend, display), registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to create resolution key: %w", err)
	}
	defer k.Close()

	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return k.SetStringValue(r.Name, string(raw))
}

func (registryStore) DeleteResolution(_ context.Context, backend string, display int, name string) (bool, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, displayKey(customResolutionsKey, backend, display), registry.SET_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open resolution key: %w", err)
	}
	defer k.Close()

	err = k.DeleteValue(name)
	if errors.Is(err, registry.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (registryStore) SetActive(_ context.Context, backend string, display int, name string) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, activeResolutionKey+`\`+backend, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to create active resolution key: %w", err)
	}
	defer k.Close()
	return k.SetStringValue(fmt.Sprintf("Display%d", display), name)
}

func (registryStore) Active(_ context.Context, backend string, display int) (string, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, activeResolutionKey+`\`+backend, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer k.Close()

	name, _, err := k.GetStringValue(fmt.Sprintf("Display%d", display))
	if errors.Is(err, registry.ErrNotExist) {
		return "", nil
	}
	return name, err
}

func (registryStore) Seeded(_ context.Context, backend string, display int) (bool, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, seededDisplaysKey+`\`+backend, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer k.Close()

	_, _, err = k.GetIntegerValue(fmt.Sprintf("Display%d", display))
	if errors.Is(err, registry.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (registryStore) MarkSeeded(_ context.Context, backend string, display int) error {
	k, _, err := registry.CreateKey(registry.CURRENT_USER, seededDisplaysKey+`\`+backend, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("failed to create seeded key: %w", err)
	}
	defer k.Close()
	return k.SetDWordValue(fmt.Sprintf("Display%d", display), 1)
}
