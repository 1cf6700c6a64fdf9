//go:build linux

package display

import (
	"context"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

type nvmlDevices struct{}

func (nvmlDevices) Count() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("failed to get device count: %s", nvml.ErrorString(ret))
	}
	return count, nil
}

func (nvmlDevices) DisplayActive(index int) (bool, error) {
	device, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return false, fmt.Errorf("failed to get device %d: %s", index, nvml.ErrorString(ret))
	}
	state, ret := device.GetDisplayActive()
	if ret != nvml.SUCCESS {
		return false, fmt.Errorf("failed to query display state of device %d: %s", index, nvml.ErrorString(ret))
	}
	return state == nvml.FEATURE_ENABLED, nil
}

func (nvmlDevices) Shutdown() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to shut down NVML: %s", nvml.ErrorString(ret))
	}
	return nil
}

// NVMLProber succeeds when the NVML library loads and reports at least one
// device.
func NVMLProber(opts ProbeOptions) Prober {
	return NewProber(BackendNVML, PriorityVendor, func(ctx context.Context) (Backend, error) {
		if ret := nvml.Init(); ret != nvml.SUCCESS {
			return nil, fmt.Errorf("failed to initialize NVML: %s", nvml.ErrorString(ret))
		}
		devices := nvmlDevices{}
		count, err := devices.Count()
		if err == nil && count == 0 {
			err = fmt.Errorf("NVML reports no devices")
		}
		if err != nil {
			_ = devices.Shutdown()
			return nil, err
		}
		return newVendor(devices, vendorModeSetter(opts), opts.Store, opts.SysfsRoot, opts.Logger), nil
	})
}
