//go:build linux

package gpu

import (
	"context"
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// NVMLTelemetry reads telemetry through the NVIDIA management library.
type NVMLTelemetry struct{}

// NewNVMLTelemetry initializes NVML. Call Close when done.
func NewNVMLTelemetry() (TelemetrySource, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("failed to initialize NVML: %s", nvml.ErrorString(ret))
	}
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS || count == 0 {
		_ = nvml.Shutdown()
		return nil, fmt.Errorf("NVML reports no devices")
	}
	return NVMLTelemetry{}, nil
}

func (NVMLTelemetry) Name() string { return SourceNVML }

func (NVMLTelemetry) Read(_ context.Context, gpu int) (Telemetry, error) {
	device, ret := nvml.DeviceGetHandleByIndex(gpu)
	if ret != nvml.SUCCESS {
		return Telemetry{}, fmt.Errorf("failed to get device %d: %s", gpu, nvml.ErrorString(ret))
	}

	var t Telemetry
	t.Name, _ = device.GetName()
	t.DriverVersion, _ = nvml.SystemGetDriverVersion()
	if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
		t.TemperatureC = int(temp)
	}
	if util, ret := device.GetUtilizationRates(); ret == nvml.SUCCESS {
		t.UtilizationPct = int(util.Gpu)
	}
	if power, ret := device.GetPowerUsage(); ret == nvml.SUCCESS {
		t.PowerDrawW = float64(power) / 1000.0 // milliwatts
	}
	if fan, ret := device.GetFanSpeed(); ret == nvml.SUCCESS {
		t.FanSpeedPct = int(fan)
	}
	if clock, ret := device.GetClockInfo(nvml.CLOCK_GRAPHICS); ret == nvml.SUCCESS {
		t.GraphicsClockMHz = int(clock)
	}
	if clock, ret := device.GetClockInfo(nvml.CLOCK_MEM); ret == nvml.SUCCESS {
		t.MemoryClockMHz = int(clock)
	}
	return t, nil
}

// Close shuts NVML down.
func (NVMLTelemetry) Close() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("failed to shut down NVML: %s", nvml.ErrorString(ret))
	}
	return nil
}
