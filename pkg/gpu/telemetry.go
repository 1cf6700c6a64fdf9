package gpu

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/display"
)

// Telemetry source names
const (
	SourceNVML      = "nvml"
	SourceSMI       = "nvidia-smi"
	SourceSimulated = "simulated"
)

// TelemetrySource reads live GPU state.
type TelemetrySource interface {
	Name() string
	Read(ctx context.Context, gpu int) (Telemetry, error)
}

// SimulatedTelemetry returns fixed values for hosts without a GPU.
type SimulatedTelemetry struct{}

func (SimulatedTelemetry) Name() string { return SourceSimulated }

func (SimulatedTelemetry) Read(context.Context, int) (Telemetry, error) {
	return Telemetry{
		Name:             "Simulated GPU",
		DriverVersion:    "simulated",
		GraphicsClockMHz: 1500,
		MemoryClockMHz:   7000,
		TemperatureC:     65,
		UtilizationPct:   15,
		PowerDrawW:       120,
		FanSpeedPct:      45,
	}, nil
}

// DefaultSMICommand is the command used by SMITelemetry.
const DefaultSMICommand = "nvidia-smi"

const smiQuery = "name,driver_version,clocks.gr,clocks.mem,temperature.gpu,utilization.gpu,power.draw,fan.speed"

// SMITelemetry reads telemetry by running nvidia-smi in CSV mode.
type SMITelemetry struct {
	Command string
	Runner  display.CommandRunner
}

func (s SMITelemetry) Name() string { return SourceSMI }

func (s SMITelemetry) command() string {
	if s.Command == "" {
		return DefaultSMICommand
	}
	return s.Command
}

func (s SMITelemetry) Read(ctx context.Context, gpu int) (Telemetry, error) {
	run := s.Runner
	if run == nil {
		run = display.ExecRunner
	}
	out, err := run(ctx, s.command(),
		"--query-gpu="+smiQuery, "--format=csv,noheader,nounits", "-i", strconv.Itoa(gpu))
	if err != nil {
		return Telemetry{}, err
	}
	return parseSMI(string(out))
}

// parseSMI parses one nvidia-smi CSV row. Fields reported as [N/A] or
// [Not Supported] read as zero.
func parseSMI(out string) (Telemetry, error) {
	line := strings.TrimSpace(strings.SplitN(strings.TrimSpace(out), "\n", 2)[0])
	parts := strings.Split(line, ", ")
	if len(parts) < 8 {
		return Telemetry{}, fmt.Errorf("unexpected nvidia-smi output: %q", line)
	}

	number := func(s string) float64 {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0
		}
		return v
	}
	whole := func(s string) int { return int(math.Round(number(s))) }

	return Telemetry{
		Name:             parts[0],
		DriverVersion:    parts[1],
		GraphicsClockMHz: whole(parts[2]),
		MemoryClockMHz:   whole(parts[3]),
		TemperatureC:     whole(parts[4]),
		UtilizationPct:   whole(parts[5]),
		PowerDrawW:       number(parts[6]),
		FanSpeedPct:      whole(parts[7]),
	}, nil
}

// TelemetryOptions configures DetectTelemetry.
type TelemetryOptions struct {
	// Force selects a source by name without probing.
	Force      string
	SMICommand string
	Runner     display.CommandRunner
	Logger     *zap.Logger
}

// DetectTelemetry picks the first working source: NVML, then nvidia-smi,
// then simulated values.
func DetectTelemetry(ctx context.Context, opts TelemetryOptions) TelemetrySource {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	smi := SMITelemetry{Command: opts.SMICommand, Runner: opts.Runner}

	switch opts.Force {
	case SourceSimulated:
		return SimulatedTelemetry{}
	case SourceSMI:
		return smi
	case SourceNVML:
		src, err := NewNVMLTelemetry()
		if err == nil {
			return src
		}
		logger.Warn("forced NVML telemetry unavailable, using simulated values", zap.Error(err))
		return SimulatedTelemetry{}
	}

	src, err := NewNVMLTelemetry()
	if err == nil {
		logger.Info("telemetry source selected", zap.String("source", SourceNVML))
		return src
	}
	logger.Debug("NVML telemetry unavailable", zap.Error(err))

	if opts.Runner != nil || lookPath(smi.command()) {
		_, err := smi.Read(ctx, 0)
		if err == nil {
			logger.Info("telemetry source selected", zap.String("source", SourceSMI))
			return smi
		}
		logger.Debug("nvidia-smi telemetry unavailable", zap.Error(err))
	}

	logger.Info("telemetry source selected", zap.String("source", SourceSimulated))
	return SimulatedTelemetry{}
}

func lookPath(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
