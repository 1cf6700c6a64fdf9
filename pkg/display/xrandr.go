package display

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// DefaultXrandrCommand is the shell command used by the xrandr backend.
const DefaultXrandrCommand = "xrandr"

const commandTimeout = 5 * time.Second

// CommandRunner runs a command and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec under a timeout.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// XrandrOptions configures the xrandr backend.
type XrandrOptions struct {
	Command   string
	Runner    CommandRunner
	SysfsRoot string
	Logger    *zap.Logger
}

// Xrandr drives X11 outputs through the xrandr command. Display N is the
// N-th connected output in xrandr --query order.
type Xrandr struct {
	command string
	run     CommandRunner
	edid    SysfsEDID
	logger  *zap.Logger

	mu    sync.Mutex
	added map[string]resolution.CustomResolution
}

// NewXrandr creates an xrandr backend without probing it.
func NewXrandr(opts XrandrOptions) *Xrandr {
	if opts.Command == "" {
		opts.Command = DefaultXrandrCommand
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Xrandr{
		command: opts.Command,
		run:     opts.Runner,
		edid:    SysfsEDID{Root: opts.SysfsRoot},
		logger:  opts.Logger.With(zap.String("backend", BackendXrandr)),
		added:   make(map[string]resolution.CustomResolution),
	}
}

// XrandrProber succeeds when the command is on PATH and reports at least one
// connected output.
func XrandrProber(opts XrandrOptions) Prober {
	return NewProber(BackendXrandr, PriorityShell, func(ctx context.Context) (Backend, error) {
		x := NewXrandr(opts)
		if opts.Runner == nil {
			if _, err := exec.LookPath(x.command); err != nil {
				return nil, fmt.Errorf("%s not found: %w", x.command, err)
			}
		}
		outputs, err := x.query(ctx)
		if err != nil {
			return nil, err
		}
		if len(outputs) == 0 {
			return nil, fmt.Errorf("%s reports no connected outputs", x.command)
		}
		return x, nil
	})
}

func (x *Xrandr) Name() string { return BackendXrandr }

type xrandrMode struct {
	Mode
	xname string
	rate  string
}

type xrandrOutput struct {
	name  string
	modes []xrandrMode
}

var (
	outputLine  = regexp.MustCompile(`^(\S+) (connected|disconnected)`)
	modeSize    = regexp.MustCompile(`^(\d+)x(\d+)(i?)`)
	builtinMode = regexp.MustCompile(`^\d+x\d+i?$`)
)

func (x *Xrandr) query(ctx context.Context) ([]xrandrOutput, error) {
	out, err := x.run(ctx, x.command, "--query")
	if err != nil {
		return nil, err
	}
	return x.parseQuery(out), nil
}

// parseQuery extracts connected outputs and their modes from xrandr --query.
func (x *Xrandr) parseQuery(out []byte) []xrandrOutput {
	x.mu.Lock()
	defer x.mu.Unlock()

	var outputs []xrandrOutput
	var current *xrandrOutput

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if m := outputLine.FindStringSubmatch(line); m != nil {
			current = nil
			if m[2] == "connected" {
				outputs = append(outputs, xrandrOutput{name: m[1]})
				current = &outputs[len(outputs)-1]
			}
			continue
		}
		if current == nil || !strings.HasPrefix(line, " ") {
			continue
		}
		current.modes = x.appendModes(current.modes, strings.Fields(line))
	}
	return outputs
}

func (x *Xrandr) appendModes(modes []xrandrMode, fields []string) []xrandrMode {
	if len(fields) < 2 {
		return modes
	}
	xname := fields[0]
	size := modeSize.FindStringSubmatch(xname)
	if size == nil || size[3] == "i" {
		return modes
	}
	width, _ := strconv.Atoi(size[1])
	height, _ := strconv.Atoi(size[2])
	custom := !builtinMode.MatchString(xname)

	last := -1
	for _, field := range fields[1:] {
		flags := strings.TrimLeft(field, "0123456789.")
		rateText := strings.TrimSuffix(field, flags)
		if rateText == "" {
			// "+" or "*" separated from its rate by a space
			if last >= 0 {
				markMode(&modes[last], flags)
			}
			continue
		}
		rate, err := strconv.ParseFloat(rateText, 64)
		if err != nil {
			continue
		}

		refresh := int(math.Round(rate))
		m := xrandrMode{xname: xname, rate: rateText}
		if r, ok := x.added[xname]; ok {
			m.CustomResolution = r
		} else {
			name := resolution.DefaultName(width, height, refresh)
			if custom {
				name = xname
			}
			m.CustomResolution = resolution.CustomResolution{
				Width: width, Height: height, RefreshRate: refresh,
				ColorDepth:     resolution.DefaultColorDepth,
				TimingStandard: resolution.TimingAutomatic,
				Scaling:        resolution.ScalingNone,
				Name:           name,
			}
		}
		m.Custom = custom
		markMode(&m, flags)

		if i := indexByKey(modes, m.Key()); i >= 0 {
			modes[i].Active = modes[i].Active || m.Active
			modes[i].Preferred = modes[i].Preferred || m.Preferred
			last = i
			continue
		}
		modes = append(modes, m)
		last = len(modes) - 1
	}
	return modes
}

func markMode(m *xrandrMode, flags string) {
	if strings.Contains(flags, "*") {
		m.Active = true
	}
	if strings.Contains(flags, "+") {
		m.Preferred = true
	}
}

func indexByKey(modes []xrandrMode, key resolution.Key) int {
	for i, m := range modes {
		if m.Key() == key {
			return i
		}
	}
	return -1
}

func (x *Xrandr) output(ctx context.Context, display int) (xrandrOutput, error) {
	outputs, err := x.query(ctx)
	if err != nil {
		return xrandrOutput{}, err
	}
	if display < 0 || display >= len(outputs) {
		return xrandrOutput{}, fmt.Errorf("%w: display %d", ErrNotFound, display)
	}
	return outputs[display], nil
}

func (x *Xrandr) ListResolutions(ctx context.Context, display int) ([]Mode, error) {
	out, err := x.output(ctx, display)
	if err != nil {
		return nil, err
	}
	modes := make([]Mode, len(out.modes))
	for i, m := range out.modes {
		modes[i] = m.Mode
	}
	return modes, nil
}

func (x *Xrandr) AddResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	out, err := x.output(ctx, display)
	if err != nil {
		return err
	}
	t, err := resolution.GenerateTiming(r)
	if err != nil {
		return err
	}

	args := append([]string{"--newmode", r.Name}, t.ModelineArgs()...)
	if _, err := x.run(ctx, x.command, args...); err != nil {
		if !strings.Contains(err.Error(), "BadName") {
			return err
		}
		x.logger.Debug("mode already defined", zap.String("mode", r.Name))
	}
	if _, err := x.run(ctx, x.command, "--addmode", out.name, r.Name); err != nil {
		return err
	}

	x.mu.Lock()
	x.added[r.Name] = r
	x.mu.Unlock()
	return nil
}

func (x *Xrandr) ApplyResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	out, err := x.output(ctx, display)
	if err != nil {
		return err
	}
	var target *xrandrMode
	for i := range out.modes {
		if out.modes[i].Name == r.Name {
			target = &out.modes[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s on %s", ErrNotFound, r.Name, out.name)
	}

	return x.switchOutput(ctx, out.name, target.xname, target.rate)
}

// SetMode switches display to r, defining r on the output first when the
// output does not list a mode of the same size and rate.
func (x *Xrandr) SetMode(ctx context.Context, r resolution.CustomResolution, display int) error {
	out, err := x.output(ctx, display)
	if err != nil {
		return err
	}
	if i := indexByKey(out.modes, r.Key()); i >= 0 {
		return x.switchOutput(ctx, out.name, out.modes[i].xname, out.modes[i].rate)
	}
	if err := x.AddResolution(ctx, r, display); err != nil {
		return err
	}
	return x.switchOutput(ctx, out.name, r.Name, "")
}

func (x *Xrandr) switchOutput(ctx context.Context, output, mode, rate string) error {
	args := []string{"--output", output, "--mode", mode}
	if rate != "" {
		args = append(args, "--rate", rate)
	}
	if _, err := x.run(ctx, x.command, args...); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedMode, err)
	}
	return nil
}

func (x *Xrandr) RemoveResolution(ctx context.Context, name string, display int) error {
	out, err := x.output(ctx, display)
	if err != nil {
		return err
	}
	var target *xrandrMode
	for i := range out.modes {
		if out.modes[i].Custom && out.modes[i].Name == name {
			target = &out.modes[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s on %s", ErrNotFound, name, out.name)
	}

	if target.Active {
		if _, err := x.run(ctx, x.command, "--output", out.name, "--auto"); err != nil {
			return err
		}
		x.logger.Info("removed active mode, output set to its preferred mode",
			zap.String("mode", name), zap.String("output", out.name))
	}
	if _, err := x.run(ctx, x.command, "--delmode", out.name, target.xname); err != nil {
		return err
	}
	if _, err := x.run(ctx, x.command, "--rmmode", target.xname); err != nil {
		x.logger.Warn("mode still defined after delmode", zap.String("mode", target.xname), zap.Error(err))
	}

	x.mu.Lock()
	delete(x.added, target.xname)
	x.mu.Unlock()
	return nil
}

func (x *Xrandr) ReadEDID(_ context.Context, display int) ([]byte, error) {
	return x.edid.Read(display)
}
