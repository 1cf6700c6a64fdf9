package display

import "go.uber.org/zap"

// ProbeOptions is shared by the built-in probers.
type ProbeOptions struct {
	// Store persists custom resolutions for the nvml and simulated backends.
	// Nil means an in-memory store. The registry backend keeps its own
	// under HKCU.
	Store         ResolutionStore
	XrandrCommand string
	Runner        CommandRunner
	SysfsRoot     string
	Logger        *zap.Logger
}

// DefaultRegistry registers the four built-in backends: vendor API, OS
// configuration store, shell command and simulation.
func DefaultRegistry(opts ProbeOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := NewRegistry()
	for _, p := range []Prober{
		NVMLProber(opts),
		RegistryProber(opts),
		XrandrProber(XrandrOptions{
			Command:   opts.XrandrCommand,
			Runner:    opts.Runner,
			SysfsRoot: opts.SysfsRoot,
			Logger:    opts.Logger,
		}),
		SimulatedProber(opts.Store, opts.Logger),
	} {
		// names are distinct, Register cannot fail here
		_ = r.Register(p)
	}
	return r
}
