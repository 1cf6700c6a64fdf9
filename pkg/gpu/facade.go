package gpu

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a settings snapshot is served from cache.
const DefaultTTL = 3 * time.Second

// SettingsStore persists the mutable settings per GPU.
type SettingsStore interface {
	// LoadSettings returns false when nothing was saved for the GPU.
	LoadSettings(ctx context.Context, gpu int) (Mutable, bool, error)
	SaveSettings(ctx context.Context, gpu int, m Mutable) error
}

// MemorySettingsStore is an in-process SettingsStore.
type MemorySettingsStore struct {
	mu       sync.Mutex
	settings map[int]Mutable
}

func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{settings: make(map[int]Mutable)}
}

func (s *MemorySettingsStore) LoadSettings(_ context.Context, gpu int) (Mutable, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.settings[gpu]
	return m, ok, nil
}

func (s *MemorySettingsStore) SaveSettings(_ context.Context, gpu int, m Mutable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[gpu] = m
	return nil
}

// Options configures a Facade.
type Options struct {
	Store     SettingsStore
	Telemetry TelemetrySource
	// TTL of the cached snapshot; zero means DefaultTTL, negative disables
	// caching.
	TTL    time.Duration
	GPU    int
	Logger *zap.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Facade is the settings get/set surface. It is safe for concurrent use;
// the cached snapshot is the only shared state and no I/O happens while
// its lock is held.
type Facade struct {
	store     SettingsStore
	telemetry TelemetrySource
	ttl       time.Duration
	gpu       int
	logger    *zap.Logger
	now       func() time.Time

	group singleflight.Group

	// writeMu serializes read-modify-write of the stored settings
	writeMu sync.Mutex

	mu         sync.Mutex
	cached     *Settings
	cachedAt   time.Time
	generation uint64
}

// New creates a Facade. Missing options get an in-memory store, simulated
// telemetry and DefaultTTL.
func New(opts Options) *Facade {
	if opts.Store == nil {
		opts.Store = NewMemorySettingsStore()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = SimulatedTelemetry{}
	}
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Facade{
		store:     opts.Store,
		telemetry: opts.Telemetry,
		ttl:       opts.TTL,
		gpu:       opts.GPU,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Source returns the telemetry source name.
func (f *Facade) Source() string { return f.telemetry.Name() }

// GetSettings returns the current snapshot, from cache when it is younger
// than the TTL.
func (f *Facade) GetSettings(ctx context.Context) (Settings, error) {
	f.mu.Lock()
	if f.cached != nil && f.now().Sub(f.cachedAt) < f.ttl {
		s := *f.cached
		f.mu.Unlock()
		return s, nil
	}
	gen := f.generation
	f.mu.Unlock()

	// keyed by generation so a read started before a set is never shared
	// with a read started after it. The shared read outlives any single
	// caller's cancellation and caches its own result; each caller stops
	// waiting on its own ctx.
	ch := f.group.DoChan(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		s, err := f.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		if f.generation == gen && f.ttl > 0 {
			f.cached = &s
			f.cachedAt = f.now()
		}
		f.mu.Unlock()
		return s, nil
	})
	select {
	case <-ctx.Done():
		return Settings{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Settings{}, res.Err
		}
		return res.Val.(Settings), nil
	}
}

func (f *Facade) load(ctx context.Context) (Settings, error) {
	m, err := f.mutable(ctx)
	if err != nil {
		return Settings{}, err
	}
	t, err := f.telemetry.Read(ctx, f.gpu)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read %s telemetry: %w", f.telemetry.Name(), err)
	}
	return Settings{
		Mutable:   m,
		Telemetry: t,
		GPU:       f.gpu,
		Source:    f.telemetry.Name(),
		ReadAt:    f.now(),
	}, nil
}

func (f *Facade) mutable(ctx context.Context) (Mutable, error) {
	m, ok, err := f.store.LoadSettings(ctx, f.gpu)
	if err != nil {
		return Mutable{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if !ok {
		return DefaultMutable, nil
	}
	return m, nil
}

// SetSettings validates every field of p before changing anything, saves
// the result and returns a fresh snapshot. An invalid field fails the whole
// call with an *InvalidSettingError.
func (f *Facade) SetSettings(ctx context.Context, p Patch) (Settings, error) {
	if err := p.Validate(); err != nil {
		return Settings{}, err
	}
	if p.Empty() {
		return f.GetSettings(ctx)
	}

	f.writeMu.Lock()
	current, err := f.mutable(ctx)
	if err == nil {
		err = f.store.SaveSettings(ctx, f.gpu, p.Apply(current))
	}
	f.writeMu.Unlock()
	if err != nil {
		return Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}

	f.Invalidate()
	next := p.Apply(current)
	f.logger.Info("GPU settings applied",
		zap.Int("gpu", f.gpu),
		zap.String("power_mode", string(next.PowerMode)),
		zap.String("texture_filtering", string(next.TextureFiltering)),
		zap.String("vertical_sync", string(next.VerticalSync)))
	return f.GetSettings(ctx)
}

// OptimizeForAI applies AIPatch.
func (f *Facade) OptimizeForAI(ctx context.Context) (Settings, error) {
	return f.SetSettings(ctx, AIPatch())
}

// Invalidate drops the cached snapshot.
func (f *Facade) Invalidate() {
	f.mu.Lock()
	f.cached = nil
	f.generation++
	f.mu.Unlock()
}

// Close releases the telemetry source if it holds resources.
func (f *Facade) Close() error {
	if c, ok := f.telemetry.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
