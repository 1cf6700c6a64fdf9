package gpu

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// countingSource counts reads and optionally blocks them until release is
// closed or the read's context ends.
type countingSource struct {
	reads   atomic.Int32
	release chan struct{}
	err     error
}

func (c *countingSource) Name() string { return "counting" }

func (c *countingSource) Read(ctx context.Context, gpu int) (Telemetry, error) {
	c.reads.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return Telemetry{}, ctx.Err()
		}
	}
	if c.err != nil {
		return Telemetry{}, c.err
	}
	return Telemetry{Name: "Test GPU", TemperatureC: 50}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestFacade(src TelemetrySource) (*Facade, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(Options{Telemetry: src, Now: clock.Now}), clock
}

func ptr[T any](v T) *T { return &v }

func TestPatchValidate(t *testing.T) {
	tests := []struct {
		name  string
		patch Patch
		field string
	}{
		{"empty", Patch{}, ""},
		{"all valid", AIPatch(), ""},
		{"balanced power", Patch{PowerMode: ptr(PowerBalanced)}, ""},
		{"high quality textures", Patch{TextureFiltering: ptr(TextureHighQuality)}, ""},
		{"fast sync", Patch{VerticalSync: ptr(VSyncFast)}, ""},
		{"bad power", Patch{PowerMode: ptr(PowerMode("Turbo"))}, "power_mode"},
		{"bad textures", Patch{TextureFiltering: ptr(TextureFiltering("Ultra"))}, "texture_filtering"},
		{"bad sync", Patch{PowerMode: ptr(PowerOptimal), VerticalSync: ptr(VerticalSync("Sometimes"))}, "vertical_sync"},
		{"case matters", Patch{VerticalSync: ptr(VerticalSync("off"))}, "vertical_sync"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidSetting)
			var ise *InvalidSettingError
			require.True(t, errors.As(err, &ise))
			assert.Equal(t, tt.field, ise.Field)
		})
	}
}

func TestDecodePatch(t *testing.T) {
	p, err := ParsePatch([]byte(`{"power_mode": "Balanced", "vertical_sync": "Adaptive"}`))
	require.NoError(t, err)
	assert.Equal(t, PowerBalanced, *p.PowerMode)
	assert.Nil(t, p.TextureFiltering)
	assert.Equal(t, VSyncAdaptive, *p.VerticalSync)

	_, err = ParsePatch([]byte(`{"power_mode": "Balanced", "gpu_clock": 2000}`))
	var ise *InvalidSettingError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "gpu_clock", ise.Field)

	_, err = ParsePatch([]byte(`{"texture_filtering": "Blurry"}`))
	assert.ErrorIs(t, err, ErrInvalidSetting)

	_, err = ParsePatch([]byte(`{"power_mode": "Balanced", "Power_Mode": "Balanced"}`))
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "Power_Mode", ise.Field)

	p, err = ParsePatch([]byte(`{}`))
	require.NoError(t, err)
	assert.True(t, p.Empty())

	_, err = DecodePatch(strings.NewReader(`{"power_mode": `))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSetting)
}

func TestGetSettingsDefaults(t *testing.T) {
	f := New(Options{})
	s, err := f.GetSettings(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DefaultMutable, s.Mutable)
	assert.Equal(t, SourceSimulated, s.Source)
	assert.Equal(t, 1500, s.GraphicsClockMHz)
	assert.Equal(t, 7000, s.MemoryClockMHz)
	assert.Equal(t, 65, s.TemperatureC)
}

func TestGetSettingsCachesWithinTTL(t *testing.T) {
	src := &countingSource{}
	f, clock := newTestFacade(src)
	ctx := context.Background()

	_, err := f.GetSettings(ctx)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	_, err = f.GetSettings(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.reads.Load())

	clock.Advance(time.Second)
	_, err = f.GetSettings(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.reads.Load())

	f.Invalidate()
	_, err = f.GetSettings(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, src.reads.Load())
}

func TestGetSettingsWithoutCache(t *testing.T) {
	src := &countingSource{}
	f := New(Options{Telemetry: src, TTL: -1})
	for i := 0; i < 3; i++ {
		_, err := f.GetSettings(context.Background())
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, src.reads.Load())
}

func TestGetSettingsErrorsAreNotCached(t *testing.T) {
	src := &countingSource{err: errors.New("device lost")}
	f, _ := newTestFacade(src)

	_, err := f.GetSettings(context.Background())
	require.Error(t, err)
	_, err = f.GetSettings(context.Background())
	require.Error(t, err)
	assert.EqualValues(t, 2, src.reads.Load())
}

func TestConcurrentGetSettingsShareOneRead(t *testing.T) {
	src := &countingSource{release: make(chan struct{})}
	f, _ := newTestFacade(src)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]Settings, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := f.GetSettings(context.Background())
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Less(t, src.reads.Load(), int32(callers))
	for _, s := range results {
		assert.Equal(t, "Test GPU", s.Name)
	}
}

func TestCancelledCallerDoesNotFailSharedRead(t *testing.T) {
	src := &countingSource{release: make(chan struct{})}
	f, _ := newTestFacade(src)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.GetSettings(ctx)
		first <- err
	}()
	require.Eventually(t, func() bool { return src.reads.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	// joins the read still in flight, or finds the snapshot it cached
	second := make(chan error, 1)
	var s Settings
	go func() {
		var err error
		s, err = f.GetSettings(context.Background())
		second <- err
	}()
	close(src.release)

	require.NoError(t, <-second)
	assert.Equal(t, "Test GPU", s.Name)
	assert.EqualValues(t, 1, src.reads.Load())
}

func TestSetSettings(t *testing.T) {
	src := &countingSource{}
	f, _ := newTestFacade(src)
	ctx := context.Background()

	_, err := f.GetSettings(ctx)
	require.NoError(t, err)

	s, err := f.SetSettings(ctx, Patch{VerticalSync: ptr(VSyncOn)})
	require.NoError(t, err)
	assert.Equal(t, VSyncOn, s.VerticalSync)
	assert.Equal(t, PowerOptimal, s.PowerMode)
	// the set invalidated the cache, so telemetry was read again
	assert.EqualValues(t, 2, src.reads.Load())

	s, err = f.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, VSyncOn, s.VerticalSync)
	assert.EqualValues(t, 2, src.reads.Load())
}

func TestSetSettingsIsAllOrNothing(t *testing.T) {
	store := NewMemorySettingsStore()
	f := New(Options{Store: store})
	ctx := context.Background()

	_, err := f.SetSettings(ctx, Patch{
		PowerMode:    ptr(PowerMaxPerformance),
		VerticalSync: ptr(VerticalSync("Triple")),
	})
	require.ErrorIs(t, err, ErrInvalidSetting)

	_, saved, err := store.LoadSettings(ctx, 0)
	require.NoError(t, err)
	assert.False(t, saved)

	s, err := f.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultMutable, s.Mutable)
}

func TestOptimizeForAI(t *testing.T) {
	f := New(Options{})
	s, err := f.OptimizeForAI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Mutable{
		PowerMode:        PowerMaxPerformance,
		TextureFiltering: TexturePerformance,
		VerticalSync:     VSyncOff,
	}, s.Mutable)
}

func TestSettingsPersistAcrossFacades(t *testing.T) {
	store := NewMemorySettingsStore()
	ctx := context.Background()

	_, err := New(Options{Store: store}).SetSettings(ctx, Patch{TextureFiltering: ptr(TextureBalanced)})
	require.NoError(t, err)

	s, err := New(Options{Store: store}).GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, TextureBalanced, s.TextureFiltering)
}
