package display

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/edid"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// SimulatedModes are the modes every simulated display starts with.
var SimulatedModes = []resolution.CustomResolution{
	resolution.MustNew(1280, 720, 60),
	resolution.MustNew(1920, 1080, 60),
	resolution.MustNew(2560, 1440, 60),
	resolution.MustNew(3840, 2160, 60),
}

// simulatedActive is the initially active simulated mode.
const simulatedActive = "1920x1080@60Hz"

// Simulated is an in-memory backend for hosts without display hardware.
// Every display index exists and starts with SimulatedModes.
type Simulated struct {
	*managedBackend

	mu     sync.Mutex
	seeded map[int]bool
}

// NewSimulated creates a simulated backend over store. A nil store gets a
// fresh MemoryStore.
func NewSimulated(store ResolutionStore, logger *zap.Logger) *Simulated {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Simulated{
		managedBackend: newManagedBackend(BackendSimulated, store, simulatedDriver{}, logger),
		seeded:         make(map[int]bool),
	}
}

// SimulatedProber always succeeds.
func SimulatedProber(store ResolutionStore, logger *zap.Logger) Prober {
	return NewProber(BackendSimulated, PrioritySimulated, func(ctx context.Context) (Backend, error) {
		return NewSimulated(store, logger), nil
	})
}

func (s *Simulated) seed(ctx context.Context, display int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded[display] {
		return nil
	}
	// a persistent store may already hold this display from an earlier run
	done, err := s.store.Seeded(ctx, s.name, display)
	if err != nil {
		return err
	}
	if !done {
		existing, err := s.store.ListResolutions(ctx, s.name, display)
		if err != nil {
			return err
		}
		// stores written before the seeded marker existed only hold modes
		if len(existing) == 0 {
			for _, r := range SimulatedModes {
				if err := s.store.PutResolution(ctx, s.name, display, r); err != nil {
					return err
				}
			}
			if err := s.store.SetActive(ctx, s.name, display, simulatedActive); err != nil {
				return err
			}
		}
		if err := s.store.MarkSeeded(ctx, s.name, display); err != nil {
			return err
		}
	}
	s.seeded[display] = true
	return nil
}

func (s *Simulated) ListResolutions(ctx context.Context, display int) ([]Mode, error) {
	if err := s.seed(ctx, display); err != nil {
		return nil, err
	}
	return s.managedBackend.ListResolutions(ctx, display)
}

func (s *Simulated) AddResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	if err := s.seed(ctx, display); err != nil {
		return err
	}
	return s.managedBackend.AddResolution(ctx, r, display)
}

func (s *Simulated) ApplyResolution(ctx context.Context, r resolution.CustomResolution, display int) error {
	if err := s.seed(ctx, display); err != nil {
		return err
	}
	return s.managedBackend.ApplyResolution(ctx, r, display)
}

func (s *Simulated) RemoveResolution(ctx context.Context, name string, display int) error {
	if err := s.seed(ctx, display); err != nil {
		return err
	}
	return s.managedBackend.RemoveResolution(ctx, name, display)
}

// simulatedDriver accepts every display index and mode switch.
type simulatedDriver struct{}

func (simulatedDriver) displayCount(context.Context) (int, error) { return -1, nil }

func (simulatedDriver) baseModes(context.Context, int) ([]resolution.CustomResolution, error) {
	return nil, nil
}

func (simulatedDriver) switchMode(context.Context, int, resolution.CustomResolution) error {
	return nil
}

func (simulatedDriver) readEDID(context.Context, int) ([]byte, error) {
	return edid.Sample(), nil
}
