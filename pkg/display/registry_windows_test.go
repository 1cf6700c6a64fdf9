//go:build windows

package display

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows/registry"

	"github.com/mscrnt/gpuctl/pkg/resolution"
)

func TestRegistryBackendKeepsModesUnderHKCU(t *testing.T) {
	b := newRegistryBackend(ProbeOptions{Store: NewMemoryStore()})
	_, ok := b.store.(registryStore)
	assert.True(t, ok, "registry backend must not use the shared store, got %T", b.store)
}

func TestRegistryStore(t *testing.T) {
	ctx := context.Background()
	backend := fmt.Sprintf("test-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		for _, base := range []string{customResolutionsKey, activeResolutionKey, seededDisplaysKey} {
			_ = registry.DeleteKey(registry.CURRENT_USER, displayKey(base, backend, 0))
			_ = registry.DeleteKey(registry.CURRENT_USER, base+`\`+backend)
		}
	})

	s := registryStore{}
	r := resolution.MustNew(2560, 1080, 75)
	require.NoError(t, s.PutResolution(ctx, backend, 0, r))

	list, err := s.ListResolutions(ctx, backend, 0)
	require.NoError(t, err)
	assert.Equal(t, []resolution.CustomResolution{r}, list)

	require.NoError(t, s.SetActive(ctx, backend, 0, r.Name))
	active, err := s.Active(ctx, backend, 0)
	require.NoError(t, err)
	assert.Equal(t, r.Name, active)

	seeded, err := s.Seeded(ctx, backend, 0)
	require.NoError(t, err)
	assert.False(t, seeded)
	require.NoError(t, s.MarkSeeded(ctx, backend, 0))
	seeded, err = s.Seeded(ctx, backend, 0)
	require.NoError(t, err)
	assert.True(t, seeded)

	deleted, err := s.DeleteResolution(ctx, backend, 0, r.Name)
	require.NoError(t, err)
	assert.True(t, deleted)
	list, err = s.ListResolutions(ctx, backend, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
