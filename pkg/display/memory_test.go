package display

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscrnt/gpuctl/pkg/resolution"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := resolution.MustNew(1920, 1080, 60)
	b := resolution.MustNew(2560, 1440, 60)
	require.NoError(t, s.PutResolution(ctx, "sim", 0, a))
	require.NoError(t, s.PutResolution(ctx, "sim", 0, b))
	require.NoError(t, s.PutResolution(ctx, "sim", 1, b))

	list, err := s.ListResolutions(ctx, "sim", 0)
	require.NoError(t, err)
	assert.Equal(t, []resolution.CustomResolution{a, b}, list)

	// put with an existing name replaces in place
	a16 := a
	a16.ColorDepth = 16
	require.NoError(t, s.PutResolution(ctx, "sim", 0, a16))
	list, _ = s.ListResolutions(ctx, "sim", 0)
	assert.Equal(t, []resolution.CustomResolution{a16, b}, list)

	// backends are namespaced
	list, _ = s.ListResolutions(ctx, "other", 0)
	assert.Empty(t, list)

	deleted, err := s.DeleteResolution(ctx, "sim", 0, a.Name)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteResolution(ctx, "sim", 0, a.Name)
	require.NoError(t, err)
	assert.False(t, deleted)

	list, _ = s.ListResolutions(ctx, "sim", 1)
	assert.Len(t, list, 1)

	active, err := s.Active(ctx, "sim", 0)
	require.NoError(t, err)
	assert.Equal(t, "", active)
	require.NoError(t, s.SetActive(ctx, "sim", 0, b.Name))
	active, _ = s.Active(ctx, "sim", 0)
	assert.Equal(t, b.Name, active)

	seeded, err := s.Seeded(ctx, "sim", 0)
	require.NoError(t, err)
	assert.False(t, seeded)
	require.NoError(t, s.MarkSeeded(ctx, "sim", 0))
	seeded, _ = s.Seeded(ctx, "sim", 0)
	assert.True(t, seeded)
	seeded, _ = s.Seeded(ctx, "other", 0)
	assert.False(t, seeded)
}
