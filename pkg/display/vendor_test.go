package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscrnt/gpuctl/pkg/edid"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

type fakeGPUs struct {
	active   []bool
	shutdown bool
}

func (g *fakeGPUs) Count() (int, error) { return len(g.active), nil }
func (g *fakeGPUs) DisplayActive(i int) (bool, error) {
	return g.active[i], nil
}
func (g *fakeGPUs) Shutdown() error {
	g.shutdown = true
	return nil
}

// recordingSetter records mode switches as "display:name".
type recordingSetter struct {
	set []string
	err error
}

func (s *recordingSetter) SetMode(_ context.Context, r resolution.CustomResolution, display int) error {
	s.set = append(s.set, fmt.Sprintf("%d:%s", display, r.Name))
	return s.err
}

// writeConnector creates a fake DRM connector directory.
func writeConnector(t *testing.T, root, name, status string, data []byte) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "status"), []byte(status+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "edid"), data, 0644))
}

func sysfsRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeConnector(t, root, "card0-HDMI-A-1", "disconnected", nil)
	writeConnector(t, root, "card0-DP-2", "connected", edid.Sample())
	writeConnector(t, root, "card0-DP-1", "connected", []byte{})
	return root
}

func TestSysfsEDID(t *testing.T) {
	s := SysfsEDID{Root: sysfsRoot(t)}

	connectors, err := s.Connectors()
	require.NoError(t, err)
	require.Len(t, connectors, 1)
	assert.Equal(t, "card0-DP-2", filepath.Base(connectors[0]))

	data, err := s.Read(0)
	require.NoError(t, err)
	assert.Equal(t, edid.Sample(), data)

	_, err = s.Read(1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVendorListsEDIDModes(t *testing.T) {
	gpus := &fakeGPUs{active: []bool{true}}
	v := newVendor(gpus, nil, nil, sysfsRoot(t), nil)
	ctx := context.Background()

	modes, err := v.ListResolutions(ctx, 0)
	require.NoError(t, err)
	require.NotEmpty(t, modes)
	assert.Equal(t, "3840x2160@60Hz", modes[0].Name)
	assert.True(t, modes[0].Preferred)
	for _, m := range modes {
		assert.False(t, m.Custom, m.Name)
	}

	_, err = v.ListResolutions(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, v.Close())
	assert.True(t, gpus.shutdown)
}

func TestVendorApply(t *testing.T) {
	gpus := &fakeGPUs{active: []bool{true, false}}
	setter := &recordingSetter{}
	v := newVendor(gpus, setter, nil, sysfsRoot(t), nil)
	ctx := context.Background()

	r := resolution.MustNew(2560, 1080, 75)
	require.NoError(t, v.AddResolution(ctx, r, 0))
	require.NoError(t, v.ApplyResolution(ctx, r, 0))
	assert.Equal(t, []string{"0:2560x1080@75Hz"}, setter.set)

	modes, err := v.ListResolutions(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "2560x1080@75Hz", activeName(modes))

	// GPU 1 has no EDID and no active display
	require.NoError(t, v.AddResolution(ctx, r, 1))
	err = v.ApplyResolution(ctx, r, 1)
	assert.ErrorIs(t, err, ErrUnsupportedMode)
	assert.Len(t, setter.set, 1)

	// a failed switch is not recorded as active
	setter.err = errors.New("xrandr: cannot find mode")
	hd := resolution.MustNew(1280, 720, 60)
	require.NoError(t, v.AddResolution(ctx, hd, 0))
	require.Error(t, v.ApplyResolution(ctx, hd, 0))
	modes, err = v.ListResolutions(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "2560x1080@75Hz", activeName(modes))
}

func TestVendorWithoutModeSetterRejectsApply(t *testing.T) {
	v := newVendor(&fakeGPUs{active: []bool{true}}, nil, nil, sysfsRoot(t), nil)
	ctx := context.Background()

	r := resolution.MustNew(2560, 1080, 75)
	require.NoError(t, v.AddResolution(ctx, r, 0))
	err := v.ApplyResolution(ctx, r, 0)
	assert.ErrorIs(t, err, ErrUnsupportedMode)

	modes, err := v.ListResolutions(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "", activeName(modes))
}

func TestVendorSwitchesThroughXrandr(t *testing.T) {
	f, x := newFakeXrandr(xrandrQuery)
	v := newVendor(&fakeGPUs{active: []bool{true}}, x, nil, sysfsRoot(t), nil)
	ctx := context.Background()

	// listed by the output: switched by its xrandr name and rate
	hd := resolution.MustNew(1280, 720, 60)
	require.NoError(t, v.AddResolution(ctx, hd, 0))
	require.NoError(t, v.ApplyResolution(ctx, hd, 0))

	// not listed: defined on the output first
	wide := resolution.MustNew(2560, 1080, 75)
	timing, err := resolution.GenerateTiming(wide)
	require.NoError(t, err)
	require.NoError(t, v.AddResolution(ctx, wide, 0))
	require.NoError(t, v.ApplyResolution(ctx, wide, 0))

	assert.Equal(t, [][]string{
		{"--output", "DP-1", "--mode", "1280x720", "--rate", "60.00"},
		append([]string{"--newmode", "2560x1080@75Hz"}, timing.ModelineArgs()...),
		{"--addmode", "DP-1", "2560x1080@75Hz"},
		{"--output", "DP-1", "--mode", "2560x1080@75Hz"},
	}, f.mutations())
}

func TestVendorModeSetter(t *testing.T) {
	assert.Nil(t, vendorModeSetter(ProbeOptions{XrandrCommand: "gpuctl-missing-xrandr"}))

	f, _ := newFakeXrandr(xrandrQuery)
	assert.NotNil(t, vendorModeSetter(ProbeOptions{Runner: f.run}))
}

func TestVendorPixelClockLimit(t *testing.T) {
	gpus := &fakeGPUs{active: []bool{true}}
	root := t.TempDir()

	// range limits capped at 170 MHz
	limited := edid.Sample()
	limitRangeClock(t, limited, 17)
	writeConnector(t, root, "card0-DP-1", "connected", limited)

	v := newVendor(gpus, &recordingSetter{}, nil, root, nil)
	ctx := context.Background()

	fast := resolution.MustNew(3840, 2160, 120)
	require.NoError(t, v.AddResolution(ctx, fast, 0))
	err := v.ApplyResolution(ctx, fast, 0)
	assert.ErrorIs(t, err, ErrUnsupportedMode)

	slow := resolution.MustNew(1280, 720, 60)
	require.NoError(t, v.ApplyResolution(ctx, slow, 0))
}

// limitRangeClock rewrites the max pixel clock (in 10 MHz units) of the range
// limits descriptor and fixes the checksum.
func limitRangeClock(t *testing.T, data []byte, tensOfMHz byte) {
	t.Helper()
	for off := 54; off <= 108; off += 18 {
		if data[off] == 0 && data[off+1] == 0 && data[off+3] == 0xFD {
			data[off+9] = tensOfMHz
			var sum byte
			for _, b := range data[:127] {
				sum += b
			}
			data[127] = -sum
			return
		}
	}
	t.Fatal("sample EDID has no range limits descriptor")
}
