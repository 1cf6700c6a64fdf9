package db

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscrnt/gpuctl/pkg/display"
	"github.com/mscrnt/gpuctl/pkg/gpu"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "gpuctl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gpuctl.db")
	db, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, db.Path())
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Close())
}

func TestResolutionStore(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Resolutions()

	a := resolution.MustNew(1920, 1080, 60)
	b := resolution.MustNew(2560, 1440, 144)
	b.TimingStandard = resolution.TimingCVTRB
	require.NoError(t, s.PutResolution(ctx, display.BackendNVML, 0, a))
	require.NoError(t, s.PutResolution(ctx, display.BackendNVML, 0, b))
	require.NoError(t, s.PutResolution(ctx, display.BackendNVML, 1, a))

	list, err := s.ListResolutions(ctx, display.BackendNVML, 0)
	require.NoError(t, err)
	assert.Equal(t, []resolution.CustomResolution{a, b}, list)

	// upsert keeps insertion order
	a16 := a
	a16.ColorDepth = 16
	require.NoError(t, s.PutResolution(ctx, display.BackendNVML, 0, a16))
	list, err = s.ListResolutions(ctx, display.BackendNVML, 0)
	require.NoError(t, err)
	assert.Equal(t, []resolution.CustomResolution{a16, b}, list)

	list, err = s.ListResolutions(ctx, display.BackendSimulated, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	deleted, err := s.DeleteResolution(ctx, display.BackendNVML, 0, a.Name)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteResolution(ctx, display.BackendNVML, 0, a.Name)
	require.NoError(t, err)
	assert.False(t, deleted)

	list, err = s.ListResolutions(ctx, display.BackendNVML, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestResolutionStoreActive(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Resolutions()

	active, err := s.Active(ctx, display.BackendXrandr, 0)
	require.NoError(t, err)
	assert.Equal(t, "", active)

	require.NoError(t, s.SetActive(ctx, display.BackendXrandr, 0, "1920x1080@60Hz"))
	require.NoError(t, s.SetActive(ctx, display.BackendXrandr, 0, "1280x720@60Hz"))
	active, err = s.Active(ctx, display.BackendXrandr, 0)
	require.NoError(t, err)
	assert.Equal(t, "1280x720@60Hz", active)

	require.NoError(t, s.SetActive(ctx, display.BackendXrandr, 0, ""))
	active, err = s.Active(ctx, display.BackendXrandr, 0)
	require.NoError(t, err)
	assert.Equal(t, "", active)
}

func TestSimulatedBackendOverSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gpuctl.db")

	db, err := Open(path)
	require.NoError(t, err)
	d := display.NewDispatcher(display.DefaultRegistry(display.ProbeOptions{Store: db.Resolutions()}),
		display.DispatcherOptions{Force: display.BackendSimulated})
	r := resolution.MustNew(3440, 1440, 60)
	require.NoError(t, d.ApplyResolution(ctx, r, 0))
	require.NoError(t, db.Close())

	db = openTestDBAt(t, path)
	d = display.NewDispatcher(display.DefaultRegistry(display.ProbeOptions{Store: db.Resolutions()}),
		display.DispatcherOptions{Force: display.BackendSimulated})
	modes := d.ListResolutions(ctx, 0)
	require.Len(t, modes, 5)
	var found bool
	for _, m := range modes {
		if m.Name == r.Name {
			found = true
			assert.True(t, m.Active)
		}
	}
	assert.True(t, found, "applied mode should survive a restart")
}

func TestResolutionStoreSeeded(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Resolutions()

	seeded, err := s.Seeded(ctx, display.BackendSimulated, 0)
	require.NoError(t, err)
	assert.False(t, seeded)

	require.NoError(t, s.MarkSeeded(ctx, display.BackendSimulated, 0))
	require.NoError(t, s.MarkSeeded(ctx, display.BackendSimulated, 0))
	seeded, err = s.Seeded(ctx, display.BackendSimulated, 0)
	require.NoError(t, err)
	assert.True(t, seeded)

	seeded, err = s.Seeded(ctx, display.BackendSimulated, 1)
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestSimulatedRemovalsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "gpuctl.db")

	db, err := Open(path)
	require.NoError(t, err)
	d := display.NewDispatcher(display.DefaultRegistry(display.ProbeOptions{Store: db.Resolutions()}),
		display.DispatcherOptions{Force: display.BackendSimulated})
	for _, r := range display.SimulatedModes {
		require.NoError(t, d.RemoveResolution(ctx, r.Name, 0))
	}
	require.Empty(t, d.ListResolutions(ctx, 0))
	require.NoError(t, db.Close())

	db = openTestDBAt(t, path)
	d = display.NewDispatcher(display.DefaultRegistry(display.ProbeOptions{Store: db.Resolutions()}),
		display.DispatcherOptions{Force: display.BackendSimulated})
	assert.Empty(t, d.ListResolutions(ctx, 0), "removed modes must not be seeded again")
	assert.Len(t, d.ListResolutions(ctx, 1), len(display.SimulatedModes))
}

func openTestDBAt(t *testing.T, path string) *DB {
	t.Helper()
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSettingsStore(t *testing.T) {
	ctx := context.Background()
	s := openTestDB(t).Settings()

	_, ok, err := s.LoadSettings(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	want := gpu.Mutable{
		PowerMode:        gpu.PowerMaxPerformance,
		TextureFiltering: gpu.TexturePerformance,
		VerticalSync:     gpu.VSyncOff,
	}
	require.NoError(t, s.SaveSettings(ctx, 0, gpu.DefaultMutable))
	require.NoError(t, s.SaveSettings(ctx, 0, want))

	got, ok, err := s.LoadSettings(ctx, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = s.LoadSettings(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFacadeOverSQLite(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	f := gpu.New(gpu.Options{Store: db.Settings(), Telemetry: gpu.SimulatedTelemetry{}})
	_, err := f.OptimizeForAI(ctx)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f = gpu.New(gpu.Options{Store: db.Settings(), Telemetry: gpu.SimulatedTelemetry{}})
	defer func() { _ = f.Close() }()
	s, err := f.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, gpu.PowerMaxPerformance, s.PowerMode)
	assert.Equal(t, gpu.TexturePerformance, s.TextureFiltering)
	assert.Equal(t, gpu.VSyncOff, s.VerticalSync)
}

func seedApplications(t *testing.T, db *DB) int64 {
	t.Helper()
	ctx := context.Background()

	result, err := db.Conn().ExecContext(ctx,
		`INSERT INTO schedules (name, cron_expr, profile) VALUES ('nightly', '0 2 * * *', 'ai')`)
	require.NoError(t, err)
	scheduleID, err := result.LastInsertId()
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	apps := []*Application{
		{Profile: "ai", Source: SourceCLI, Success: true, AppliedAt: base},
		{Profile: "quiet", Source: SourceAgent, Success: false, Error: "invalid setting", AppliedAt: base.Add(time.Hour)},
		{Profile: "ai", Source: SourceSchedule, ScheduleID: &scheduleID, Success: true, AppliedAt: base.Add(2 * time.Hour)},
	}
	for _, app := range apps {
		require.NoError(t, db.RecordApplication(ctx, app))
		assert.NotZero(t, app.ID)
	}
	return scheduleID
}

func TestListApplications(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	scheduleID := seedApplications(t, db)

	all, err := db.ListApplications(ctx, ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, SourceSchedule, all[0].Source, "newest first")
	require.NotNil(t, all[0].ScheduleID)
	assert.Equal(t, scheduleID, *all[0].ScheduleID)
	assert.Nil(t, all[1].ScheduleID)
	assert.Equal(t, "invalid setting", all[1].Error)

	ai, err := db.ListApplications(ctx, ApplicationFilter{Profile: "ai"})
	require.NoError(t, err)
	assert.Len(t, ai, 2)

	failed := false
	failures, err := db.ListApplications(ctx, ApplicationFilter{Success: &failed})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "quiet", failures[0].Profile)

	bySchedule, err := db.ListApplications(ctx, ApplicationFilter{ScheduleID: &scheduleID})
	require.NoError(t, err)
	assert.Len(t, bySchedule, 1)

	page, err := db.ListApplications(ctx, ApplicationFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "quiet", page[0].Profile)
}

func TestDeletedScheduleKeepsHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	scheduleID := seedApplications(t, db)

	_, err := db.Conn().ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, scheduleID)
	require.NoError(t, err)

	all, err := db.ListApplications(ctx, ApplicationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Nil(t, all[0].ScheduleID)
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	seedApplications(t, db)

	var buf bytes.Buffer
	require.NoError(t, db.Export(ctx, &buf, ExportFormatCSV, ApplicationFilter{}))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "ID,Profile,Source,Schedule ID,Applied At,Success,Error", lines[0])
	assert.Contains(t, lines[2], "quiet,agent,,")
	assert.Contains(t, lines[2], "invalid setting")

	buf.Reset()
	require.NoError(t, db.Export(ctx, &buf, ExportFormatJSON, ApplicationFilter{Profile: "ai"}))
	var out struct {
		Applications []Application `json:"applications"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Len(t, out.Applications, 2)

	buf.Reset()
	require.NoError(t, db.Export(ctx, &buf, ExportFormatJSON, ApplicationFilter{Profile: "none"}))
	assert.Contains(t, buf.String(), `"applications": []`)

	assert.Error(t, db.Export(ctx, &buf, ExportFormat("xml"), ApplicationFilter{}))
}

func TestJSONColumn(t *testing.T) {
	var j JSON[[]string]
	require.NoError(t, j.Scan(`["a","b"]`))
	assert.Equal(t, []string{"a", "b"}, j.V)

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j.V)

	v, err := JSON[map[string]int]{V: map[string]int{"x": 1}}.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, v)

	assert.Error(t, j.Scan(42))
}
