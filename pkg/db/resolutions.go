package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mscrnt/gpuctl/pkg/display"
	"github.com/mscrnt/gpuctl/pkg/gpu"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// ResolutionStore persists custom resolutions for the display backends
type ResolutionStore struct {
	db *DB
}

var _ display.ResolutionStore = (*ResolutionStore)(nil)

// Resolutions returns the display.ResolutionStore backed by this database
func (db *DB) Resolutions() *ResolutionStore {
	return &ResolutionStore{db: db}
}

// ListResolutions returns the stored resolutions in insertion order
func (s *ResolutionStore) ListResolutions(ctx context.Context, backend string, display int) ([]resolution.CustomResolution, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT name, width, height, refresh_rate, color_depth, timing_standard, scaling
		 FROM resolutions WHERE backend = ? AND display = ? ORDER BY id`,
		backend, display,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []resolution.CustomResolution
	for rows.Next() {
		var r resolution.CustomResolution
		if err := rows.Scan(&r.Name, &r.Width, &r.Height, &r.RefreshRate,
			&r.ColorDepth, &r.TimingStandard, &r.Scaling); err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutResolution inserts r, replacing the attributes of a stored resolution
// with the same name while keeping its position
func (s *ResolutionStore) PutResolution(ctx context.Context, backend string, display int, r resolution.CustomResolution) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO resolutions (backend, display, name, width, height, refresh_rate, color_depth, timing_standard, scaling)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (backend, display, name) DO UPDATE SET
		 width = excluded.width, height = excluded.height, refresh_rate = excluded.refresh_rate,
		 color_depth = excluded.color_depth, timing_standard = excluded.timing_standard, scaling = excluded.scaling`,
		backend, display, r.Name, r.Width, r.Height, r.RefreshRate,
		r.ColorDepth, string(r.TimingStandard), string(r.Scaling),
	)
	if err != nil {
		return fmt.Errorf("failed to store resolution: %w", err)
	}
	return nil
}

// DeleteResolution removes a resolution by name and reports whether it existed
func (s *ResolutionStore) DeleteResolution(ctx context.Context, backend string, display int, name string) (bool, error) {
	result, err := s.db.conn.ExecContext(ctx,
		`DELETE FROM resolutions WHERE backend = ? AND display = ? AND name = ?`,
		backend, display, name,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete resolution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// SetActive records the active mode name; an empty name clears it
func (s *ResolutionStore) SetActive(ctx context.Context, backend string, display int, name string) error {
	var err error
	if name == "" {
		_, err = s.db.conn.ExecContext(ctx,
			`DELETE FROM active_resolutions WHERE backend = ? AND display = ?`, backend, display)
	} else {
		_, err = s.db.conn.ExecContext(ctx,
			`INSERT INTO active_resolutions (backend, display, name) VALUES (?, ?, ?)
			 ON CONFLICT (backend, display) DO UPDATE SET name = excluded.name, updated_at = CURRENT_TIMESTAMP`,
			backend, display, name)
	}
	if err != nil {
		return fmt.Errorf("failed to set active resolution: %w", err)
	}
	return nil
}

// Active returns the active mode name, or "" when none was recorded
func (s *ResolutionStore) Active(ctx context.Context, backend string, display int) (string, error) {
	var name string
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT name FROM active_resolutions WHERE backend = ? AND display = ?`,
		backend, display,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active resolution: %w", err)
	}
	return name, nil
}

// Seeded reports whether the display's initial modes were already written
func (s *ResolutionStore) Seeded(ctx context.Context, backend string, display int) (bool, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seeded_displays WHERE backend = ? AND display = ?`,
		backend, display,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check seeded display: %w", err)
	}
	return n > 0, nil
}

// MarkSeeded records that the display's initial modes were written
func (s *ResolutionStore) MarkSeeded(ctx context.Context, backend string, display int) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO seeded_displays (backend, display) VALUES (?, ?)`,
		backend, display,
	)
	if err != nil {
		return fmt.Errorf("failed to mark display seeded: %w", err)
	}
	return nil
}

// SettingsStore persists the mutable GPU settings
type SettingsStore struct {
	db *DB
}

var _ gpu.SettingsStore = (*SettingsStore)(nil)

// Settings returns the gpu.SettingsStore backed by this database
func (db *DB) Settings() *SettingsStore {
	return &SettingsStore{db: db}
}

// LoadSettings returns the saved settings of a GPU
func (s *SettingsStore) LoadSettings(ctx context.Context, index int) (gpu.Mutable, bool, error) {
	var m gpu.Mutable
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT power_mode, texture_filtering, vertical_sync FROM settings WHERE gpu = ?`,
		index,
	).Scan(&m.PowerMode, &m.TextureFiltering, &m.VerticalSync)
	if errors.Is(err, sql.ErrNoRows) {
		return gpu.Mutable{}, false, nil
	}
	if err != nil {
		return gpu.Mutable{}, false, fmt.Errorf("failed to load settings: %w", err)
	}
	return m, true, nil
}

// SaveSettings stores the settings of a GPU
func (s *SettingsStore) SaveSettings(ctx context.Context, index int, m gpu.Mutable) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO settings (gpu, power_mode, texture_filtering, vertical_sync) VALUES (?, ?, ?, ?)
		 ON CONFLICT (gpu) DO UPDATE SET
		 power_mode = excluded.power_mode, texture_filtering = excluded.texture_filtering,
		 vertical_sync = excluded.vertical_sync, updated_at = CURRENT_TIMESTAMP`,
		index, string(m.PowerMode), string(m.TextureFiltering), string(m.VerticalSync),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
