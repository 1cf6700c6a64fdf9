package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DB wraps the SQL database connection
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens a SQLite database
func Open(path string) (*DB, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.Migrate(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Migrate creates or updates the database schema
func (db *DB) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resolutions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		backend TEXT NOT NULL,
		display INTEGER NOT NULL,
		name TEXT NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		refresh_rate INTEGER NOT NULL,
		color_depth INTEGER NOT NULL,
		timing_standard TEXT NOT NULL,
		scaling TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (backend, display, name)
	);

	CREATE TABLE IF NOT EXISTS active_resolutions (
		backend TEXT NOT NULL,
		display INTEGER NOT NULL,
		name TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (backend, display)
	);

	CREATE TABLE IF NOT EXISTS seeded_displays (
		backend TEXT NOT NULL,
		display INTEGER NOT NULL,
		seeded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (backend, display)
	);

	CREATE TABLE IF NOT EXISTS settings (
		gpu INTEGER PRIMARY KEY,
		power_mode TEXT NOT NULL,
		texture_filtering TEXT NOT NULL,
		vertical_sync TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS profiles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		tags TEXT,
		settings TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS schedules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		cron_expr TEXT NOT NULL,
		profile TEXT NOT NULL,
		enabled BOOLEAN DEFAULT 1,
		last_run_time DATETIME,
		next_run_time DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS applications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile TEXT NOT NULL,
		source TEXT NOT NULL,
		schedule_id INTEGER,
		success BOOLEAN DEFAULT 0,
		error TEXT,
		applied_at DATETIME NOT NULL,
		FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE SET NULL
	);

	CREATE INDEX IF NOT EXISTS idx_resolutions_display ON resolutions(backend, display);
	CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);
	CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run_time);
	CREATE INDEX IF NOT EXISTS idx_applications_profile ON applications(profile);
	CREATE INDEX IF NOT EXISTS idx_applications_applied_at ON applications(applied_at);

	-- Triggers to update updated_at timestamp
	CREATE TRIGGER IF NOT EXISTS update_profiles_timestamp
	AFTER UPDATE ON profiles
	BEGIN
		UPDATE profiles SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;

	CREATE TRIGGER IF NOT EXISTS update_schedules_timestamp
	AFTER UPDATE ON schedules
	BEGIN
		UPDATE schedules SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
	END;
	`

	_, err := db.conn.Exec(schema)
	return err
}

// RecordApplication stores one profile application attempt
func (db *DB) RecordApplication(ctx context.Context, app *Application) error {
	if app.AppliedAt.IsZero() {
		app.AppliedAt = time.Now()
	}

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO applications (profile, source, schedule_id, success, error, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		app.Profile, app.Source, app.ScheduleID, app.Success, app.Error, app.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record application: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	app.ID = id
	return nil
}

// ListApplications retrieves application history based on filters, newest
// first
func (db *DB) ListApplications(ctx context.Context, filter ApplicationFilter) ([]*Application, error) {
	query := `SELECT id, profile, source, schedule_id, success, error, applied_at
	          FROM applications WHERE 1=1`
	args := []interface{}{}

	if filter.Profile != "" {
		query += " AND profile = ?"
		args = append(args, filter.Profile)
	}

	if filter.ScheduleID != nil {
		query += " AND schedule_id = ?"
		args = append(args, *filter.ScheduleID)
	}

	if filter.Since != nil {
		query += " AND applied_at >= ?"
		args = append(args, filter.Since)
	}

	if filter.Success != nil {
		query += " AND success = ?"
		args = append(args, filter.Success)
	}

	query += " ORDER BY applied_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var apps []*Application
	for rows.Next() {
		app := &Application{}
		var errText sql.NullString
		err := rows.Scan(
			&app.ID, &app.Profile, &app.Source, &app.ScheduleID,
			&app.Success, &errText, &app.AppliedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		app.Error = errText.String
		apps = append(apps, app)
	}

	return apps, rows.Err()
}
