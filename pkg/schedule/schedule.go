// Package schedule applies settings profiles on cron schedules.
package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mscrnt/gpuctl/pkg/db"
)

// ErrNotFound is returned for unknown schedule IDs and names.
var ErrNotFound = errors.New("schedule not found")

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRun parses a 5-field cron expression and returns its next activation
// after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched.Next(from), nil
}

// Store handles schedule persistence
type Store struct {
	db  *db.DB
	now func() time.Time
}

// NewStore creates a new schedule store
func NewStore(database *db.DB) *Store {
	return &Store{db: database, now: func() time.Time { return time.Now().UTC() }}
}

const scheduleColumns = `id, name, description, cron_expr, profile, enabled,
	last_run_time, next_run_time, created_at, updated_at`

// Create creates a new schedule
func (s *Store) Create(ctx context.Context, schedule *Schedule) error {
	if strings.TrimSpace(schedule.Name) == "" {
		return errors.New("schedule name is required")
	}
	if schedule.Profile == "" {
		return errors.New("schedule profile is required")
	}

	now := s.now()
	nextRun, err := NextRun(schedule.CronExpr, now)
	if err != nil {
		return err
	}
	schedule.NextRunTime = &nextRun
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	result, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO schedules (name, description, cron_expr, profile, enabled, next_run_time, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.Name, schedule.Description, schedule.CronExpr, schedule.Profile,
		schedule.Enabled, schedule.NextRunTime,
		schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	schedule.ID = id
	return nil
}

// Get retrieves a schedule by ID
func (s *Store) Get(ctx context.Context, id int64) (*Schedule, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return schedule, nil
}

// GetByName retrieves a schedule by name
func (s *Store) GetByName(ctx context.Context, name string) (*Schedule, error) {
	row := s.db.Conn().QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE name = ?`, name)
	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return schedule, nil
}

// List retrieves schedules based on filters
func (s *Store) List(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE 1=1`
	args := []interface{}{}

	if filter.Profile != "" {
		query += " AND profile = ?"
		args = append(args, filter.Profile)
	}

	if filter.Enabled != nil {
		query += " AND enabled = ?"
		args = append(args, *filter.Enabled)
	}

	query += " ORDER BY name"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	return s.query(ctx, query, args...)
}

// Update updates a schedule
func (s *Store) Update(ctx context.Context, schedule *Schedule) error {
	now := s.now()
	nextRun, err := NextRun(schedule.CronExpr, now)
	if err != nil {
		return err
	}
	schedule.NextRunTime = &nextRun
	schedule.UpdatedAt = now

	result, err := s.db.Conn().ExecContext(ctx,
		`UPDATE schedules SET name = ?, description = ?, cron_expr = ?, profile = ?,
		 enabled = ?, next_run_time = ?, updated_at = ?
		 WHERE id = ?`,
		schedule.Name, schedule.Description, schedule.CronExpr, schedule.Profile,
		schedule.Enabled, schedule.NextRunTime, schedule.UpdatedAt,
		schedule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return requireRow(result, schedule.ID)
}

// UpdateLastRun records a run at ranAt and recomputes the next run
func (s *Store) UpdateLastRun(ctx context.Context, scheduleID int64, ranAt time.Time) error {
	schedule, err := s.Get(ctx, scheduleID)
	if err != nil {
		return err
	}

	nextRun, err := NextRun(schedule.CronExpr, ranAt)
	if err != nil {
		return err
	}

	_, err = s.db.Conn().ExecContext(ctx,
		`UPDATE schedules SET last_run_time = ?, next_run_time = ? WHERE id = ?`,
		ranAt, nextRun, scheduleID,
	)
	if err != nil {
		return fmt.Errorf("failed to update last run: %w", err)
	}
	return nil
}

// Enable enables a schedule
func (s *Store) Enable(ctx context.Context, id int64) error {
	schedule, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	// Calculate next run from now
	nextRun, err := NextRun(schedule.CronExpr, s.now())
	if err != nil {
		return err
	}

	_, err = s.db.Conn().ExecContext(ctx,
		`UPDATE schedules SET enabled = 1, next_run_time = ? WHERE id = ?`,
		nextRun, id,
	)
	if err != nil {
		return fmt.Errorf("failed to enable schedule: %w", err)
	}
	return nil
}

// Disable disables a schedule
func (s *Store) Disable(ctx context.Context, id int64) error {
	result, err := s.db.Conn().ExecContext(ctx,
		`UPDATE schedules SET enabled = 0 WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to disable schedule: %w", err)
	}
	return requireRow(result, id)
}

// Delete deletes a schedule. Past applications keep their history row.
func (s *Store) Delete(ctx context.Context, id int64) error {
	result, err := s.db.Conn().ExecContext(ctx,
		`DELETE FROM schedules WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return requireRow(result, id)
}

// GetDue returns all enabled schedules whose next run is at or before now
func (s *Store) GetDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	return s.query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		 WHERE enabled = 1 AND (next_run_time IS NULL OR next_run_time <= ?)
		 ORDER BY next_run_time`,
		now.UTC(),
	)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*Schedule, error) {
	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	return schedules, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	schedule := &Schedule{}
	var description sql.NullString
	err := row.Scan(
		&schedule.ID, &schedule.Name, &description,
		&schedule.CronExpr, &schedule.Profile, &schedule.Enabled,
		&schedule.LastRunTime, &schedule.NextRunTime,
		&schedule.CreatedAt, &schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	schedule.Description = description.String
	return schedule, nil
}

func requireRow(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}
