package schedule

import (
	"time"
)

// Schedule applies a settings profile on a cron schedule
type Schedule struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	CronExpr    string     `json:"cron_expr"`
	Profile     string     `json:"profile"`
	Enabled     bool       `json:"enabled"`
	LastRunTime *time.Time `json:"last_run_time"`
	NextRunTime *time.Time `json:"next_run_time"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ScheduleFilter represents filters for querying schedules
type ScheduleFilter struct {
	Profile string
	Enabled *bool
	Limit   int
	Offset  int
}

// IsOverdue returns true if the schedule is overdue for execution at now
func (s *Schedule) IsOverdue(now time.Time) bool {
	if !s.Enabled || s.NextRunTime == nil {
		return false
	}
	return now.After(*s.NextRunTime)
}

// ShouldRun returns true if the schedule should run at now
func (s *Schedule) ShouldRun(now time.Time) bool {
	if !s.Enabled {
		return false
	}

	// If never run, should run
	if s.LastRunTime == nil {
		return true
	}

	return s.IsOverdue(now)
}
