package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Application records one attempt to apply a settings profile
type Application struct {
	ID         int64     `json:"id"`
	Profile    string    `json:"profile"`
	Source     string    `json:"source"`
	ScheduleID *int64    `json:"schedule_id,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	AppliedAt  time.Time `json:"applied_at"`
}

// Application sources
const (
	SourceCLI      = "cli"
	SourceAgent    = "agent"
	SourceSchedule = "schedule"
)

// ApplicationFilter represents filters for querying application history
type ApplicationFilter struct {
	Profile    string
	ScheduleID *int64
	Since      *time.Time
	Success    *bool
	Limit      int
	Offset     int
}

// JSON stores a value as JSON text in SQLite
type JSON[T any] struct {
	V T
}

// Value implements the driver.Valuer interface
func (j JSON[T]) Value() (driver.Value, error) {
	data, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface
func (j *JSON[T]) Scan(value interface{}) error {
	var zero T
	if value == nil {
		j.V = zero
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into JSON", value)
	}

	j.V = zero
	return json.Unmarshal(data, &j.V)
}

// ExportFormat represents the format for exporting data
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatJSON ExportFormat = "json"
)
