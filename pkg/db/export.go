package db

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Export writes the application history matching filter in the given format
func (db *DB) Export(ctx context.Context, w io.Writer, format ExportFormat, filter ApplicationFilter) error {
	switch format {
	case ExportFormatCSV:
		return db.ExportCSV(ctx, w, filter)
	case ExportFormatJSON:
		return db.ExportJSON(ctx, w, filter)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// ExportCSV exports application history to CSV format
func (db *DB) ExportCSV(ctx context.Context, w io.Writer, filter ApplicationFilter) error {
	apps, err := db.ListApplications(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list applications: %w", err)
	}

	csvWriter := csv.NewWriter(w)

	headers := []string{"ID", "Profile", "Source", "Schedule ID", "Applied At", "Success", "Error"}
	if err := csvWriter.Write(headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for _, app := range apps {
		row := []string{
			strconv.FormatInt(app.ID, 10),
			app.Profile,
			app.Source,
			"",
			app.AppliedAt.Format("2006-01-02 15:04:05"),
			strconv.FormatBool(app.Success),
			app.Error,
		}
		if app.ScheduleID != nil {
			row[3] = strconv.FormatInt(*app.ScheduleID, 10)
		}

		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// ExportJSON exports application history to JSON format
func (db *DB) ExportJSON(ctx context.Context, w io.Writer, filter ApplicationFilter) error {
	apps, err := db.ListApplications(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list applications: %w", err)
	}
	if apps == nil {
		apps = []*Application{}
	}

	export := struct {
		Applications []*Application `json:"applications"`
	}{
		Applications: apps,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(export); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
