package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mscrnt/gpuctl/pkg/db"
)

func (c *cli) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show and export profile application history",
	}

	cmd.AddCommand(c.historyListCmd())
	cmd.AddCommand(c.historyExportCmd())

	return cmd
}

// historyFilter are the filter flags shared by history list and export
type historyFilter struct {
	profile  string
	schedule int64
	since    time.Duration
	failed   bool
	limit    int
}

func addHistoryFlags(cmd *cobra.Command, f *historyFilter) {
	cmd.Flags().StringVarP(&f.profile, "profile", "p", "", "Only this profile")
	cmd.Flags().Int64Var(&f.schedule, "schedule", 0, "Only applications made by this schedule ID")
	cmd.Flags().DurationVar(&f.since, "since", 0, "Only applications newer than this, e.g. 24h")
	cmd.Flags().BoolVar(&f.failed, "failed", false, "Only failed applications")
}

func (f *historyFilter) filter() db.ApplicationFilter {
	filter := db.ApplicationFilter{
		Profile: f.profile,
		Limit:   f.limit,
	}
	if f.schedule != 0 {
		id := f.schedule
		filter.ScheduleID = &id
	}
	if f.since > 0 {
		since := time.Now().Add(-f.since)
		filter.Since = &since
	}
	if f.failed {
		success := false
		filter.Success = &success
	}
	return filter
}

func (c *cli) historyListCmd() *cobra.Command {
	var flags historyFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent profile applications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			apps, err := app.db.ListApplications(cmd.Context(), flags.filter())
			if err != nil {
				return fmt.Errorf("failed to list history: %w", err)
			}
			if c.jsonOutput {
				if apps == nil {
					apps = []*db.Application{}
				}
				return printJSON(cmd.OutOrStdout(), apps)
			}
			if len(apps) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No applications found")
				return nil
			}
			renderApplications(cmd.OutOrStdout(), apps)
			return nil
		},
	}

	addHistoryFlags(cmd, &flags)
	cmd.Flags().IntVarP(&flags.limit, "limit", "n", 20, "Maximum number of entries")

	return cmd
}

func (c *cli) historyExportCmd() *cobra.Command {
	var (
		flags  historyFilter
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export application history as CSV or JSON",
		Long: `Export profile application history.

Examples:
  # Export everything to stdout as CSV
  gpuctl history export

  # Export the last week of one profile to a JSON file
  gpuctl history export --format json --profile training --since 168h --out history.json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exportFormat := db.ExportFormat(format)
			if exportFormat != db.ExportFormatCSV && exportFormat != db.ExportFormatJSON {
				return fmt.Errorf("unsupported format %q (want csv or json)", format)
			}

			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			// Prepare output writer
			var out io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output) // #nosec G304 -- output is a user-specified path from a command line flag
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer func() { _ = f.Close() }()
				out = f
			}

			if err := app.db.Export(cmd.Context(), out, exportFormat, flags.filter()); err != nil {
				return fmt.Errorf("failed to export %s: %w", format, err)
			}
			if output != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Exported history to %s\n", output)
			}
			return nil
		},
	}

	addHistoryFlags(cmd, &flags)
	cmd.Flags().StringVar(&format, "format", "csv", "Output format: csv or json")
	cmd.Flags().StringVarP(&output, "out", "o", "", "Output file (default: stdout)")

	return cmd
}

func renderApplications(w io.Writer, apps []*db.Application) {
	rows := make([][]string, 0, len(apps))
	for _, a := range apps {
		schedule := ""
		if a.ScheduleID != nil {
			schedule = fmt.Sprint(*a.ScheduleID)
		}
		rows = append(rows, []string{
			fmt.Sprint(a.ID),
			a.Profile,
			a.Source,
			schedule,
			a.AppliedAt.Local().Format("2006-01-02 15:04:05"),
			status(a.Success),
			truncate(a.Error, 40),
		})
	}
	renderTable(w, []string{"ID", "Profile", "Source", "Schedule", "Applied", "Result", "Error"}, rows)
}
