package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/schedule"
)

func (c *cli) scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage profile schedules",
		Long:  "Create, manage, and run schedules that apply settings profiles",
	}

	cmd.AddCommand(c.scheduleCreateCmd())
	cmd.AddCommand(c.scheduleListCmd())
	cmd.AddCommand(c.scheduleShowCmd())
	cmd.AddCommand(c.scheduleDeleteCmd())
	cmd.AddCommand(c.scheduleToggleCmd("enable", true))
	cmd.AddCommand(c.scheduleToggleCmd("disable", false))
	cmd.AddCommand(c.scheduleRunCmd())
	cmd.AddCommand(c.scheduleStartCmd())

	return cmd
}

func (c *cli) scheduleCreateCmd() *cobra.Command {
	var (
		description string
		cronExpr    string
		profileName string
		enabled     bool
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new schedule",
		Long: `Create a schedule that applies a profile with cron-style timing.

Cron expression format:
  ┌───────────── minute (0 - 59)
  │ ┌───────────── hour (0 - 23)
  │ │ ┌───────────── day of month (1 - 31)
  │ │ │ ┌───────────── month (1 - 12)
  │ │ │ │ ┌───────────── day of week (0 - 6) (Sunday to Saturday)
  │ │ │ │ │
  * * * * *

Examples:
  # Switch to the training profile every weekday at 9 PM
  gpuctl schedule create nightly --cron "0 21 * * 1-5" --profile training

  # Go quiet every morning at 7 AM
  gpuctl schedule create morning --cron "0 7 * * *" --profile quiet`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			// Verify profile exists
			if _, err := app.profiles.Get(cmd.Context(), profileName); err != nil {
				return err
			}

			sched := &schedule.Schedule{
				Name:        args[0],
				Description: description,
				CronExpr:    cronExpr,
				Profile:     profileName,
				Enabled:     enabled,
			}
			if err := schedule.NewStore(app.db).Create(cmd.Context(), sched); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created schedule '%s' (ID: %d)\n", sched.Name, sched.ID)
			fmt.Fprintf(cmd.OutOrStdout(), "Cron: %s\n", sched.CronExpr)
			fmt.Fprintf(cmd.OutOrStdout(), "Profile: %s\n", sched.Profile)
			if sched.NextRunTime != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Next run: %s\n", sched.NextRunTime.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "desc", "d", "", "Schedule description")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (required)")
	cmd.Flags().StringVarP(&profileName, "profile", "p", "", "Profile to apply (required)")
	cmd.Flags().BoolVar(&enabled, "enabled", true, "Enable schedule immediately")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("profile")

	return cmd
}

func (c *cli) scheduleListCmd() *cobra.Command {
	var (
		all      bool
		disabled bool
		profile  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Long: `List configured schedules.

Examples:
  # List enabled schedules
  gpuctl schedule list

  # List all schedules
  gpuctl schedule list --all`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			// Build filter
			filter := schedule.ScheduleFilter{Profile: profile}
			if !all && !disabled {
				enabled := true
				filter.Enabled = &enabled
			} else if disabled {
				enabled := false
				filter.Enabled = &enabled
			}

			schedules, err := schedule.NewStore(app.db).List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list schedules: %w", err)
			}
			if c.jsonOutput {
				if schedules == nil {
					schedules = []*schedule.Schedule{}
				}
				return printJSON(cmd.OutOrStdout(), schedules)
			}
			if len(schedules) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No schedules found")
				return nil
			}

			now := time.Now()
			rows := make([][]string, 0, len(schedules))
			for _, sched := range schedules {
				nextRun := "N/A"
				if sched.NextRunTime != nil {
					nextRun = sched.NextRunTime.Local().Format("2006-01-02 15:04")
					if sched.IsOverdue(now) {
						nextRun += " (overdue)"
					}
				}
				rows = append(rows, []string{
					fmt.Sprint(sched.ID),
					truncate(sched.Name, 20),
					sched.Profile,
					sched.CronExpr,
					fmt.Sprint(sched.Enabled),
					nextRun,
				})
			}
			renderTable(cmd.OutOrStdout(), []string{"ID", "Name", "Profile", "Cron", "Enabled", "Next Run"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Show all schedules")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Show only disabled schedules")
	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Only schedules applying this profile")

	return cmd
}

// findSchedule looks a schedule up by ID or name
func findSchedule(ctx context.Context, store *schedule.Store, identifier string) (*schedule.Schedule, error) {
	if id, err := parseInt64(identifier); err == nil {
		return store.Get(ctx, id)
	}
	return store.GetByName(ctx, identifier)
}

func (c *cli) scheduleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id|name>",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			sched, err := findSchedule(cmd.Context(), schedule.NewStore(app.db), args[0])
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return printJSON(cmd.OutOrStdout(), sched)
			}

			lastRun := "Never"
			if sched.LastRunTime != nil {
				lastRun = sched.LastRunTime.Local().Format("2006-01-02 15:04:05")
			}
			nextRun := "N/A"
			if sched.NextRunTime != nil {
				nextRun = sched.NextRunTime.Local().Format("2006-01-02 15:04:05")
				if sched.IsOverdue(time.Now()) {
					nextRun += " (OVERDUE)"
				}
			}
			renderKV(cmd.OutOrStdout(), [][2]string{
				{"Schedule", fmt.Sprintf("%s (ID: %d)", sched.Name, sched.ID)},
				{"Description", sched.Description},
				{"Profile", sched.Profile},
				{"Cron", sched.CronExpr},
				{"Enabled", fmt.Sprint(sched.Enabled)},
				{"Created", sched.CreatedAt.Local().Format("2006-01-02 15:04:05")},
				{"Updated", sched.UpdatedAt.Local().Format("2006-01-02 15:04:05")},
				{"Last run", lastRun},
				{"Next run", nextRun},
			})
			return nil
		},
	}

	return cmd
}

func (c *cli) scheduleDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "delete <id|name>",
		Aliases: []string{"remove"},
		Short:   "Delete a schedule",
		Long: `Delete a schedule by ID or name. Applications it made stay in the history.

Examples:
  gpuctl schedule delete 1
  gpuctl schedule delete nightly --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			store := schedule.NewStore(app.db)
			sched, err := findSchedule(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}

			if !force && !confirm(cmd, fmt.Sprintf("Delete schedule '%s' (ID: %d)?", sched.Name, sched.ID)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}

			if err := store.Delete(cmd.Context(), sched.ID); err != nil {
				return fmt.Errorf("failed to delete schedule: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted schedule '%s'\n", sched.Name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Do not ask for confirmation")

	return cmd
}

func (c *cli) scheduleToggleCmd(use string, enable bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id|name>",
		Short: fmt.Sprintf("%s a schedule", map[bool]string{true: "Enable", false: "Disable"}[enable]),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			store := schedule.NewStore(app.db)
			sched, err := findSchedule(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}

			if enable {
				if err := store.Enable(cmd.Context(), sched.ID); err != nil {
					return fmt.Errorf("failed to enable schedule: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Enabled schedule '%s'\n", sched.Name)
				return nil
			}
			if err := store.Disable(cmd.Context(), sched.ID); err != nil {
				return fmt.Errorf("failed to disable schedule: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Disabled schedule '%s'\n", sched.Name)
			return nil
		},
	}

	return cmd
}

func (c *cli) scheduleRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Apply a schedule's profile now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			runner := schedule.NewRunner(app.db, schedule.RunnerOptions{
				Profiles: app.profiles,
				Target:   app.facade,
				Logger:   c.logger,
			})
			if err := runner.RunNow(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ran schedule '%s'\n", args[0])
			return nil
		},
	}

	return cmd
}

func (c *cli) scheduleStartCmd() *cobra.Command {
	var checkInterval time.Duration

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon",
		Long: `Start the scheduler daemon to apply profiles automatically.

The scheduler will:
- Load all enabled schedules
- Apply profiles according to their cron expressions
- Record every application in the history
- Continue running until interrupted

Examples:
  # Start scheduler in foreground
  gpuctl schedule start

  # Start with custom check interval
  gpuctl schedule start --check-interval 30s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			runner := schedule.NewRunner(app.db, schedule.RunnerOptions{
				Profiles: app.profiles,
				Target:   app.facade,
				Logger:   c.logger,
			})
			if err := runner.Start(ctx); err != nil {
				return fmt.Errorf("failed to start scheduler: %w", err)
			}
			defer runner.Stop()

			// Run check for overdue schedules periodically
			ticker := time.NewTicker(checkInterval)
			defer ticker.Stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Scheduler started with %d jobs. Press Ctrl+C to stop.\n", len(runner.ListJobs()))

			for {
				select {
				case <-ctx.Done():
					c.logger.Info("received shutdown signal")
					return nil
				case <-ticker.C:
					if err := runner.CheckDue(ctx); err != nil {
						c.logger.Error("failed to check due schedules", zap.Error(err))
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&checkInterval, "check-interval", 60*time.Second, "Interval to check for overdue schedules")

	return cmd
}
