package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mscrnt/gpuctl/pkg/db"
	"github.com/mscrnt/gpuctl/pkg/gpu"
	"github.com/mscrnt/gpuctl/pkg/profile"
)

// ProfileApplier applies a stored profile by name. *profile.Store
// implements it.
type ProfileApplier interface {
	Apply(ctx context.Context, name string, target profile.Applier, opts profile.ApplyOptions) (gpu.Settings, error)
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Profiles ProfileApplier
	// Target receives the profile settings, normally the gpu facade.
	Target profile.Applier
	Logger *zap.Logger
	// StopTimeout bounds how long Stop waits for running jobs.
	StopTimeout time.Duration
}

// Runner manages scheduled profile applications
type Runner struct {
	cron        *cron.Cron
	store       *Store
	profiles    ProfileApplier
	target      profile.Applier
	jobs        map[int64]cron.EntryID
	mu          sync.RWMutex
	logger      *zap.Logger
	stopTimeout time.Duration
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewRunner creates a new schedule runner
func NewRunner(database *db.DB, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		cron:        cron.New(cron.WithParser(cronParser)),
		store:       NewStore(database),
		profiles:    opts.Profiles,
		target:      opts.Target,
		jobs:        make(map[int64]cron.EntryID),
		logger:      logger.Named("scheduler"),
		stopTimeout: opts.StopTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start registers every enabled schedule and starts the scheduler
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("starting scheduler")

	enabled := true
	schedules, err := r.store.List(ctx, ScheduleFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	for _, schedule := range schedules {
		if err := r.registerSchedule(schedule); err != nil {
			r.logger.Error("failed to register schedule",
				zap.String("schedule", schedule.Name), zap.Error(err))
		}
	}

	r.cron.Start()

	r.mu.RLock()
	active := len(r.jobs)
	r.mu.RUnlock()
	r.logger.Info("scheduler started", zap.Int("active_schedules", active))
	return nil
}

// Stop stops the scheduler and waits for running jobs. Jobs still running
// after the stop timeout have their context cancelled.
func (r *Runner) Stop() {
	r.logger.Info("stopping scheduler")

	defer r.cancel()
	cronDone := r.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("all jobs completed")
	case <-time.After(r.stopTimeout):
		r.logger.Warn("timeout waiting for jobs to complete", zap.Duration("timeout", r.stopTimeout))
	}

	r.logger.Info("scheduler stopped")
}

// RegisterSchedule adds a schedule to the runner
func (r *Runner) RegisterSchedule(ctx context.Context, scheduleID int64) error {
	schedule, err := r.store.Get(ctx, scheduleID)
	if err != nil {
		return err
	}

	return r.registerSchedule(schedule)
}

// UnregisterSchedule removes a schedule from the runner
func (r *Runner) UnregisterSchedule(scheduleID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entryID, exists := r.jobs[scheduleID]; exists {
		r.cron.Remove(entryID)
		delete(r.jobs, scheduleID)
		r.logger.Info("unregistered schedule", zap.Int64("schedule_id", scheduleID))
	}
}

// RefreshSchedule updates a schedule in the runner
func (r *Runner) RefreshSchedule(ctx context.Context, scheduleID int64) error {
	r.UnregisterSchedule(scheduleID)

	schedule, err := r.store.Get(ctx, scheduleID)
	if err != nil {
		return err
	}

	return r.registerSchedule(schedule)
}

// registerSchedule registers a schedule with the cron scheduler
func (r *Runner) registerSchedule(schedule *Schedule) error {
	if !schedule.Enabled {
		return nil
	}

	entryID, err := r.cron.AddFunc(schedule.CronExpr, r.createJob(schedule))
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	r.mu.Lock()
	r.jobs[schedule.ID] = entryID
	r.mu.Unlock()

	r.logger.Info("registered schedule",
		zap.String("schedule", schedule.Name),
		zap.Int64("schedule_id", schedule.ID),
		zap.String("cron", schedule.CronExpr),
		zap.String("profile", schedule.Profile))

	return nil
}

// createJob creates a job function for a schedule. cron runs each job on
// its own goroutine and Stop waits for it.
func (r *Runner) createJob(schedule *Schedule) func() {
	return func() {
		if r.ctx.Err() != nil {
			return
		}
		r.logger.Debug("executing scheduled job", zap.String("schedule", schedule.Name))
		if err := r.execute(r.ctx, schedule); err != nil {
			r.logger.Error("failed to execute schedule",
				zap.String("schedule", schedule.Name), zap.Error(err))
		}
	}
}

// execute applies the schedule's profile and records the run
func (r *Runner) execute(ctx context.Context, schedule *Schedule) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in schedule %s: %v", schedule.Name, p)
		}
	}()

	startTime := time.Now()
	id := schedule.ID
	_, applyErr := r.profiles.Apply(ctx, schedule.Profile, r.target, profile.ApplyOptions{
		Source:     db.SourceSchedule,
		ScheduleID: &id,
	})

	if err := r.store.UpdateLastRun(ctx, schedule.ID, startTime.UTC()); err != nil {
		r.logger.Error("failed to update schedule last run",
			zap.String("schedule", schedule.Name), zap.Error(err))
	}

	if applyErr != nil {
		return applyErr
	}
	r.logger.Info("completed scheduled profile application",
		zap.String("schedule", schedule.Name),
		zap.String("profile", schedule.Profile),
		zap.Duration("duration", time.Since(startTime)))
	return nil
}

// RunNow applies a schedule's profile immediately, outside its cron timing
func (r *Runner) RunNow(ctx context.Context, name string) error {
	schedule, err := r.store.GetByName(ctx, name)
	if err != nil {
		return err
	}
	return r.execute(ctx, schedule)
}

// CheckDue runs any overdue schedules in the background. Stop waits for
// them.
func (r *Runner) CheckDue(ctx context.Context) error {
	schedules, err := r.store.GetDue(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to get due schedules: %w", err)
	}

	for _, schedule := range schedules {
		r.logger.Info("running overdue schedule", zap.String("schedule", schedule.Name))
		r.wg.Add(1)
		go func(s *Schedule) {
			defer r.wg.Done()
			if err := r.execute(r.ctx, s); err != nil {
				r.logger.Error("failed to execute overdue schedule",
					zap.String("schedule", s.Name), zap.Error(err))
			}
		}(schedule)
	}

	return nil
}

// ListJobs returns information about all scheduled jobs
func (r *Runner) ListJobs() []cron.Entry {
	return r.cron.Entries()
}

// Store returns the runner's schedule store
func (r *Runner) Store() *Store {
	return r.store
}
