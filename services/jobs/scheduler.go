package jobs

import (
	"context"
	"fmt"
	"time"

	"sure_app_go/config"
	"sure_app_go/logger"
	"sure_app_go/services"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Cleanup removes expired sessions and guard hits that no longer count
func Cleanup(db *gorm.DB, now time.Time) error {
	log := logger.Component("cleanup")
	sessions, err := services.CleanupExpiredSessions(db, now)
	if err != nil {
		return err
	}
	hits, err := services.CleanupGuardHits(db, now)
	if err != nil {
		return err
	}
	log.Info().Int64("sessions", sessions).Int64("guard_hits", hits).Msg("Cleanup done")
	return nil
}

// Scheduler runs the periodic jobs on cron specs from the configuration
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler registers the sweep, reminder and cleanup jobs. A job still
// running when its next tick arrives is skipped.
func NewScheduler(db *gorm.DB, cfg *config.Config, sender services.SMSSender) (*Scheduler, error) {
	log := logger.Component("scheduler")
	cronLog := cron.PrintfLogger(log)
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))

	jobs := []struct {
		name string
		spec string
		run  func() error
	}{
		{"sweeps", cfg.SweepSchedule, func() error {
			return RunSweeps(db, cfg.ResultsRetentionDays, time.Now())
		}},
		{"reminders", cfg.ReminderSchedule, func() error {
			_, _, err := SendReminders(context.Background(), db, cfg, sender, time.Now())
			return err
		}},
		{"cleanup", cfg.CleanupSchedule, func() error {
			return Cleanup(db, time.Now())
		}},
	}
	for _, job := range jobs {
		job := job
		if job.spec == "" {
			log.Info().Str("job", job.name).Msg("Job disabled")
			continue
		}
		_, err := c.AddFunc(job.spec, func() {
			if err := job.run(); err != nil {
				log.Error().Err(err).Str("job", job.name).Msg("Job failed")
			}
		})
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", job.spec, job.name, err)
		}
		log.Info().Str("job", job.name).Str("spec", job.spec).Msg("Job scheduled")
	}
	return &Scheduler{cron: c}, nil
}

// Start runs the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and returns a context done when running jobs finish
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries returns how many jobs are scheduled
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
