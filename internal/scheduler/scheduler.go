// Package scheduler runs the ledger's periodic jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/mystartupai/creditledger/internal/config"
	"github.com/mystartupai/creditledger/internal/ledger"
	"github.com/mystartupai/creditledger/internal/metrics"
	internalsettings "github.com/mystartupai/creditledger/internal/settings"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

const jobTimeout = 2 * time.Minute

// Scheduler owns the cron runner for rollover and settings refresh.
type Scheduler struct {
	cron    *cron.Cron
	store   *ledger.Store
	cfg     config.SchedulerConfig
	metrics *metrics.Metrics
}

// New builds a Scheduler. Jobs that are still running when their next tick
// arrives are skipped.
func New(store *ledger.Store, cfg config.SchedulerConfig) *Scheduler {
	cronLogger := cron.PrintfLogger(log.StandardLogger())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		store:   store,
		cfg:     cfg,
		metrics: metrics.Default(),
	}
}

// Run registers the jobs, starts the runner and blocks until ctx is done.
// In-flight jobs are waited for before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.RolloverSchedule, func() { s.RolloverOnce(ctx) }); err != nil {
		return fmt.Errorf("scheduler: rollover schedule %q: %w", s.cfg.RolloverSchedule, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.SettingsSchedule, func() { s.RefreshSettingsOnce(ctx) }); err != nil {
		return fmt.Errorf("scheduler: settings schedule %q: %w", s.cfg.SettingsSchedule, err)
	}
	log.WithFields(log.Fields{
		"rollover": s.cfg.RolloverSchedule,
		"settings": s.cfg.SettingsSchedule,
	}).Info("scheduler started")

	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Info("scheduler stopped")
	return nil
}

// RolloverOnce runs one subscription rollover pass.
func (s *Scheduler) RolloverOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	report, err := s.store.RunRollover(jobCtx)
	if err != nil {
		log.WithError(err).Error("scheduler: rollover failed")
		return
	}
	s.metrics.RecordRollover(report.Expired, report.Reset)
	if report.Expired > 0 || report.Reset > 0 || report.Failed > 0 {
		log.WithFields(log.Fields{
			"expired": report.Expired,
			"reset":   report.Reset,
			"granted": report.Granted,
			"failed":  report.Failed,
		}).Info("scheduler: rollover finished")
	}
}

// RefreshSettingsOnce reloads the settings snapshot so edits made by other
// instances become visible.
func (s *Scheduler) RefreshSettingsOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()
	if err := internalsettings.Refresh(jobCtx, s.store.DB()); err != nil {
		log.WithError(err).Warn("scheduler: settings refresh failed")
	}
}
