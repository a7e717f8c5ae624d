/**
 * @description
 * Cron scheduler for the recurring payout jobs: the retry sweep, scheduled
 * batch creation and stuck-transaction alerting.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/trm/payout-service/internal/domain"
)

// SchedulerConfig carries the cron expressions and scheduled-batch settings.
// An empty expression disables that job.
type SchedulerConfig struct {
	RetrySweepSchedule     string
	ScheduledBatchSchedule string
	StuckAlertSchedule     string
	BatchMinAmount         int64
	BatchParallel          bool
	BatchChunkSize         int
	JobTimeout             time.Duration
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	engine *Engine
	config SchedulerConfig
}

// NewScheduler creates a new scheduler instance. Job panics are recovered by
// the cron chain so one bad run cannot kill the ticker.
func NewScheduler(engine *Engine, cfg SchedulerConfig) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))
	return &Scheduler{cron: c, engine: engine, config: cfg}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() {
	s.addJob("retry sweep", s.config.RetrySweepSchedule, s.runRetrySweep)
	s.addJob("scheduled batch", s.config.ScheduledBatchSchedule, s.runScheduledBatch)
	s.addJob("stuck alert", s.config.StuckAlertSchedule, s.runStuckAlert)
	s.cron.Start()
}

// Stop gracefully stops the cron scheduler; the returned context is done once
// running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) addJob(name, schedule string, job func()) {
	if schedule == "" {
		log.Printf("level=info component=scheduler msg=\"job disabled\" job=%q", name)
		return
	}
	if _, err := s.cron.AddFunc(schedule, job); err != nil {
		log.Printf("level=error component=scheduler msg=\"failed to schedule job\" job=%q schedule=%q err=%v", name, schedule, err)
		return
	}
	log.Printf("level=info component=scheduler msg=\"scheduled job\" job=%q schedule=%q", name, schedule)
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.config.JobTimeout)
}

func (s *Scheduler) runRetrySweep() {
	ctx, cancel := s.jobContext()
	defer cancel()
	if _, err := s.engine.RetryFailedTransactions(ctx); err != nil {
		log.Printf("level=error component=scheduler msg=\"retry sweep failed\" err=%v", err)
	}
}

func (s *Scheduler) runScheduledBatch() {
	ctx, cancel := s.jobContext()
	defer cancel()

	filter := domain.ScheduledBatchFilter{CreatedBy: "scheduler"}
	if s.config.BatchMinAmount > 0 {
		min := s.config.BatchMinAmount
		filter.MinAmount = &min
	}
	batch, count, err := s.engine.CreateScheduledBatch(ctx, filter, s.config.BatchParallel, s.config.BatchChunkSize)
	if err != nil {
		log.Printf("level=error component=scheduler msg=\"scheduled batch creation failed\" err=%v", err)
		return
	}
	if batch == nil {
		return
	}
	log.Printf("level=info component=scheduler msg=\"created scheduled batch\" batch_id=%s items=%d", batch.ID, count)

	result, err := s.engine.ProcessBatch(ctx, batch.ID)
	if err != nil {
		log.Printf("level=error component=scheduler msg=\"scheduled batch processing failed\" batch_id=%s err=%v", batch.ID, err)
		return
	}
	log.Printf("level=info component=scheduler msg=\"scheduled batch done\" batch_id=%s status=%s succeeded=%d failed=%d",
		batch.ID, result.Status, result.Succeeded, result.Failed)
}

func (s *Scheduler) runStuckAlert() {
	ctx, cancel := s.jobContext()
	defer cancel()
	count, err := s.engine.AlertStuckTransactions(ctx)
	if err != nil {
		log.Printf("level=error component=scheduler msg=\"stuck transaction scan failed\" err=%v", err)
		return
	}
	if count > 0 {
		log.Printf("level=warn component=scheduler msg=\"transactions stuck in processing\" count=%d", count)
	}
}
