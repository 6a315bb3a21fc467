package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// Runner executes one sync
type Runner interface {
	Run(ctx context.Context) (*models.RunSummary, error)
}

// NextCronSetter receives the next scheduled tick
type NextCronSetter interface {
	SetNextCron(t time.Time)
}

// Scheduler triggers a sync on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	entry    cron.EntryID
	runner   Runner
	recorder NextCronSetter
	logger   *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New parses a standard five-field cron expression and prepares the job
func New(expr string, runner Runner, recorder NextCronSetter, logger *logrus.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid CRON_SCHEDULE %q", expr), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(cron.PrintfLogger(logger))),
		runner:   runner,
		recorder: recorder,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.entry = s.cron.Schedule(schedule, cron.FuncJob(s.tick))
	return s, nil
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.publishNext()
	s.logger.WithField("next", s.Next()).Info("Sync scheduler started")
}

// Stop cancels a running sync and waits for it to return or ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next scheduled run, zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	defer s.publishNext()

	_, err := s.runner.Run(s.ctx)
	switch {
	case err == nil:
	case errors.IsSyncInProgress(err):
		s.logger.Info("Scheduled sync skipped; a sync is already running")
	default:
		s.logger.WithError(err).Error("Scheduled sync failed")
	}
}

func (s *Scheduler) publishNext() {
	if next := s.Next(); !next.IsZero() && s.recorder != nil {
		s.recorder.SetNextCron(next.UTC())
	}
}
