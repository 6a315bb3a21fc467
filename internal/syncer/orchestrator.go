package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
	"github.com/Kamar-Folarin/kashflow-sync/internal/db"
	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

const defaultSummaryTimeout = 10 * time.Second

// Options configures an Orchestrator
type Options struct {
	Store    db.Store
	Fetchers map[string]Fetcher
	// Entities defaults to DefaultEntities(Config).
	Entities  []EntitySpec
	Config    *config.SyncConfig
	Processor PageProcessor
	Recorder  *SummaryRecorder
	Clock     clock.Clock
	Logger    *logrus.Logger
	// SummaryTimeout bounds persisting the run summary after the run.
	SummaryTimeout time.Duration
}

// Orchestrator runs the entity strategies in order under a single-flight lock
type Orchestrator struct {
	store          db.Store
	fetchers       map[string]Fetcher
	entities       []EntitySpec
	cfg            *config.SyncConfig
	processor      PageProcessor
	recorder       *SummaryRecorder
	governor       *FullRefreshGovernor
	reconciler     *SoftDeleteReconciler
	clock          clock.Clock
	logger         *logrus.Logger
	summaryTimeout time.Duration

	mu    sync.Mutex
	group singleflight.Group
}

// NewOrchestrator validates opts and builds an Orchestrator
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultSyncConfig()
	}
	entities := opts.Entities
	if entities == nil {
		entities = DefaultEntities(cfg)
	}
	for i := range entities {
		if err := entities[i].validate(); err != nil {
			return nil, err
		}
		if opts.Fetchers[entities[i].Name] == nil {
			return nil, fmt.Errorf("no fetcher configured for %s", entities[i].Name)
		}
	}

	o := &Orchestrator{
		store:          opts.Store,
		fetchers:       opts.Fetchers,
		entities:       entities,
		cfg:            cfg,
		processor:      opts.Processor,
		recorder:       opts.Recorder,
		clock:          opts.Clock,
		logger:         opts.Logger,
		summaryTimeout: opts.SummaryTimeout,
	}
	if o.processor == nil {
		o.processor = sequentialProcessor{}
	}
	if o.recorder == nil {
		o.recorder = NewSummaryRecorder()
	}
	if o.clock == nil {
		o.clock = clock.WallClock
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	if o.summaryTimeout <= 0 {
		o.summaryTimeout = defaultSummaryTimeout
	}
	o.governor = NewFullRefreshGovernor(o.store, o.clock, cfg.FullRefreshInterval)
	o.reconciler = NewSoftDeleteReconciler(o.store, o.clock)
	return o, nil
}

// Recorder returns the recorder receiving run status
func (o *Orchestrator) Recorder() *SummaryRecorder { return o.recorder }

// Governor returns the full refresh governor
func (o *Orchestrator) Governor() *FullRefreshGovernor { return o.governor }

// Entities returns the entity specs in sync order
func (o *Orchestrator) Entities() []EntitySpec { return o.entities }

// Run executes one sync. It returns a SyncInProgressError without touching
// the store when another run holds the lock. The summary is returned even
// when the run fails.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunSummary, error) {
	if !o.mu.TryLock() {
		return nil, o.busy()
	}
	defer o.mu.Unlock()

	return o.execute(ctx)
}

// Trigger starts a sync in the background and returns once the lock is
// held. Failures of the run itself are only logged and recorded.
func (o *Orchestrator) Trigger(ctx context.Context) error {
	if !o.mu.TryLock() {
		return o.busy()
	}
	go func() {
		defer o.mu.Unlock()
		o.execute(ctx)
	}()
	return nil
}

func (o *Orchestrator) busy() error {
	var started time.Time
	if s := o.recorder.Snapshot().StartedAt; s != nil {
		started = *s
	}
	return errors.NewSyncInProgressError(started)
}

// RunShared executes a sync, or waits for the one already started through
// RunShared and returns its result.
func (o *Orchestrator) RunShared(ctx context.Context) (*models.RunSummary, error) {
	v, err, _ := o.group.Do("sync", func() (any, error) {
		return o.Run(ctx)
	})
	summary, _ := v.(*models.RunSummary)
	return summary, err
}

func (o *Orchestrator) execute(ctx context.Context) (summary *models.RunSummary, err error) {
	start := o.clock.Now().UTC()
	tag, err := ksuid.NewRandomWithTime(start)
	if err != nil {
		return nil, fmt.Errorf("failed to create run tag: %w", err)
	}

	summary = &models.RunSummary{
		ID:       tag.String(),
		RunTag:   tag.String(),
		Start:    start,
		Entities: []models.EntityOutcome{},
	}
	logger := o.logger.WithField("run_tag", summary.RunTag)

	o.recorder.MarkStart(start)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}
		o.finalize(summary, err, logger)
	}()

	decision, err := o.governor.Decide(ctx)
	if err != nil {
		return summary, err
	}
	summary.FullRefresh = decision.Force
	defer func() {
		// An uncommitted forced refresh is still due.
		if err != nil && decision.Force {
			o.recorder.SetNextFullRefresh(decision.Now)
		}
	}()
	logger.WithFields(logrus.Fields{
		"full_refresh": decision.Force,
		"last_full":    decision.Last,
	}).Info("Starting sync")

	run := Run{Tag: summary.RunTag, ForceFullRefresh: decision.Force}
	for i := range o.entities {
		outcome, err := o.runEntity(ctx, &o.entities[i], run, logger)
		summary.Entities = append(summary.Entities, outcome)
		if err != nil {
			return summary, fmt.Errorf("%s sync failed: %w", o.entities[i].Name, err)
		}
	}

	if err := o.governor.Commit(ctx, decision); err != nil {
		return summary, err
	}
	o.recorder.SetNextFullRefresh(decision.Next)
	return summary, nil
}

func (o *Orchestrator) runEntity(ctx context.Context, spec *EntitySpec, run Run, logger *logrus.Entry) (models.EntityOutcome, error) {
	started := o.clock.Now()
	entityLogger := logger.WithField("entity", spec.Name)

	runner := &entityRunner{
		spec:    spec,
		fetcher: o.fetchers[spec.Name],
		docs:    o.store,
		state:   o.store,
		writer: &recordWriter{
			docs:       o.store,
			audit:      o.store,
			clock:      o.clock,
			logger:     entityLogger,
			upsertLogs: o.cfg.UpsertLogs,
		},
		reconciler:            o.reconciler,
		processor:             o.processor,
		logger:                entityLogger,
		progressLogs:          o.cfg.ProgressLogs,
		incrementalSoftDelete: o.cfg.IncrementalSoftDelete,
	}

	outcome, err := runner.run(ctx, run)
	outcome.DurationMs = o.clock.Now().Sub(started).Milliseconds()

	fields := logrus.Fields{
		"pages":          outcome.Pages,
		"fetched":        outcome.Fetched,
		"upserted":       outcome.Upserted,
		"total":          outcome.Total,
		"soft_deleted":   outcome.SoftDeleted,
		"stopped_reason": outcome.StoppedReason,
		"complete":       outcome.Complete,
		"ms":             outcome.DurationMs,
	}
	if spec.Strategy == StrategyIncrementalMax {
		fields["last_max"] = outcome.LastMax
		fields["new_max"] = outcome.NewMax
	}

	if err != nil {
		outcome.Error = err.Error()
		entityLogger.WithFields(fields).WithError(err).Error("Entity sync failed")
		return outcome, err
	}
	entityLogger.WithFields(fields).Info("Entity sync completed")
	return outcome, nil
}

// finalize completes the summary, publishes it and persists it. Persisting
// is best effort.
func (o *Orchestrator) finalize(summary *models.RunSummary, runErr error, logger *logrus.Entry) {
	summary.End = o.clock.Now().UTC()
	summary.DurationMs = summary.End.Sub(summary.Start).Milliseconds()
	summary.Success = runErr == nil
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	o.recorder.Finish(summary)

	ctx, cancel := context.WithTimeout(context.Background(), o.summaryTimeout)
	defer cancel()
	if err := o.store.SaveSummary(ctx, summary); err != nil {
		logger.WithError(err).Warn("Failed to persist run summary")
	}

	fields := logrus.Fields{
		"success":      summary.Success,
		"duration_ms":  summary.DurationMs,
		"entities":     len(summary.Entities),
		"full_refresh": summary.FullRefresh,
	}
	if runErr != nil {
		logger.WithFields(fields).WithError(runErr).Error("Sync failed")
		return
	}
	logger.WithFields(fields).Info("Sync completed")
}
