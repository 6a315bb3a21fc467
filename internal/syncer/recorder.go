package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// SummaryRecorder holds the live view of the sync engine for the dashboard
// and metrics. It is safe for concurrent use.
type SummaryRecorder struct {
	mu              sync.RWMutex
	last            *models.RunSummary
	inProgress      bool
	startedAt       time.Time
	nextCron        time.Time
	nextFullRefresh time.Time
	totalRuns       int64
	totalFailures   int64
	page            *models.PageProgress
}

// NewSummaryRecorder creates an empty recorder
func NewSummaryRecorder() *SummaryRecorder {
	return &SummaryRecorder{}
}

// MarkStart flags a run as in progress
func (r *SummaryRecorder) MarkStart(start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inProgress = true
	r.startedAt = start
}

// Finish stores the summary of a finished run and clears the in-progress flag
func (r *SummaryRecorder) Finish(summary *models.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inProgress = false
	r.startedAt = time.Time{}
	r.page = nil
	if summary == nil {
		return
	}
	cp := *summary
	cp.Entities = append([]models.EntityOutcome(nil), summary.Entities...)
	r.last = &cp
	r.totalRuns++
	if !summary.Success {
		r.totalFailures++
	}
}

func (r *SummaryRecorder) SetNextCron(t time.Time) {
	r.mu.Lock()
	r.nextCron = t
	r.mu.Unlock()
}

func (r *SummaryRecorder) SetNextFullRefresh(t time.Time) {
	r.mu.Lock()
	r.nextFullRefresh = t
	r.mu.Unlock()
}

// SetPageProgress stores the apply progress of the page being written.
// It is ignored while no run is in progress.
func (r *SummaryRecorder) SetPageProgress(p *models.PageProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inProgress && p != nil {
		cp := *p
		r.page = &cp
	}
}

// Follow copies progress from ch until ctx is done or ch is closed
func (r *SummaryRecorder) Follow(ctx context.Context, ch <-chan *models.PageProgress) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			r.SetPageProgress(p)
		}
	}
}

// InProgress reports whether a run is executing
func (r *SummaryRecorder) InProgress() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inProgress
}

// Last returns a copy of the last finished summary, or nil
func (r *SummaryRecorder) Last() *models.RunSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}

// Snapshot returns the current status
func (r *SummaryRecorder) Snapshot() models.SyncStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := models.SyncStatus{
		InProgress:    r.inProgress,
		TotalRuns:     r.totalRuns,
		TotalFailures: r.totalFailures,
	}
	if r.last != nil {
		cp := *r.last
		status.LastSummary = &cp
	}
	if r.inProgress {
		t := r.startedAt
		status.StartedAt = &t
		if r.page != nil {
			p := *r.page
			status.CurrentPage = &p
		}
	}
	if !r.nextCron.IsZero() {
		t := r.nextCron
		status.NextCron = &t
	}
	if !r.nextFullRefresh.IsZero() {
		t := r.nextFullRefresh
		status.NextFullRefresh = &t
	}
	return status
}
