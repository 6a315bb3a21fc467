package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/Kamar-Folarin/kashflow-sync/internal/db"
)

// LastFullRefreshKey holds the unix millisecond time of the last forced
// full refresh that completed successfully.
const LastFullRefreshKey = "incremental:lastFullRefreshTs"

// Decision is the governor's verdict for one run
type Decision struct {
	Force bool
	Now   time.Time
	// Last is zero when no full refresh has been recorded.
	Last time.Time
	// Next is when the following full refresh becomes due, assuming this
	// run commits.
	Next time.Time
}

// FullRefreshGovernor decides once per run whether incremental entities must
// ignore their high-water mark.
type FullRefreshGovernor struct {
	state    db.StateStore
	clock    clock.Clock
	interval time.Duration
}

// NewFullRefreshGovernor creates a governor with the given interval
func NewFullRefreshGovernor(state db.StateStore, clk clock.Clock, interval time.Duration) *FullRefreshGovernor {
	if clk == nil {
		clk = clock.WallClock
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &FullRefreshGovernor{state: state, clock: clk, interval: interval}
}

// Decide reads the last refresh time and forces a refresh once interval has
// elapsed. A missing marker forces one.
func (g *FullRefreshGovernor) Decide(ctx context.Context) (Decision, error) {
	d := Decision{Now: g.clock.Now().UTC()}

	var ms int64
	if _, err := g.state.Get(ctx, LastFullRefreshKey, &ms); err != nil {
		return d, fmt.Errorf("failed to load full refresh marker: %w", err)
	}
	if ms > 0 {
		d.Last = time.UnixMilli(ms).UTC()
	}

	d.Force = d.Last.IsZero() || d.Now.Sub(d.Last) >= g.interval
	if d.Force {
		d.Next = d.Now.Add(g.interval)
	} else {
		d.Next = d.Last.Add(g.interval)
	}
	return d, nil
}

// Commit records a forced refresh. It must only be called after every
// entity of the run succeeded.
func (g *FullRefreshGovernor) Commit(ctx context.Context, d Decision) error {
	if !d.Force {
		return nil
	}
	if err := g.state.Set(ctx, LastFullRefreshKey, d.Now.UnixMilli()); err != nil {
		return fmt.Errorf("failed to save full refresh marker: %w", err)
	}
	return nil
}

// NextDue returns when the next full refresh will be forced
func (g *FullRefreshGovernor) NextDue(ctx context.Context) (time.Time, error) {
	var ms int64
	if _, err := g.state.Get(ctx, LastFullRefreshKey, &ms); err != nil {
		return time.Time{}, err
	}
	if ms <= 0 {
		return g.clock.Now().UTC(), nil
	}
	return time.UnixMilli(ms).UTC().Add(g.interval), nil
}
