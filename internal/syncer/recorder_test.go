package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

func TestSummaryRecorder(t *testing.T) {
	r := NewSummaryRecorder()
	status := r.Snapshot()
	assert.False(t, status.InProgress)
	assert.Nil(t, status.LastSummary)
	assert.Nil(t, status.NextCron)

	r.MarkStart(testEpoch)
	status = r.Snapshot()
	assert.True(t, status.InProgress)
	require.NotNil(t, status.StartedAt)
	assert.Equal(t, testEpoch, *status.StartedAt)

	r.Finish(&models.RunSummary{ID: "a", Success: false, Entities: []models.EntityOutcome{{Entity: "customers"}}})
	r.MarkStart(testEpoch.Add(time.Hour))
	r.Finish(&models.RunSummary{ID: "b", Success: true})
	r.SetNextCron(testEpoch.Add(2 * time.Hour))
	r.SetNextFullRefresh(testEpoch.Add(24 * time.Hour))

	status = r.Snapshot()
	assert.False(t, status.InProgress)
	assert.Nil(t, status.StartedAt)
	assert.Equal(t, int64(2), status.TotalRuns)
	assert.Equal(t, int64(1), status.TotalFailures)
	assert.Equal(t, "b", status.LastSummary.ID)
	assert.Equal(t, testEpoch.Add(2*time.Hour), *status.NextCron)
	assert.Equal(t, testEpoch.Add(24*time.Hour), *status.NextFullRefresh)
}

func TestSummaryRecorderFollowsPageProgress(t *testing.T) {
	r := NewSummaryRecorder()
	r.SetPageProgress(&models.PageProgress{Entity: "customers", Page: 1})
	assert.Nil(t, r.Snapshot().CurrentPage, "ignored while idle")

	ch := make(chan *models.PageProgress, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Follow(ctx, ch)
		close(done)
	}()

	r.MarkStart(testEpoch)
	ch <- &models.PageProgress{Entity: "invoices", Page: 3, TotalItems: 100, ProcessedItems: 40}
	require.Eventually(t, func() bool {
		return r.Snapshot().CurrentPage != nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 40, r.Snapshot().CurrentPage.ProcessedItems)

	r.Finish(&models.RunSummary{Success: true})
	assert.Nil(t, r.Snapshot().CurrentPage)

	cancel()
	<-done
}
