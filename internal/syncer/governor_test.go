package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/kashflow-sync/internal/db"
)

func TestFullRefreshGovernor(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	clk := testclock.NewClock(testEpoch)
	gov := NewFullRefreshGovernor(store, clk, 24*time.Hour)

	d, err := gov.Decide(ctx)
	require.NoError(t, err)
	assert.True(t, d.Force, "missing marker forces a refresh")
	assert.True(t, d.Last.IsZero())
	require.NoError(t, gov.Commit(ctx, d))

	clk.Advance(23 * time.Hour)
	d, err = gov.Decide(ctx)
	require.NoError(t, err)
	assert.False(t, d.Force)
	assert.Equal(t, testEpoch, d.Last)
	assert.Equal(t, testEpoch.Add(24*time.Hour), d.Next)
	require.NoError(t, gov.Commit(ctx, d))

	var ms int64
	_, err = store.Get(ctx, LastFullRefreshKey, &ms)
	require.NoError(t, err)
	assert.Equal(t, testEpoch.UnixMilli(), ms, "unforced commit leaves the marker alone")

	clk.Advance(2 * time.Hour)
	d, err = gov.Decide(ctx)
	require.NoError(t, err)
	assert.True(t, d.Force)
	assert.Equal(t, clk.Now().UTC().Add(24*time.Hour), d.Next)

	// Not committed: the refresh stays due.
	d, err = gov.Decide(ctx)
	require.NoError(t, err)
	assert.True(t, d.Force)

	require.NoError(t, gov.Commit(ctx, d))
	next, err := gov.NextDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(49*time.Hour), next)
}

func TestFullRefreshGovernorExactInterval(t *testing.T) {
	ctx := context.Background()
	store := db.NewMemoryStore()
	clk := testclock.NewClock(testEpoch)
	require.NoError(t, store.Set(ctx, LastFullRefreshKey, testEpoch.Add(-6*time.Hour).UnixMilli()))

	d, err := NewFullRefreshGovernor(store, clk, 6*time.Hour).Decide(ctx)
	require.NoError(t, err)
	assert.True(t, d.Force)
}
