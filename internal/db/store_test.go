package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// testStoreContract exercises the behaviour every Store implementation must share.
func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)

	t.Run("upsert inserts then merges", func(t *testing.T) {
		inserted, err := store.Upsert(ctx, "invoices", "501",
			models.Document{"Number": float64(501), "Status": "Draft", models.FieldUpdatedAt: now, models.FieldLastSeenRun: "run-1"},
			models.Document{models.FieldCreatedAt: now, models.FieldDeletedAt: nil, "uuid": "invoice:501"})
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = store.Upsert(ctx, "invoices", "501",
			models.Document{"Status": "Paid", models.FieldUpdatedAt: now.Add(time.Hour), models.FieldLastSeenRun: "run-2"},
			models.Document{models.FieldCreatedAt: now.Add(time.Hour), models.FieldDeletedAt: nil, "uuid": "invoice:other"})
		require.NoError(t, err)
		assert.False(t, inserted)

		doc, err := store.FindOne(ctx, "invoices", "501")
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, "Paid", doc["Status"])
		assert.Equal(t, float64(501), doc["Number"])
		assert.Equal(t, "invoice:501", doc["uuid"])
		assert.Equal(t, "run-2", doc.LastSeenRun())
		assert.False(t, doc.IsDeleted())
	})

	t.Run("find missing returns nil", func(t *testing.T) {
		doc, err := store.FindOne(ctx, "invoices", "999999")
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("max number", func(t *testing.T) {
		_, err := store.Upsert(ctx, "invoices", "730", models.Document{"Number": float64(730)}, nil)
		require.NoError(t, err)

		max, err := store.MaxNumber(ctx, "invoices")
		require.NoError(t, err)
		assert.Equal(t, int64(730), max)

		max, err = store.MaxNumber(ctx, "quotes")
		require.NoError(t, err)
		assert.Zero(t, max)
	})

	t.Run("update many with filter", func(t *testing.T) {
		for _, code := range []string{"A1", "B2", "C3"} {
			tag := "run-old"
			if code == "A1" {
				tag = "run-new"
			}
			_, err := store.Upsert(ctx, "customers", code,
				models.Document{"Code": code, models.FieldLastSeenRun: tag},
				models.Document{models.FieldCreatedAt: now, models.FieldDeletedAt: nil})
			require.NoError(t, err)
		}
		_, err := store.Upsert(ctx, "customers", "D4",
			models.Document{"Code": "D4"},
			models.Document{models.FieldCreatedAt: now, models.FieldDeletedAt: nil})
		require.NoError(t, err)

		filter := Filter{Active: true, NotSeenIn: "run-new"}
		count, err := store.CountDocuments(ctx, "customers", filter)
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)

		n, err := store.UpdateMany(ctx, "customers", filter,
			models.Document{models.FieldDeletedAt: now, models.FieldUpdatedAt: now})
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		active, err := store.CountDocuments(ctx, "customers", Filter{Active: true})
		require.NoError(t, err)
		assert.Equal(t, int64(1), active)

		doc, err := store.FindOne(ctx, "customers", "D4")
		require.NoError(t, err)
		assert.True(t, doc.IsDeleted())

		// a later upsert never clears deletedAt
		_, err = store.Upsert(ctx, "customers", "D4",
			models.Document{"Code": "D4", models.FieldLastSeenRun: "run-3"},
			models.Document{models.FieldDeletedAt: nil})
		require.NoError(t, err)
		doc, err = store.FindOne(ctx, "customers", "D4")
		require.NoError(t, err)
		assert.True(t, doc.IsDeleted())
	})

	t.Run("state round trip", func(t *testing.T) {
		var page int
		found, err := store.Get(ctx, "customers:lastPage", &page)
		require.NoError(t, err)
		assert.False(t, found)

		require.NoError(t, store.Set(ctx, "customers:lastPage", 7))
		require.NoError(t, store.Set(ctx, "customers:lastPage", 8))

		found, err = store.Get(ctx, "customers:lastPage", &page)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, 8, page)

		all, err := store.ListState(ctx)
		require.NoError(t, err)
		assert.JSONEq(t, "8", string(all["customers:lastPage"]))
	})

	t.Run("change log", func(t *testing.T) {
		for i, key := range []string{"501", "502", "501"} {
			rec := &models.ChangeRecord{
				Entity:        "invoices",
				Key:           key,
				Op:            models.OpUpdate,
				RunTag:        "run-1",
				ChangedFields: []string{"Status"},
				Changes:       map[string]models.FieldChange{"Status": {Before: "Draft", After: "Paid"}},
				CreatedAt:     now.Add(time.Duration(i) * time.Minute),
			}
			require.NoError(t, store.RecordChange(ctx, rec))
			assert.NotZero(t, rec.ID)
		}

		recs, err := store.ListChanges(ctx, models.ChangeQuery{Entity: "invoices", Key: "501"})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.True(t, recs[0].CreatedAt.After(recs[1].CreatedAt))
		assert.Equal(t, []string{"Status"}, recs[0].ChangedFields)
		assert.Equal(t, "Paid", recs[0].Changes["Status"].After)

		since := now.Add(90 * time.Second)
		recs, err = store.ListChanges(ctx, models.ChangeQuery{Since: &since, Limit: 10})
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("summaries", func(t *testing.T) {
		for i, id := range []string{"sum-1", "sum-2"} {
			start := now.Add(time.Duration(i) * time.Hour)
			require.NoError(t, store.SaveSummary(ctx, &models.RunSummary{
				ID:         id,
				RunTag:     "run-" + id,
				Start:      start,
				End:        start.Add(time.Minute),
				DurationMs: 60000,
				Success:    i == 0,
				Error:      map[bool]string{true: "", false: "boom"}[i == 0],
				Entities:   []models.EntityOutcome{{Entity: "customers", Fetched: 10}},
			}))
		}

		list, err := store.ListSummaries(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "sum-2", list[0].ID)
		assert.Equal(t, "boom", list[0].Error)

		got, err := store.GetSummary(ctx, "sum-1")
		require.NoError(t, err)
		assert.True(t, got.Success)
		require.Len(t, got.Entities, 1)
		assert.Equal(t, 10, got.Entities[0].Fetched)

		_, err = store.GetSummary(ctx, "missing")
		assert.True(t, errors.IsNotFound(err))
	})
}
