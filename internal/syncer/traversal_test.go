package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

func TestFullTraversal(t *testing.T) {
	t.Run("fresh run covers every page and resets cursor", func(t *testing.T) {
		f := newPagedFetcher(coded("A", "B", "C", "D", "E")...)
		h := newHarness(t, nil, nil, map[string]Fetcher{EntityCustomers: f})

		summary := h.run(t)
		require.Len(t, summary.Entities, 1)
		out := summary.Entities[0]

		assert.Equal(t, []int{1, 2, 3}, f.pages())
		assert.Equal(t, 3, out.Pages)
		assert.Equal(t, 5, out.Fetched)
		assert.Equal(t, 5, out.Upserted)
		assert.Equal(t, 1, out.StartPage)
		assert.Equal(t, 3, out.EndPage)
		assert.True(t, out.Complete)
		assert.Equal(t, models.StopNoNextPage, out.StoppedReason)
		assert.Zero(t, h.state(t, "customers:lastPage"))
		assert.Equal(t, int64(5), out.DBCount)
		assert.False(t, out.CountMismatch)

		doc := h.doc(t, EntityCustomers, "C")
		require.NotNil(t, doc)
		assert.Equal(t, "Name C", doc["Name"])
		assert.Equal(t, summary.RunTag, doc.LastSeenRun())
		assert.False(t, doc.IsDeleted())
	})

	t.Run("complete run soft deletes unseen records once", func(t *testing.T) {
		f := newPagedFetcher(coded("A", "B", "C")...)
		h := newHarness(t, nil, nil, map[string]Fetcher{EntityCustomers: f})
		h.seed(t, EntityCustomers, "Z", models.Document{"Code": "Z"})

		summary := h.run(t)
		assert.Equal(t, int64(1), summary.Entities[0].SoftDeleted)

		gone := h.doc(t, EntityCustomers, "Z")
		require.True(t, gone.IsDeleted())
		deletedAt := gone[models.FieldDeletedAt]

		// Z reappears upstream but stays deleted.
		f.setItems(coded("A", "B", "C", "Z")...)
		h.clock.Advance(time.Hour)
		summary = h.run(t)
		assert.Zero(t, summary.Entities[0].SoftDeleted)

		back := h.doc(t, EntityCustomers, "Z")
		assert.True(t, back.IsDeleted())
		assert.Equal(t, deletedAt, back[models.FieldDeletedAt])
		assert.Equal(t, summary.RunTag, back.LastSeenRun())
	})

	t.Run("resumed run is never complete", func(t *testing.T) {
		f := newPagedFetcher(coded("A", "B", "C", "D", "E", "F")...)
		h := newHarness(t, nil, nil, map[string]Fetcher{EntityCustomers: f})
		h.seed(t, EntityCustomers, "Z", models.Document{"Code": "Z"})
		require.NoError(t, h.store.Set(context.Background(), "customers:lastPage", 3))

		summary := h.run(t)
		out := summary.Entities[0]

		assert.Equal(t, []int{3}, f.pages())
		assert.Equal(t, 3, out.StartPage)
		assert.False(t, out.Complete)
		assert.Zero(t, out.SoftDeleted)
		assert.Zero(t, out.DBCount)
		assert.False(t, h.doc(t, EntityCustomers, "Z").IsDeleted())
		assert.Zero(t, h.state(t, "customers:lastPage"))

		// The following run starts from page 1 again.
		summary = h.run(t)
		assert.True(t, summary.Entities[0].Complete)
		assert.True(t, h.doc(t, EntityCustomers, "Z").IsDeleted())
	})

	t.Run("empty page beyond first ends traversal", func(t *testing.T) {
		f := newPagedFetcher(coded("A", "B", "C", "D")...)
		f.emptyTail = true
		h := newHarness(t, nil, nil, map[string]Fetcher{EntityCustomers: f})

		out := h.run(t).Entities[0]
		assert.Equal(t, []int{1, 2, 3}, f.pages())
		assert.Equal(t, models.StopEmptyPage, out.StoppedReason)
		assert.True(t, out.Complete)
		assert.Zero(t, h.state(t, "customers:lastPage"))
	})

	t.Run("empty upstream soft deletes nothing", func(t *testing.T) {
		f := newPagedFetcher()
		h := newHarness(t, nil, nil, map[string]Fetcher{EntityCustomers: f})
		h.seed(t, EntityCustomers, "Z", models.Document{"Code": "Z"})

		out := h.run(t).Entities[0]
		assert.True(t, out.Complete)
		assert.Zero(t, out.Fetched)
		assert.Zero(t, out.SoftDeleted)
		assert.False(t, h.doc(t, EntityCustomers, "Z").IsDeleted())
	})

	t.Run("failure keeps cursor at last applied page", func(t *testing.T) {
		f := newPagedFetcher(coded("A", "B", "C", "D", "E", "F")...)
		f.failPage = 3
		h := newHarness(t, nil, nil, map[string]Fetcher{EntityCustomers: f})
		h.seed(t, EntityCustomers, "Z", models.Document{"Code": "Z"})

		summary, err := h.orch.Run(context.Background())
		require.Error(t, err)
		assert.False(t, summary.Success)
		assert.Equal(t, int64(2), h.state(t, "customers:lastPage"))
		assert.False(t, h.doc(t, EntityCustomers, "Z").IsDeleted())
		assert.NotNil(t, h.doc(t, EntityCustomers, "D"))
	})

	t.Run("items without key are skipped", func(t *testing.T) {
		items := coded("A", "B")
		items = append(items, models.Item{"Name": "no code"})
		f := newPagedFetcher(items...)
		cfg := testSyncConfig()
		cfg.CustomersPageSize = 10
		h := newHarness(t, nil, cfg, map[string]Fetcher{EntityCustomers: f})

		out := h.run(t).Entities[0]
		assert.Equal(t, 3, out.Fetched)
		assert.Equal(t, 2, out.Upserted)
		assert.True(t, out.CountMismatch)
		assert.Equal(t, int64(2), out.DBCount)
		assert.True(t, hasLog(h, "Skipping item without key"))
		assert.True(t, hasLog(h, "Count mismatch between store and API"))
	})

	t.Run("dates are normalized and sort params sent", func(t *testing.T) {
		f := newPagedFetcher(models.Item{"Code": "A", "CreatedDate": "2023-01-02T10:11:12", "LastInvoiceDate": ""})
		h := newHarness(t, nil, nil, map[string]Fetcher{EntityCustomers: f})
		h.run(t)

		doc := h.doc(t, EntityCustomers, "A")
		assert.Equal(t, "2023-01-02T10:11:12Z", doc["CreatedDate"])
		assert.NotContains(t, doc, "LastInvoiceDate")
		assert.Equal(t, "Code", f.params[0]["sortby"])
		assert.Equal(t, "Asc", f.params[0]["order"])
	})
}

func TestWrapTraversal(t *testing.T) {
	suppliers := coded("S1", "S2", "S3", "S4", "S5", "S6", "S7")

	t.Run("mid list start wraps to cover everything", func(t *testing.T) {
		f := newPagedFetcher(suppliers...)
		h := newHarness(t, nil, nil, map[string]Fetcher{EntitySuppliers: f})
		h.seed(t, EntitySuppliers, "OLD", models.Document{"Code": "OLD"})
		require.NoError(t, h.store.Set(context.Background(), "suppliers:lastPage", 3))

		out := h.run(t).Entities[0]

		assert.Equal(t, []int{3, 4, 1, 2}, f.pages())
		assert.True(t, out.Looped)
		assert.True(t, out.Complete)
		assert.Equal(t, models.StopWrapped, out.StoppedReason)
		assert.Equal(t, 7, out.Fetched)
		assert.Equal(t, 3, out.StartPage)
		assert.Equal(t, 3, out.EndPage)
		assert.Equal(t, int64(1), out.SoftDeleted)
		assert.True(t, h.doc(t, EntitySuppliers, "OLD").IsDeleted())
		assert.Zero(t, h.state(t, "suppliers:lastPage"))
		assert.Equal(t, int64(7), out.DBCount)
		assert.False(t, out.CountMismatch)
	})

	t.Run("start at first page behaves like full traversal", func(t *testing.T) {
		f := newPagedFetcher(suppliers...)
		h := newHarness(t, nil, nil, map[string]Fetcher{EntitySuppliers: f})

		out := h.run(t).Entities[0]
		assert.Equal(t, []int{1, 2, 3, 4}, f.pages())
		assert.False(t, out.Looped)
		assert.True(t, out.Complete)
		assert.Equal(t, models.StopNoNextPage, out.StoppedReason)
		assert.Equal(t, "Name", f.params[0]["sortby"])
	})

	t.Run("cursor past the end wraps on empty page", func(t *testing.T) {
		f := newPagedFetcher(suppliers...)
		h := newHarness(t, nil, nil, map[string]Fetcher{EntitySuppliers: f})
		require.NoError(t, h.store.Set(context.Background(), "suppliers:lastPage", 9))

		out := h.run(t).Entities[0]
		assert.Equal(t, []int{9, 1, 2, 3, 4}, f.pages())
		assert.True(t, out.Looped)
		assert.True(t, out.Complete)
		assert.Equal(t, models.StopNoNextPage, out.StoppedReason)
		assert.Equal(t, 7, out.Fetched)
	})

	t.Run("count check runs on every run", func(t *testing.T) {
		items := append(coded("S1", "S2"), models.Item{"Name": "no code"})
		f := newPagedFetcher(items...)
		h := newHarness(t, nil, nil, map[string]Fetcher{EntitySuppliers: f})

		out := h.run(t).Entities[0]
		assert.True(t, out.CountMismatch)
		assert.Equal(t, int64(2), out.DBCount)
	})
}

func hasLog(h *harness, msg string) bool {
	for _, e := range h.logs.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}
