package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
	"github.com/Kamar-Folarin/kashflow-sync/internal/db"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

var testEpoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// pagedFetcher serves items in fixed-size pages the way the KashFlow API does
type pagedFetcher struct {
	mu     sync.Mutex
	items  []models.Item
	calls  []int
	params []map[string]string
	// failPage makes FetchPage fail for that page number.
	failPage int
	// emptyTail reports HasNext on the last page so the next one is empty.
	emptyTail bool
	unpaged   bool
	// block, when set, is received from before the first page is served.
	block   chan struct{}
	entered chan struct{}
}

func newPagedFetcher(items ...models.Item) *pagedFetcher {
	return &pagedFetcher{items: items}
}

func (f *pagedFetcher) FetchPage(ctx context.Context, page, pageSize int, params map[string]string) (*models.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.params = append(f.params, params)
	block, entered := f.block, f.entered
	f.block = nil
	items := f.items
	f.mu.Unlock()

	if block != nil {
		if entered != nil {
			close(entered)
		}
		<-block
	}
	if f.failPage == page {
		return nil, fmt.Errorf("upstream unavailable")
	}
	if f.unpaged {
		return &models.Page{Items: items, Page: 1, PageSize: len(items), Total: len(items), Unpaged: true}, nil
	}

	start := (page - 1) * pageSize
	if start >= len(items) {
		return &models.Page{Page: page, PageSize: pageSize, Total: len(items)}, nil
	}
	end := min(start+pageSize, len(items))
	return &models.Page{
		Items:    append([]models.Item(nil), items[start:end]...),
		Page:     page,
		PageSize: pageSize,
		Total:    len(items),
		HasNext:  end < len(items) || f.emptyTail,
	}, nil
}

func (f *pagedFetcher) setItems(items ...models.Item) {
	f.mu.Lock()
	f.items = items
	f.mu.Unlock()
}

func (f *pagedFetcher) pages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

func coded(codes ...string) []models.Item {
	out := make([]models.Item, len(codes))
	for i, c := range codes {
		out[i] = models.Item{"Code": c, "Name": "Name " + c}
	}
	return out
}

func numbered(nums ...int) []models.Item {
	out := make([]models.Item, len(nums))
	for i, n := range nums {
		out[i] = models.Item{"Number": float64(n), "Reference": fmt.Sprintf("REF-%d", n)}
	}
	return out
}

func descending(from, to int) []int {
	var out []int
	for n := from; n >= to; n-- {
		out = append(out, n)
	}
	return out
}

func testSyncConfig() *config.SyncConfig {
	cfg := config.DefaultSyncConfig()
	cfg.CustomersPageSize = 2
	cfg.SuppliersPageSize = 2
	cfg.IncrementalPageSize = 3
	cfg.ProgressLogs = false
	return cfg
}

// specFor returns the default spec of one entity under testSyncConfig
func specFor(t *testing.T, cfg *config.SyncConfig, name string) EntitySpec {
	t.Helper()
	for _, s := range DefaultEntities(cfg) {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("unknown entity %s", name)
	return EntitySpec{}
}

type harness struct {
	store  db.Store
	clock  *testclock.Clock
	logs   *logtest.Hook
	orch   *Orchestrator
	config *config.SyncConfig
}

func newHarness(t *testing.T, store db.Store, cfg *config.SyncConfig, fetchers map[string]Fetcher, entities ...EntitySpec) *harness {
	t.Helper()
	if store == nil {
		store = db.NewMemoryStore()
	}
	if cfg == nil {
		cfg = testSyncConfig()
	}
	if entities == nil {
		entities = []EntitySpec{}
		for _, s := range DefaultEntities(cfg) {
			if fetchers[s.Name] != nil {
				entities = append(entities, s)
			}
		}
	}

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	clk := testclock.NewClock(testEpoch)

	orch, err := NewOrchestrator(Options{
		Store:    store,
		Fetchers: fetchers,
		Entities: entities,
		Config:   cfg,
		Clock:    clk,
		Logger:   logger,
	})
	require.NoError(t, err)

	return &harness{store: store, clock: clk, logs: hook, orch: orch, config: cfg}
}

// markRecentFullRefresh stores a marker so the next run is incremental
func (h *harness) markRecentFullRefresh(t *testing.T) {
	t.Helper()
	require.NoError(t, h.store.Set(context.Background(), LastFullRefreshKey, h.clock.Now().UnixMilli()))
}

func (h *harness) run(t *testing.T) *models.RunSummary {
	t.Helper()
	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.True(t, summary.Success, summary.Error)
	return summary
}

func (h *harness) state(t *testing.T, key string) int64 {
	t.Helper()
	var v int64
	_, err := h.store.Get(context.Background(), key, &v)
	require.NoError(t, err)
	return v
}

func (h *harness) doc(t *testing.T, entity, key string) models.Document {
	t.Helper()
	doc, err := h.store.FindOne(context.Background(), entity, key)
	require.NoError(t, err)
	return doc
}

func (h *harness) seed(t *testing.T, entity, key string, doc models.Document) {
	t.Helper()
	set := doc.Clone()
	set[models.FieldLastSeenRun] = "old-run"
	set[models.FieldUpdatedAt] = testEpoch.Add(-48 * time.Hour)
	_, err := h.store.Upsert(context.Background(), entity, key, set, models.Document{
		models.FieldCreatedAt: testEpoch.Add(-48 * time.Hour),
		models.FieldDeletedAt: nil,
	})
	require.NoError(t, err)
}
