package syncer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/kashflow-sync/internal/db"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// entityRunner executes one EntitySpec against its fetcher
type entityRunner struct {
	spec                  *EntitySpec
	fetcher               Fetcher
	docs                  db.DocumentStore
	state                 db.StateStore
	writer                *recordWriter
	reconciler            *SoftDeleteReconciler
	processor             PageProcessor
	logger                *logrus.Entry
	progressLogs          bool
	incrementalSoftDelete bool
}

func (r *entityRunner) run(ctx context.Context, run Run) (models.EntityOutcome, error) {
	out := models.EntityOutcome{
		Entity:      r.spec.Name,
		Strategy:    string(r.spec.Strategy),
		FullRefresh: run.ForceFullRefresh,
	}

	var err error
	switch r.spec.Strategy {
	case StrategyFullTraversal:
		err = r.fullTraversal(ctx, run, &out)
	case StrategyWrapTraversal:
		err = r.wrapTraversal(ctx, run, &out)
	case StrategyIncrementalMax:
		err = r.incremental(ctx, run, &out)
	default:
		err = fmt.Errorf("unknown strategy %q for %s", r.spec.Strategy, r.spec.Name)
	}
	return out, err
}

func (r *entityRunner) fetch(ctx context.Context, page int, extra map[string]string) (*models.Page, error) {
	params := make(map[string]string, len(r.spec.Params)+len(extra))
	for k, v := range r.spec.Params {
		params[k] = v
	}
	for k, v := range extra {
		params[k] = v
	}

	res, err := r.fetcher.FetchPage(ctx, page, r.spec.PageSize, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s page %d: %w", r.spec.Name, page, err)
	}
	if res == nil {
		res = &models.Page{Page: page, PageSize: r.spec.PageSize}
	}
	return res, nil
}

// observe updates the counters of out with a fetched page
func (r *entityRunner) observe(out *models.EntityOutcome, page int, res *models.Page, looped bool) {
	out.Pages++
	out.Fetched += len(res.Items)
	if res.Total > 0 {
		out.Total = res.Total
	}
	if !r.progressLogs {
		return
	}

	var pct float64
	if out.Total > 0 {
		pct = min(100, float64(out.Fetched)/float64(out.Total)*100)
	}
	fields := logrus.Fields{
		"page":       page,
		"page_size":  len(res.Items),
		"cumulative": out.Fetched,
		"total":      out.Total,
		"pct":        fmt.Sprintf("%.2f", pct),
	}
	if looped {
		fields["looped"] = true
	}
	r.logger.WithFields(fields).Info("Sync progress")
}

// keyItems pairs items with their natural key, skipping items without one
func (r *entityRunner) keyItems(items []models.Item) []keyedItem {
	out := make([]keyedItem, 0, len(items))
	for _, item := range items {
		key, ok := keyOf(r.spec, item)
		if !ok {
			r.logger.WithField("key_field", r.spec.KeyField).Warn("Skipping item without key")
			continue
		}
		out = append(out, keyedItem{key: key, item: item})
	}
	return out
}

// applyItems upserts items through the page processor and returns how many
// were written
func (r *entityRunner) applyItems(ctx context.Context, run Run, page int, items []keyedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	keys := make([]string, len(items))
	for i, ki := range items {
		keys[i] = ki.key
	}

	err := r.processor.ProcessPage(ctx, r.spec.Name, page, keys, func(ctx context.Context, i int) error {
		return r.writer.apply(ctx, r.spec, run.Tag, items[i])
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (r *entityRunner) loadCursor(ctx context.Context) (int, error) {
	var page int
	if _, err := r.state.Get(ctx, r.spec.lastPageKey(), &page); err != nil {
		return 0, fmt.Errorf("failed to load %s cursor: %w", r.spec.Name, err)
	}
	return page, nil
}

func (r *entityRunner) saveCursor(ctx context.Context, page int) error {
	if err := r.state.Set(ctx, r.spec.lastPageKey(), page); err != nil {
		return fmt.Errorf("failed to save %s cursor: %w", r.spec.Name, err)
	}
	return nil
}

func (r *entityRunner) softDelete(ctx context.Context, run Run, out *models.EntityOutcome) error {
	n, err := r.reconciler.Reconcile(ctx, r.spec.Name, run.Tag)
	if err != nil {
		return fmt.Errorf("failed to soft delete %s: %w", r.spec.Name, err)
	}
	out.SoftDeleted = n
	if n > 0 {
		r.logger.WithField("soft_deleted", n).Info("Soft deleted records missing from upstream")
	}
	return nil
}

// countCheck compares active documents with the API total. Failures and
// mismatches are reported, never fatal.
func (r *entityRunner) countCheck(ctx context.Context, out *models.EntityOutcome) {
	count, err := r.docs.CountDocuments(ctx, r.spec.Name, db.Filter{Active: true})
	if err != nil {
		r.logger.WithError(err).Warn("Count check failed")
		return
	}

	out.DBCount = count
	fields := logrus.Fields{"db_count": count, "api_total": out.Total}
	if out.Total > 0 && count != int64(out.Total) {
		out.CountMismatch = true
		r.logger.WithFields(fields).Warn("Count mismatch between store and API")
		return
	}
	r.logger.WithFields(fields).Info("Count check OK")
}
