package syncer

import (
	"context"
	"fmt"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// incremental walks pages sorted by descending Number and stops once it
// meets a record at or below the stored high-water mark. A forced run
// ignores the mark, walks the whole list and may soft-delete.
func (r *entityRunner) incremental(ctx context.Context, run Run, out *models.EntityOutcome) error {
	lastMax, err := r.loadLastMax(ctx)
	if err != nil {
		return err
	}

	force := run.ForceFullRefresh
	newMax := lastMax
	out.LastMax = lastMax
	out.StartPage = 1

	page := 1
	for {
		if err := ctx.Err(); err != nil {
			out.StoppedReason = models.StopCancelled
			break
		}

		res, err := r.fetch(ctx, page, nil)
		if err != nil {
			out.EndPage = page
			out.NewMax = newMax
			return err
		}
		r.observe(out, page, res, false)

		batch := make([]keyedItem, 0, len(res.Items))
		for _, item := range res.Items {
			num, ok := item.NumberKey(r.spec.KeyField)
			if !ok {
				r.logger.WithField("key_field", r.spec.KeyField).Warn("Skipping item without key")
				continue
			}
			newMax = max(newMax, num)
			if !force && num <= lastMax {
				out.ReachedOld = true
				continue
			}
			batch = append(batch, keyedItem{key: fmt.Sprint(num), item: item})
		}

		n, err := r.applyItems(ctx, run, page, batch)
		out.Upserted += n
		if err != nil {
			out.EndPage = page
			out.NewMax = newMax
			return err
		}

		if out.ReachedOld {
			out.StoppedReason = models.StopReachedOld
			break
		}
		if r.spec.StopOnUnpaged && res.Unpaged {
			out.Unpaged = true
			out.StoppedReason = models.StopUnpaged
			break
		}
		if len(res.Items) < r.spec.PageSize {
			out.StoppedReason = models.StopPartialPage
			break
		}
		if r.spec.StopOnExhaustedTotal && out.Total > 0 && out.Fetched >= out.Total {
			out.StoppedReason = models.StopExhaustedTotal
			break
		}
		page++
	}
	out.EndPage = page
	out.NewMax = newMax

	if newMax > lastMax {
		if err := r.state.Set(ctx, r.spec.lastMaxKey(), newMax); err != nil {
			return fmt.Errorf("failed to save %s high-water mark: %w", r.spec.Name, err)
		}
	}

	if out.StoppedReason == models.StopCancelled {
		return ctx.Err()
	}

	out.Complete = force
	if force && r.incrementalSoftDelete && out.Fetched > 0 {
		if err := r.softDelete(ctx, run, out); err != nil {
			return err
		}
	}
	return nil
}

// loadLastMax reads the stored high-water mark, seeding it from the highest
// stored Number when absent.
func (r *entityRunner) loadLastMax(ctx context.Context) (int64, error) {
	var lastMax int64
	if _, err := r.state.Get(ctx, r.spec.lastMaxKey(), &lastMax); err != nil {
		return 0, fmt.Errorf("failed to load %s high-water mark: %w", r.spec.Name, err)
	}
	if lastMax > 0 {
		return lastMax, nil
	}

	highest, err := r.docs.MaxNumber(ctx, r.spec.Name)
	if err != nil {
		return 0, err
	}
	if highest > 0 {
		if err := r.state.Set(ctx, r.spec.lastMaxKey(), highest); err != nil {
			return 0, fmt.Errorf("failed to seed %s high-water mark: %w", r.spec.Name, err)
		}
	}
	return highest, nil
}
