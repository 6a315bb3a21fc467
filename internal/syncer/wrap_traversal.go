package syncer

import (
	"context"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// wrapTraversal starts at the saved cursor and, on reaching the end of the
// list, wraps to page 1 and continues up to the starting page. Every run
// therefore covers the whole list and is complete.
func (r *entityRunner) wrapTraversal(ctx context.Context, run Run, out *models.EntityOutcome) error {
	cursor, err := r.loadCursor(ctx)
	if err != nil {
		return err
	}

	initial := max(cursor, 1)
	page := initial
	looped := false
	out.StartPage = initial

	finish := func(reason string) error {
		out.Complete = true
		out.StoppedReason = reason
		return r.saveCursor(ctx, 0)
	}

	for {
		if err := ctx.Err(); err != nil {
			out.StoppedReason = models.StopCancelled
			out.EndPage = page
			out.Looped = looped
			return err
		}

		res, err := r.fetch(ctx, page, nil)
		if err != nil {
			out.EndPage = page
			out.Looped = looped
			return err
		}
		r.observe(out, page, res, looped)

		if len(res.Items) == 0 && page > 1 {
			if !looped && initial > 1 {
				looped = true
				page = 1
				continue
			}
			if err := finish(models.StopEmptyPage); err != nil {
				return err
			}
			break
		}

		n, err := r.applyItems(ctx, run, page, r.keyItems(res.Items))
		out.Upserted += n
		if err != nil {
			out.EndPage = page
			out.Looped = looped
			return err
		}

		if err := r.saveCursor(ctx, page); err != nil {
			return err
		}
		if !res.HasNext {
			if !looped && initial > 1 {
				looped = true
				page = 1
				continue
			}
			if err := finish(models.StopNoNextPage); err != nil {
				return err
			}
			break
		}

		page++
		if looped && page >= initial {
			if err := finish(models.StopWrapped); err != nil {
				return err
			}
			break
		}
	}
	out.EndPage = page
	out.Looped = looped

	if out.Fetched > 0 {
		if err := r.softDelete(ctx, run, out); err != nil {
			return err
		}
	}
	if r.spec.CountCheck != CountCheckNever {
		r.countCheck(ctx, out)
	}
	return nil
}
