package syncer

import (
	"context"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// fullTraversal walks pages forward from the saved cursor until the list
// ends. Only a traversal that began at page 1 counts as complete, and only a
// complete traversal soft-deletes.
func (r *entityRunner) fullTraversal(ctx context.Context, run Run, out *models.EntityOutcome) error {
	cursor, err := r.loadCursor(ctx)
	if err != nil {
		return err
	}

	page := max(cursor, 1)
	fromStart := page == 1
	out.StartPage = page

	for {
		if err := ctx.Err(); err != nil {
			out.StoppedReason = models.StopCancelled
			out.EndPage = page
			return err
		}

		res, err := r.fetch(ctx, page, nil)
		if err != nil {
			out.EndPage = page
			return err
		}
		r.observe(out, page, res, false)

		if len(res.Items) == 0 && page > 1 {
			out.Complete = fromStart
			out.StoppedReason = models.StopEmptyPage
			if err := r.saveCursor(ctx, 0); err != nil {
				return err
			}
			break
		}

		n, err := r.applyItems(ctx, run, page, r.keyItems(res.Items))
		out.Upserted += n
		if err != nil {
			out.EndPage = page
			return err
		}

		if err := r.saveCursor(ctx, page); err != nil {
			return err
		}
		if !res.HasNext {
			out.Complete = fromStart
			out.StoppedReason = models.StopNoNextPage
			if err := r.saveCursor(ctx, 0); err != nil {
				return err
			}
			break
		}
		page++
	}
	out.EndPage = page

	if out.Complete && out.Fetched > 0 {
		if err := r.softDelete(ctx, run, out); err != nil {
			return err
		}
	}
	if out.Complete && r.spec.CountCheck == CountCheckOnComplete {
		r.countCheck(ctx, out)
	}
	return nil
}
