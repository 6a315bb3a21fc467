package syncer

import (
	"context"
	"strings"

	"github.com/juju/clock"

	"github.com/Kamar-Folarin/kashflow-sync/internal/db"
	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// SoftDeleteReconciler marks active documents that a completed traversal did
// not see. Documents are never physically removed.
type SoftDeleteReconciler struct {
	docs  db.DocumentStore
	clock clock.Clock
}

// NewSoftDeleteReconciler creates a reconciler over docs
func NewSoftDeleteReconciler(docs db.DocumentStore, clk clock.Clock) *SoftDeleteReconciler {
	if clk == nil {
		clk = clock.WallClock
	}
	return &SoftDeleteReconciler{docs: docs, clock: clk}
}

// Reconcile sets deletedAt on every active document of entity whose
// lastSeenRun is not runTag and returns how many were marked. Already
// deleted documents keep their original deletedAt.
func (r *SoftDeleteReconciler) Reconcile(ctx context.Context, entity, runTag string) (int64, error) {
	if strings.TrimSpace(runTag) == "" {
		return 0, errors.NewValidationError("soft delete requires a run tag", nil)
	}

	now := r.clock.Now().UTC()
	return r.docs.UpdateMany(ctx, entity,
		db.Filter{Active: true, NotSeenIn: runTag},
		models.Document{
			models.FieldDeletedAt: now,
			models.FieldUpdatedAt: now,
		})
}
