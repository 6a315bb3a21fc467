package syncer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/kashflow-sync/internal/db"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// recordWriter performs the per-item apply step shared by all strategies:
// read the stored document, diff, upsert, then audit.
type recordWriter struct {
	docs       db.DocumentStore
	audit      db.AuditStore
	clock      clock.Clock
	logger     *logrus.Entry
	upsertLogs bool
}

type keyedItem struct {
	key  string
	item models.Item
}

// keyOf extracts the natural key of item as a string.
func keyOf(spec *EntitySpec, item models.Item) (string, bool) {
	if spec.Strategy == StrategyIncrementalMax {
		n, ok := item.NumberKey(spec.KeyField)
		if !ok {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	}
	return item.StringKey(spec.KeyField)
}

// apply upserts one item tagged with runTag. A failed upsert is returned; a
// failed audit write is only logged.
func (w *recordWriter) apply(ctx context.Context, spec *EntitySpec, runTag string, ki keyedItem) error {
	now := w.clock.Now().UTC()

	set := spec.toDocument(ki.item)
	set[models.FieldUpdatedAt] = now
	set[models.FieldLastSeenRun] = runTag

	insertOnly := models.Document{
		models.FieldCreatedAt: now,
		models.FieldDeletedAt: nil,
	}
	if spec.InsertOnly != nil {
		for k, v := range spec.InsertOnly(ki.key) {
			insertOnly[k] = v
		}
	}

	before, err := w.docs.FindOne(ctx, spec.Name, ki.key)
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", spec.Name, ki.key, err)
	}
	fields, changes := Diff(before, set)

	inserted, err := w.docs.Upsert(ctx, spec.Name, ki.key, set, insertOnly)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", spec.Name, ki.key, err)
	}

	op := models.OpUpdate
	if inserted || before == nil {
		op = models.OpInsert
	}

	if w.upsertLogs {
		w.logger.WithFields(logrus.Fields{
			"entity":  spec.Name,
			"key":     ki.key,
			"op":      op,
			"changed": len(fields),
		}).Debug("Upserted record")
	}

	if w.audit == nil {
		return nil
	}
	rec := &models.ChangeRecord{
		Entity:        spec.Name,
		Key:           ki.key,
		Op:            op,
		RunTag:        runTag,
		ChangedFields: fields,
		Changes:       changes,
		CreatedAt:     now,
	}
	if err := w.audit.RecordChange(ctx, rec); err != nil {
		w.logger.WithFields(logrus.Fields{
			"entity": spec.Name,
			"key":    ki.key,
			"error":  err,
		}).Warn("Failed to record change")
	}
	return nil
}
