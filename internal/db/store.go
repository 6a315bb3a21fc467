package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// Filter selects documents of one entity for UpdateMany and CountDocuments.
type Filter struct {
	// Active restricts the match to documents whose deletedAt is null.
	Active bool
	// NotSeenIn matches documents whose lastSeenRun differs from this tag or is missing.
	NotSeenIn string
}

// DocumentStore defines per-entity document operations
type DocumentStore interface {
	// FindOne returns the stored document for key, or nil when absent
	FindOne(ctx context.Context, entity, key string) (models.Document, error)

	// Upsert merges set into the document for key, creating it with set and
	// insertOnly when absent. It reports whether a new document was created.
	// deletedAt and createdAt of an existing document are never changed.
	Upsert(ctx context.Context, entity, key string, set, insertOnly models.Document) (bool, error)

	// UpdateMany applies set to every document matching filter and returns the count
	UpdateMany(ctx context.Context, entity string, filter Filter, set models.Document) (int64, error)

	// CountDocuments counts documents matching filter
	CountDocuments(ctx context.Context, entity string, filter Filter) (int64, error)

	// MaxNumber returns the highest numeric key stored for entity, 0 when empty
	MaxNumber(ctx context.Context, entity string) (int64, error)
}

// StateStore defines durable key/value persistence for cursors and timestamps
type StateStore interface {
	// Get decodes the value stored under key into dst and reports whether it existed
	Get(ctx context.Context, key string, dst any) (bool, error)

	// Set stores value under key
	Set(ctx context.Context, key string, value any) error

	// ListState returns every stored key with its raw value
	ListState(ctx context.Context) (map[string]json.RawMessage, error)
}

// AuditStore defines audit log operations
type AuditStore interface {
	// RecordChange appends an entry to the audit log
	RecordChange(ctx context.Context, rec *models.ChangeRecord) error

	// ListChanges returns audit entries newest first
	ListChanges(ctx context.Context, q models.ChangeQuery) ([]*models.ChangeRecord, error)
}

// SummaryStore defines run summary history operations
type SummaryStore interface {
	SaveSummary(ctx context.Context, summary *models.RunSummary) error
	ListSummaries(ctx context.Context, limit int) ([]*models.RunSummary, error)
	GetSummary(ctx context.Context, id string) (*models.RunSummary, error)
}

// Store is the full persistence surface of the service
type Store interface {
	DocumentStore
	StateStore
	AuditStore
	SummaryStore
	Close() error
}

// bookkeeping holds the column-backed fields split out of a document.
type bookkeeping struct {
	createdAt   *time.Time
	updatedAt   *time.Time
	deletedAt   *time.Time
	hasDeleted  bool
	lastSeenRun *string
}

// splitDocument separates bookkeeping fields from the JSON payload.
func splitDocument(doc models.Document) (bookkeeping, []byte, error) {
	var bk bookkeeping
	payload := make(map[string]any, len(doc))
	for k, v := range doc {
		switch k {
		case models.FieldCreatedAt:
			bk.createdAt = toTime(v)
		case models.FieldUpdatedAt:
			bk.updatedAt = toTime(v)
		case models.FieldDeletedAt:
			bk.deletedAt = toTime(v)
			bk.hasDeleted = true
		case models.FieldLastSeenRun:
			if s, ok := v.(string); ok {
				bk.lastSeenRun = &s
			}
		default:
			payload[k] = v
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return bk, nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return bk, data, nil
}

func toTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return &t
	case *time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil
		}
		return &parsed
	default:
		return nil
	}
}

// numericKey returns the key as a number when it is one, for MaxNumber.
func numericKey(key string) *int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

func clampLimit(limit, def, upper int) int {
	if limit <= 0 {
		return def
	}
	if limit > upper {
		return upper
	}
	return limit
}
