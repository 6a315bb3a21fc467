package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// RecordChange appends an audit entry
func (s *PostgresStore) RecordChange(ctx context.Context, rec *models.ChangeRecord) error {
	if rec == nil {
		return fmt.Errorf("change record cannot be nil")
	}

	fields, err := json.Marshal(rec.ChangedFields)
	if err != nil {
		return fmt.Errorf("failed to marshal changed fields: %w", err)
	}
	changes, err := json.Marshal(rec.Changes)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO change_log (entity, key, op, run_tag, changed_fields, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, rec.Entity, rec.Key, rec.Op, rec.RunTag, string(fields), string(changes), rec.CreatedAt).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}
	return nil
}

// ListChanges retrieves audit entries newest first
func (s *PostgresStore) ListChanges(ctx context.Context, q models.ChangeQuery) ([]*models.ChangeRecord, error) {
	query := `
		SELECT id, entity, key, op, run_tag, changed_fields, changes, created_at
		FROM change_log
		WHERE 1=1`
	var args []interface{}
	argCount := 0

	if q.Entity != "" {
		argCount++
		query += fmt.Sprintf(" AND entity = $%d", argCount)
		args = append(args, q.Entity)
	}
	if q.Key != "" {
		argCount++
		query += fmt.Sprintf(" AND key = $%d", argCount)
		args = append(args, q.Key)
	}
	if q.Since != nil {
		argCount++
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *q.Since)
	}
	argCount++
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argCount)
	args = append(args, clampLimit(q.Limit, 100, 500))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	var out []*models.ChangeRecord
	for rows.Next() {
		var rec models.ChangeRecord
		var fields, changes []byte
		if err := rows.Scan(&rec.ID, &rec.Entity, &rec.Key, &rec.Op, &rec.RunTag, &fields, &changes, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change row: %w", err)
		}
		if err := json.Unmarshal(fields, &rec.ChangedFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changed fields: %w", err)
		}
		if err := json.Unmarshal(changes, &rec.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
		out = append(out, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change rows: %w", err)
	}
	return out, nil
}

// SaveSummary persists a run summary
func (s *PostgresStore) SaveSummary(ctx context.Context, summary *models.RunSummary) error {
	if summary == nil {
		return fmt.Errorf("summary cannot be nil")
	}

	entities, err := json.Marshal(summary.Entities)
	if err != nil {
		return fmt.Errorf("failed to marshal entity outcomes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_summaries (id, run_tag, start_at, end_at, duration_ms, success, error, full_refresh, entities)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, summary.ID, summary.RunTag, summary.Start, summary.End, summary.DurationMs,
		summary.Success, summary.Error, summary.FullRefresh, string(entities))
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

const summaryColumns = `id, run_tag, start_at, end_at, duration_ms, success, COALESCE(error, ''), full_refresh, entities`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSummary(row rowScanner) (*models.RunSummary, error) {
	var sum models.RunSummary
	var entities []byte
	if err := row.Scan(&sum.ID, &sum.RunTag, &sum.Start, &sum.End, &sum.DurationMs,
		&sum.Success, &sum.Error, &sum.FullRefresh, &entities); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(entities, &sum.Entities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity outcomes: %w", err)
	}
	return &sum, nil
}

// ListSummaries returns the most recent summaries
func (s *PostgresStore) ListSummaries(ctx context.Context, limit int) ([]*models.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+summaryColumns+" FROM sync_summaries ORDER BY start_at DESC LIMIT $1",
		clampLimit(limit, 25, 100))
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var out []*models.RunSummary
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating summary rows: %w", err)
	}
	return out, nil
}

// GetSummary returns one summary by id
func (s *PostgresStore) GetSummary(ctx context.Context, id string) (*models.RunSummary, error) {
	sum, err := scanSummary(s.db.QueryRowContext(ctx,
		"SELECT "+summaryColumns+" FROM sync_summaries WHERE id = $1", strings.TrimSpace(id)))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError(fmt.Sprintf("summary %s not found", id), nil)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return sum, nil
}
