package db

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connectionString string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// FindOne retrieves a document with its bookkeeping fields
func (s *PostgresStore) FindOne(ctx context.Context, entity, key string) (models.Document, error) {
	var (
		payload     []byte
		createdAt   sql.NullTime
		updatedAt   sql.NullTime
		deletedAt   sql.NullTime
		lastSeenRun sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT doc, created_at, updated_at, deleted_at, last_seen_run
		FROM records
		WHERE entity = $1 AND key = $2
	`, entity, key).Scan(&payload, &createdAt, &updatedAt, &deletedAt, &lastSeenRun)

	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", entity, key, err)
	}

	doc := models.Document{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s %s: %w", entity, key, err)
	}
	if createdAt.Valid {
		doc[models.FieldCreatedAt] = createdAt.Time
	}
	if updatedAt.Valid {
		doc[models.FieldUpdatedAt] = updatedAt.Time
	}
	if deletedAt.Valid {
		doc[models.FieldDeletedAt] = deletedAt.Time
	} else {
		doc[models.FieldDeletedAt] = nil
	}
	if lastSeenRun.Valid {
		doc[models.FieldLastSeenRun] = lastSeenRun.String
	}

	return doc, nil
}

// Upsert merges set into the stored JSON document. insertOnly fields are only
// written when the row is created.
func (s *PostgresStore) Upsert(ctx context.Context, entity, key string, set, insertOnly models.Document) (bool, error) {
	setBK, setPayload, err := splitDocument(set)
	if err != nil {
		return false, err
	}
	insBK, insPayload, err := splitDocument(insertOnly)
	if err != nil {
		return false, err
	}

	createdAt := insBK.createdAt
	if createdAt == nil {
		now := time.Now().UTC()
		createdAt = &now
	}

	var inserted bool
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO records (entity, key, num, doc, created_at, updated_at, deleted_at, last_seen_run)
		VALUES ($1, $2, $3, $5::jsonb || $4::jsonb, $6, $7, $8, $9)
		ON CONFLICT (entity, key) DO UPDATE SET
			doc = records.doc || $4::jsonb,
			num = COALESCE(EXCLUDED.num, records.num),
			updated_at = COALESCE(EXCLUDED.updated_at, records.updated_at),
			last_seen_run = COALESCE(EXCLUDED.last_seen_run, records.last_seen_run)
		RETURNING (xmax = 0)
	`, entity, key, numericKey(key), string(setPayload), string(insPayload),
		createdAt, setBK.updatedAt, insBK.deletedAt, setBK.lastSeenRun).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert %s %s: %w", entity, key, err)
	}

	return inserted, nil
}

// UpdateMany applies set to every matching document
func (s *PostgresStore) UpdateMany(ctx context.Context, entity string, filter Filter, set models.Document) (int64, error) {
	bk, payload, err := splitDocument(set)
	if err != nil {
		return 0, err
	}

	args := []interface{}{entity}
	argCount := 1
	var assignments []string

	if bk.hasDeleted {
		argCount++
		assignments = append(assignments, fmt.Sprintf("deleted_at = $%d", argCount))
		args = append(args, bk.deletedAt)
	}
	if bk.updatedAt != nil {
		argCount++
		assignments = append(assignments, fmt.Sprintf("updated_at = $%d", argCount))
		args = append(args, *bk.updatedAt)
	}
	if bk.lastSeenRun != nil {
		argCount++
		assignments = append(assignments, fmt.Sprintf("last_seen_run = $%d", argCount))
		args = append(args, *bk.lastSeenRun)
	}
	if string(payload) != "{}" {
		argCount++
		assignments = append(assignments, fmt.Sprintf("doc = doc || $%d::jsonb", argCount))
		args = append(args, string(payload))
	}
	if len(assignments) == 0 {
		return 0, nil
	}

	where, args := filterClause(filter, args)
	query := "UPDATE records SET " + strings.Join(assignments, ", ") + " WHERE entity = $1" + where

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", entity, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected, nil
}

// CountDocuments counts documents matching filter
func (s *PostgresStore) CountDocuments(ctx context.Context, entity string, filter Filter) (int64, error) {
	where, args := filterClause(filter, []interface{}{entity})

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE entity = $1"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", entity, err)
	}
	return count, nil
}

// MaxNumber returns the highest numeric key for entity
func (s *PostgresStore) MaxNumber(ctx context.Context, entity string) (int64, error) {
	var highest int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(num), 0) FROM records WHERE entity = $1
	`, entity).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("failed to get max number for %s: %w", entity, err)
	}
	return highest, nil
}

// filterClause appends the filter conditions, numbering placeholders after args.
func filterClause(f Filter, args []interface{}) (string, []interface{}) {
	var b strings.Builder
	if f.Active {
		b.WriteString(" AND deleted_at IS NULL")
	}
	if f.NotSeenIn != "" {
		args = append(args, f.NotSeenIn)
		fmt.Fprintf(&b, " AND (last_seen_run IS NULL OR last_seen_run <> $%d)", len(args))
	}
	return b.String(), args
}

// Get retrieves a state value
func (s *PostgresStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get state %s: %w", key, err)
	}

	if err := json.Unmarshal(value, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal state %s: %w", key, err)
	}
	return true, nil
}

// Set stores a state value
func (s *PostgresStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal state %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// ListState returns every stored state value
func (s *PostgresStore) ListState(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM app_state ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan state row: %w", err)
		}
		out[key] = json.RawMessage(value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating state rows: %w", err)
	}
	return out, nil
}
