// Package sqlite persists the sync queue and device credentials in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"example.com/kinexsync/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Store implements domain.QueueStore and domain.TokenStore on SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies the schema.
//
// The connection pool is limited to one connection since SQLite allows a single
// writer. WAL mode and a busy timeout are enabled.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

const selectColumns = `SELECT id, entity_kind, operation, entity_id, payload, created_at, retry_count, last_error, next_attempt_at FROM sync_queue`

// Save implements domain.QueueStore.
func (s *Store) Save(ctx context.Context, item domain.QueueItem) error {
	const stmt = `INSERT INTO sync_queue (id, entity_kind, operation, entity_id, payload, created_at, retry_count, last_error, next_attempt_at)
                  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
                  ON CONFLICT(id) DO UPDATE SET
                      entity_kind = excluded.entity_kind,
                      operation = excluded.operation,
                      entity_id = excluded.entity_id,
                      payload = excluded.payload,
                      created_at = excluded.created_at,
                      retry_count = excluded.retry_count,
                      last_error = excluded.last_error,
                      next_attempt_at = excluded.next_attempt_at`

	var lastErr sql.NullString
	if item.LastError != "" {
		lastErr = sql.NullString{String: item.LastError, Valid: true}
	}
	var next sql.NullInt64
	if item.NextAttemptAt != nil {
		next = sql.NullInt64{Int64: item.NextAttemptAt.UnixNano(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, stmt,
		item.ID,
		string(item.EntityKind),
		string(item.Operation),
		item.EntityID,
		item.Payload,
		item.CreatedAt.UnixNano(),
		item.RetryCount,
		lastErr,
		next,
	)
	if err != nil {
		return fmt.Errorf("save queue item %s: %w", item.ID, err)
	}
	return nil
}

// Delete implements domain.QueueStore.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queue item %s: %w", id, err)
	}
	return nil
}

// FetchPending implements domain.QueueStore.
func (s *Store) FetchPending(ctx context.Context, now time.Time) ([]domain.QueueItem, error) {
	return s.query(ctx, selectColumns+`
         WHERE retry_count < ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
         ORDER BY created_at, rowid`, domain.MaxRetries, now.UnixNano())
}

// FetchAll implements domain.QueueStore.
func (s *Store) FetchAll(ctx context.Context) ([]domain.QueueItem, error) {
	return s.query(ctx, selectColumns+` ORDER BY created_at, rowid`)
}

// PendingCount implements domain.QueueStore.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM sync_queue WHERE retry_count < ?`)
}

// FailedCount implements domain.QueueStore.
func (s *Store) FailedCount(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM sync_queue WHERE retry_count >= ?`)
}

// ClearFailed implements domain.QueueStore.
func (s *Store) ClearFailed(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE retry_count >= ?`, domain.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("clear failed items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ClearAll implements domain.QueueStore.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) count(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, domain.MaxRetries).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]domain.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var items []domain.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanItem(rows *sql.Rows) (domain.QueueItem, error) {
	var (
		item      domain.QueueItem
		kind, op  string
		createdAt int64
		lastErr   sql.NullString
		next      sql.NullInt64
	)
	if err := rows.Scan(&item.ID, &kind, &op, &item.EntityID, &item.Payload, &createdAt, &item.RetryCount, &lastErr, &next); err != nil {
		return domain.QueueItem{}, fmt.Errorf("scan queue item: %w", err)
	}
	item.EntityKind = domain.EntityKind(kind)
	item.Operation = domain.Operation(op)
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	item.LastError = lastErr.String
	if next.Valid {
		t := time.Unix(0, next.Int64).UTC()
		item.NextAttemptAt = &t
	}
	return item, nil
}
