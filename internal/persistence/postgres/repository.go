// Package postgres provides a Postgres-backed sync queue for agents sharing a server-side database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/kinexsync/internal/domain"
)

// Repository implements domain.QueueStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `SELECT id, entity_kind, operation, entity_id, payload, created_at, retry_count, last_error, next_attempt_at FROM sync_queue`

// Save implements domain.QueueStore.
func (r *Repository) Save(ctx context.Context, item domain.QueueItem) error {
	const stmt = `INSERT INTO sync_queue (id, entity_kind, operation, entity_id, payload, created_at, retry_count, last_error, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (id) DO UPDATE SET
            entity_kind = EXCLUDED.entity_kind,
            operation = EXCLUDED.operation,
            entity_id = EXCLUDED.entity_id,
            payload = EXCLUDED.payload,
            created_at = EXCLUDED.created_at,
            retry_count = EXCLUDED.retry_count,
            last_error = EXCLUDED.last_error,
            next_attempt_at = EXCLUDED.next_attempt_at`

	var lastErr *string
	if item.LastError != "" {
		lastErr = &item.LastError
	}

	_, err := r.pool.Exec(ctx, stmt,
		item.ID,
		string(item.EntityKind),
		string(item.Operation),
		item.EntityID,
		item.Payload,
		item.CreatedAt,
		item.RetryCount,
		lastErr,
		item.NextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("save queue item %s: %w", item.ID, err)
	}
	return nil
}

// Delete implements domain.QueueStore.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sync_queue WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete queue item %s: %w", id, err)
	}
	return nil
}

// FetchPending implements domain.QueueStore.
func (r *Repository) FetchPending(ctx context.Context, now time.Time) ([]domain.QueueItem, error) {
	return r.query(ctx, selectColumns+`
        WHERE retry_count < $1 AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
        ORDER BY created_at, seq`, domain.MaxRetries, now)
}

// FetchAll implements domain.QueueStore.
func (r *Repository) FetchAll(ctx context.Context) ([]domain.QueueItem, error) {
	return r.query(ctx, selectColumns+` ORDER BY created_at, seq`)
}

// PendingCount implements domain.QueueStore.
func (r *Repository) PendingCount(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM sync_queue WHERE retry_count < $1`)
}

// FailedCount implements domain.QueueStore.
func (r *Repository) FailedCount(ctx context.Context) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM sync_queue WHERE retry_count >= $1`)
}

// ClearFailed implements domain.QueueStore.
func (r *Repository) ClearFailed(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sync_queue WHERE retry_count >= $1`, domain.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("clear failed items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ClearAll implements domain.QueueStore.
func (r *Repository) ClearAll(ctx context.Context) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sync_queue`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *Repository) count(ctx context.Context, query string) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, query, domain.MaxRetries).Scan(&n); err != nil {
		return 0, fmt.Errorf("count queue items: %w", err)
	}
	return int(n), nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]domain.QueueItem, error) {
	rows, err := r.pool.Query(ctx, query, args...)
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

func scanItem(rows pgx.Rows) (domain.QueueItem, error) {
	var (
		item     domain.QueueItem
		kind, op string
		lastErr  *string
		next     *time.Time
	)
	if err := rows.Scan(&item.ID, &kind, &op, &item.EntityID, &item.Payload, &item.CreatedAt, &item.RetryCount, &lastErr, &next); err != nil {
		return domain.QueueItem{}, fmt.Errorf("scan queue item: %w", err)
	}
	item.EntityKind = domain.EntityKind(kind)
	item.Operation = domain.Operation(op)
	item.CreatedAt = item.CreatedAt.UTC()
	if lastErr != nil {
		item.LastError = *lastErr
	}
	if next != nil {
		utc := next.UTC()
		item.NextAttemptAt = &utc
	}
	return item, nil
}

// TokenStore implements domain.TokenStore on the auth_tokens table.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Load implements domain.TokenStore.
func (s *TokenStore) Load(ctx context.Context) (domain.Tokens, error) {
	var tokens domain.Tokens
	err := s.pool.QueryRow(ctx, `SELECT access_token, refresh_token FROM auth_tokens WHERE id = 1`).
		Scan(&tokens.AccessToken, &tokens.RefreshToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Tokens{}, nil
	}
	if err != nil {
		return domain.Tokens{}, fmt.Errorf("load tokens: %w", err)
	}
	return tokens, nil
}

// Save implements domain.TokenStore.
func (s *TokenStore) Save(ctx context.Context, tokens domain.Tokens) error {
	const stmt = `INSERT INTO auth_tokens (id, access_token, refresh_token, updated_at) VALUES (1, $1, $2, NOW())
        ON CONFLICT (id) DO UPDATE SET
            access_token = EXCLUDED.access_token,
            refresh_token = EXCLUDED.refresh_token,
            updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, stmt, tokens.AccessToken, tokens.RefreshToken); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// Clear implements domain.TokenStore.
func (s *TokenStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM auth_tokens`); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}
