package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"example.com/kinexsync/internal/domain"
)

// TokenStore implements domain.TokenStore on the auth_tokens table of a Store.
type TokenStore struct {
	db  *sql.DB
	now func() time.Time
}

// Tokens returns a token store sharing the queue database.
func (s *Store) Tokens() *TokenStore {
	return &TokenStore{db: s.db, now: s.now}
}

// Load implements domain.TokenStore.
func (s *TokenStore) Load(ctx context.Context) (domain.Tokens, error) {
	var tokens domain.Tokens
	err := s.db.QueryRowContext(ctx, `SELECT access_token, refresh_token FROM auth_tokens WHERE id = 1`).
		Scan(&tokens.AccessToken, &tokens.RefreshToken)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Tokens{}, nil
	}
	if err != nil {
		return domain.Tokens{}, fmt.Errorf("load tokens: %w", err)
	}
	return tokens, nil
}

// Save implements domain.TokenStore.
func (s *TokenStore) Save(ctx context.Context, tokens domain.Tokens) error {
	const stmt = `INSERT INTO auth_tokens (id, access_token, refresh_token, updated_at) VALUES (1, ?, ?, ?)
                  ON CONFLICT(id) DO UPDATE SET
                      access_token = excluded.access_token,
                      refresh_token = excluded.refresh_token,
                      updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, stmt, tokens.AccessToken, tokens.RefreshToken, s.now().UnixNano()); err != nil {
		return fmt.Errorf("save tokens: %w", err)
	}
	return nil
}

// Clear implements domain.TokenStore.
func (s *TokenStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens`); err != nil {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}
