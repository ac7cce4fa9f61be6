package memory

import (
	"context"
	"sync"

	"example.com/kinexsync/internal/domain"
)

// TokenStore holds credentials in memory.
type TokenStore struct {
	mu     sync.RWMutex
	tokens domain.Tokens
}

// NewTokenStore constructs a TokenStore seeded with tokens.
func NewTokenStore(tokens domain.Tokens) *TokenStore {
	return &TokenStore{tokens: tokens}
}

// Load implements domain.TokenStore.
func (s *TokenStore) Load(ctx context.Context) (domain.Tokens, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, nil
}

// Save implements domain.TokenStore.
func (s *TokenStore) Save(ctx context.Context, tokens domain.Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = tokens
	return nil
}

// Clear implements domain.TokenStore.
func (s *TokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = domain.Tokens{}
	return nil
}
