package domain

import "context"

// Tokens is the credential pair issued by the backend.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether no access token is held.
func (t Tokens) Empty() bool {
	return t.AccessToken == "" && t.RefreshToken == ""
}

// TokenStore keeps the current credential pair. Load returns zero Tokens when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, tokens Tokens) error
	Clear(ctx context.Context) error
}
