package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/kinexsync/internal/domain"
	"example.com/kinexsync/internal/persistence/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.QueueStore { return openTestStore(t) })
}

func TestTokenStoreContract(t *testing.T) {
	storetest.RunTokens(t, func(t *testing.T) domain.TokenStore { return openTestStore(t).Tokens() })
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	store, err := Open(path)
	require.NoError(t, err)
	item := domain.NewQueueItem(domain.EntityBodyMetric, domain.OperationDelete, "m-9", []byte(`{}`), time.Now().UTC())
	require.NoError(t, store.Save(ctx, item))
	require.NoError(t, store.Tokens().Save(ctx, domain.Tokens{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	all, err := reopened.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, item.ID, all[0].ID)
	require.Equal(t, domain.EntityBodyMetric, all[0].EntityKind)

	tokens, err := reopened.Tokens().Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "r", tokens.RefreshToken)
}
