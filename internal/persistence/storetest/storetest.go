// Package storetest holds the behaviour every domain.QueueStore and domain.TokenStore must satisfy.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/kinexsync/internal/domain"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) domain.QueueStore

// TokenFactory returns a fresh, empty token store for one subtest.
type TokenFactory func(t *testing.T) domain.TokenStore

var base = time.Date(2025, time.January, 15, 8, 30, 0, 0, time.UTC)

// Run exercises the queue store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("SaveAndFetchAllOrdersByCreatedAt", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		late := item("late", base.Add(2*time.Second))
		early := item("early", base)
		middle := item("middle", base.Add(time.Second))
		for _, it := range []domain.QueueItem{late, early, middle} {
			require.NoError(t, store.Save(ctx, it))
		}

		all, err := store.FetchAll(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"early", "middle", "late"}, ids(all))
		require.JSONEq(t, `{"name":"early"}`, string(all[0].Payload))
		require.Equal(t, domain.EntityWorkout, all[0].EntityKind)
		require.Equal(t, domain.OperationCreate, all[0].Operation)
		require.Equal(t, "entity-early", all[0].EntityID)
		require.True(t, base.Equal(all[0].CreatedAt))
	})

	t.Run("EqualTimestampsKeepInsertionOrder", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		for _, id := range []string{"first", "second", "third"} {
			require.NoError(t, store.Save(ctx, item(id, base)))
		}

		pending, err := store.FetchPending(ctx, base)
		require.NoError(t, err)
		require.Equal(t, []string{"first", "second", "third"}, ids(pending))
	})

	t.Run("SaveUpsertsByID", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		it := item("a", base)
		require.NoError(t, store.Save(ctx, it))

		next := base.Add(time.Minute)
		it.RetryCount = 2
		it.LastError = "server returned 503"
		it.NextAttemptAt = &next
		require.NoError(t, store.Save(ctx, it))

		all, err := store.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		require.Equal(t, 2, all[0].RetryCount)
		require.Equal(t, "server returned 503", all[0].LastError)
		require.NotNil(t, all[0].NextAttemptAt)
		require.True(t, next.Equal(*all[0].NextAttemptAt))
	})

	t.Run("FetchPendingHonoursBackoffAndFailure", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		ready := item("ready", base)
		blocked := item("blocked", base.Add(time.Second))
		until := base.Add(time.Minute)
		blocked.RetryCount = 1
		blocked.NextAttemptAt = &until
		failed := item("failed", base.Add(2*time.Second))
		failed.RetryCount = domain.MaxRetries

		for _, it := range []domain.QueueItem{ready, blocked, failed} {
			require.NoError(t, store.Save(ctx, it))
		}

		pending, err := store.FetchPending(ctx, base)
		require.NoError(t, err)
		require.Equal(t, []string{"ready"}, ids(pending))

		pending, err = store.FetchPending(ctx, until)
		require.NoError(t, err)
		require.Equal(t, []string{"ready", "blocked"}, ids(pending))

		count, err := store.PendingCount(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, count)

		failedCount, err := store.FailedCount(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, failedCount)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.Save(ctx, item("a", base)))
		require.NoError(t, store.Delete(ctx, "a"))
		require.NoError(t, store.Delete(ctx, "a"))
		require.NoError(t, store.Delete(ctx, "missing"))

		all, err := store.FetchAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("ClearFailedRemovesOnlyFailed", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		keep := item("keep", base)
		keep.RetryCount = domain.MaxRetries - 1
		drop := item("drop", base.Add(time.Second))
		drop.RetryCount = domain.MaxRetries
		require.NoError(t, store.Save(ctx, keep))
		require.NoError(t, store.Save(ctx, drop))

		removed, err := store.ClearFailed(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, removed)

		all, err := store.FetchAll(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"keep"}, ids(all))

		removed, err = store.ClearFailed(ctx)
		require.NoError(t, err)
		require.Zero(t, removed)
	})

	t.Run("ClearAllRemovesEveryItem", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		ready := item("ready", base)
		waiting := item("waiting", base.Add(time.Second))
		waiting.RetryCount = 2
		next := base.Add(time.Hour)
		waiting.NextAttemptAt = &next
		failed := item("failed", base.Add(2*time.Second))
		failed.RetryCount = domain.MaxRetries
		for _, it := range []domain.QueueItem{ready, waiting, failed} {
			require.NoError(t, store.Save(ctx, it))
		}

		removed, err := store.ClearAll(ctx)
		require.NoError(t, err)
		require.Equal(t, 3, removed)

		all, err := store.FetchAll(ctx)
		require.NoError(t, err)
		require.Empty(t, all)
		pending, err := store.PendingCount(ctx)
		require.NoError(t, err)
		require.Zero(t, pending)

		removed, err = store.ClearAll(ctx)
		require.NoError(t, err)
		require.Zero(t, removed)

		require.NoError(t, store.Save(ctx, item("after", base.Add(3*time.Second))))
		all, err = store.FetchAll(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"after"}, ids(all))
	})
}

// RunTokens exercises the token store contract.
func RunTokens(t *testing.T, newStore TokenFactory) {
	t.Run("RoundTripAndClear", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		loaded, err := store.Load(ctx)
		require.NoError(t, err)
		require.True(t, loaded.Empty())

		require.NoError(t, store.Save(ctx, domain.Tokens{AccessToken: "a1", RefreshToken: "r1"}))
		require.NoError(t, store.Save(ctx, domain.Tokens{AccessToken: "a2", RefreshToken: "r2"}))

		loaded, err = store.Load(ctx)
		require.NoError(t, err)
		require.Equal(t, domain.Tokens{AccessToken: "a2", RefreshToken: "r2"}, loaded)

		require.NoError(t, store.Clear(ctx))
		loaded, err = store.Load(ctx)
		require.NoError(t, err)
		require.True(t, loaded.Empty())
	})
}

func item(id string, createdAt time.Time) domain.QueueItem {
	return domain.QueueItem{
		ID:         id,
		EntityKind: domain.EntityWorkout,
		Operation:  domain.OperationCreate,
		EntityID:   "entity-" + id,
		Payload:    []byte(`{"name":"` + id + `"}`),
		CreatedAt:  createdAt,
	}
}

func ids(items []domain.QueueItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}
