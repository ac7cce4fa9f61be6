package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueItemReadiness(t *testing.T) {
	now := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	item := NewQueueItem(EntityWorkout, OperationCreate, "w-1", []byte(`{"a":1}`), now)

	require.NotEmpty(t, item.ID)
	require.True(t, item.IsReady(now))
	require.True(t, item.IsPending())

	future := now.Add(time.Minute)
	item.NextAttemptAt = &future
	require.False(t, item.IsReady(now))
	require.True(t, item.IsReady(future))

	item.RetryCount = MaxRetries
	require.True(t, item.IsFailed())
	require.False(t, item.IsReady(future.Add(time.Hour)))

	item.LastError = "boom"
	item.ResetRetries()
	require.Zero(t, item.RetryCount)
	require.Empty(t, item.LastError)
	require.Nil(t, item.NextAttemptAt)
	require.True(t, item.IsReady(now))
}

func TestEnumValidation(t *testing.T) {
	require.True(t, EntityBodyMetric.Valid())
	require.False(t, EntityKind("meal").Valid())
	require.True(t, OperationDelete.Valid())
	require.False(t, Operation("upsert").Valid())
}
