// Package domain holds the queue model and storage contracts shared by the sync engine and its stores.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// MaxRetries is the number of failed attempts after which an item is considered failed.
const MaxRetries = 5

// DefaultBaseDelay is the backoff unit applied after the first failed attempt.
const DefaultBaseDelay = time.Minute

// EntityKind names the server-side collection a queued mutation targets.
type EntityKind string

const (
	EntityWorkout    EntityKind = "workout"
	EntityBodyMetric EntityKind = "bodyMetric"
	EntityUser       EntityKind = "user"
)

// Valid reports whether the kind is one the engine knows how to route.
func (k EntityKind) Valid() bool {
	switch k {
	case EntityWorkout, EntityBodyMetric, EntityUser:
		return true
	}
	return false
}

// Operation is the kind of mutation recorded in the queue.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether the operation is recognised.
func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// ErrInvalidEntity is returned when an unknown entity kind is enqueued.
var ErrInvalidEntity = errors.New("invalid entity kind")

// ErrInvalidOperation is returned when an unknown operation is enqueued.
var ErrInvalidOperation = errors.New("invalid operation")

// QueueItem is one durable record of a local mutation awaiting delivery.
type QueueItem struct {
	ID            string
	EntityKind    EntityKind
	Operation     Operation
	EntityID      string
	Payload       []byte
	CreatedAt     time.Time
	RetryCount    int
	LastError     string
	NextAttemptAt *time.Time
}

// NewQueueItem builds a fresh item with a generated id and zero retries.
func NewQueueItem(kind EntityKind, op Operation, entityID string, payload []byte, now time.Time) QueueItem {
	return QueueItem{
		ID:         uuid.NewString(),
		EntityKind: kind,
		Operation:  op,
		EntityID:   entityID,
		Payload:    payload,
		CreatedAt:  now,
	}
}

// IsFailed reports whether the item has exhausted its attempts.
func (q QueueItem) IsFailed() bool {
	return q.RetryCount >= MaxRetries
}

// IsPending reports whether the item still counts toward the pending total.
func (q QueueItem) IsPending() bool {
	return q.RetryCount < MaxRetries
}

// IsReady reports whether the item may be attempted at now.
func (q QueueItem) IsReady(now time.Time) bool {
	if q.IsFailed() {
		return false
	}
	return q.NextAttemptAt == nil || !q.NextAttemptAt.After(now)
}

// ResetRetries clears the retry bookkeeping so the item is attempted again immediately.
func (q *QueueItem) ResetRetries() {
	q.RetryCount = 0
	q.LastError = ""
	q.NextAttemptAt = nil
}

// QueueStore persists queue items across restarts.
//
// FetchPending returns items with RetryCount < MaxRetries whose NextAttemptAt is
// unset or not after now. FetchPending and FetchAll order by CreatedAt ascending,
// keeping insertion order for equal timestamps.
type QueueStore interface {
	Save(ctx context.Context, item QueueItem) error
	Delete(ctx context.Context, id string) error
	FetchPending(ctx context.Context, now time.Time) ([]QueueItem, error)
	FetchAll(ctx context.Context) ([]QueueItem, error)
	PendingCount(ctx context.Context) (int, error)
	FailedCount(ctx context.Context) (int, error)
	ClearFailed(ctx context.Context) (int, error)
	ClearAll(ctx context.Context) (int, error)
}
