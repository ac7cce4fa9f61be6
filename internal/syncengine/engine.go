// Package syncengine drains the durable mutation queue against the backend with bounded
// retries and exponential backoff, and publishes aggregate sync status.
package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/kinexsync/internal/domain"
	"example.com/kinexsync/internal/observability"
)

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithClock overrides the time source used for backoff scheduling.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithBaseDelay overrides the backoff unit.
func WithBaseDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.baseDelay = d
		}
	}
}

// WithLogger overrides the logger used to report store failures.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine coordinates drain passes over a QueueStore. At most one pass runs at a time.
type Engine struct {
	store     domain.QueueStore
	sender    Sender
	now       func() time.Time
	baseDelay time.Duration
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	running    chan struct{}
	cancelPass context.CancelFunc
	closed     bool
	clearing   bool
	clearMu    sync.Mutex
	status  Status
	pending int
	subs    map[int]func(Snapshot)
	nextSub int
}

// New constructs an Engine and loads the initial pending count.
func New(store domain.QueueStore, sender Sender, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:     store,
		sender:    sender,
		now:       time.Now,
		baseDelay: domain.DefaultBaseDelay,
		logger:    log.New(log.Writer(), "[syncengine] ", log.LstdFlags|log.Lshortfile),
		ctx:       ctx,
		cancel:    cancel,
		status:    Status{State: StateIdle},
		subs:      make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.refreshPendingCount(ctx)
	return e
}

// Enqueue persists a mutation and triggers a drain pass. Delete payloads are stored as {}.
func (e *Engine) Enqueue(ctx context.Context, op domain.Operation, kind domain.EntityKind, entityID string, payload []byte) (domain.QueueItem, error) {
	if !kind.Valid() {
		return domain.QueueItem{}, fmt.Errorf("%w: %q", domain.ErrInvalidEntity, kind)
	}
	if !op.Valid() {
		return domain.QueueItem{}, fmt.Errorf("%w: %q", domain.ErrInvalidOperation, op)
	}
	if op == domain.OperationDelete {
		payload = []byte("{}")
	}

	item := domain.NewQueueItem(kind, op, entityID, payload, e.now())
	if err := e.store.Save(ctx, item); err != nil {
		return domain.QueueItem{}, fmt.Errorf("enqueue %s %s: %w", op, kind, err)
	}
	observability.RecordItemEnqueued(item.CreatedAt)

	e.refreshPendingCount(ctx)
	e.ProcessQueue()
	return item, nil
}

// EnqueueObject JSON-encodes v and enqueues it.
func (e *Engine) EnqueueObject(ctx context.Context, op domain.Operation, kind domain.EntityKind, entityID string, v any) (domain.QueueItem, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return domain.QueueItem{}, &SyncError{Kind: KindEncodingFailed, Message: err.Error(), Err: err}
	}
	return e.Enqueue(ctx, op, kind, entityID, payload)
}

// ProcessQueue starts a drain pass in the background and reports whether it did.
// It is a no-op while another pass is running, while ClearAll runs, or after Close.
func (e *Engine) ProcessQueue() bool {
	e.mu.Lock()
	if e.closed || e.clearing || e.running != nil {
		e.mu.Unlock()
		return false
	}
	done := make(chan struct{})
	passCtx, cancel := context.WithCancel(e.ctx)
	e.running = done
	e.cancelPass = cancel
	e.mu.Unlock()

	e.setStatus(Status{State: StateSyncing})

	go func() {
		defer func() {
			cancel()
			e.mu.Lock()
			e.running = nil
			e.cancelPass = nil
			e.mu.Unlock()
			close(done)
		}()
		e.drain(passCtx)
	}()
	return true
}

// Wait blocks until the running pass, if any, finishes.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.running
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close cancels any running pass, waits for it and rejects further passes.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.Wait()
}

func (e *Engine) drain(ctx context.Context) {
	start := time.Now()
	defer func() {
		passDuration.Observe(time.Since(start).Seconds())
		observability.RecordPassCompleted(e.now())
	}()

	items, err := e.store.FetchPending(ctx, e.now())
	if err != nil {
		e.logger.Printf("fetch pending items: %v", err)
		e.finish(errorStatus(err.Error()))
		return
	}

	// Bookkeeping after a cancelled pass must still land.
	bookkeeping := context.WithoutCancel(ctx)

	if len(items) == 0 {
		e.refreshPendingCount(bookkeeping)
		e.finish(Status{State: StateSuccess})
		return
	}

	allSucceeded := true
	for _, item := range items {
		if ctx.Err() != nil {
			allSucceeded = false
			break
		}

		now := e.now()
		if item.NextAttemptAt != nil && item.NextAttemptAt.After(now) {
			allSucceeded = false
			continue
		}
		if item.IsFailed() {
			continue
		}

		if !e.attempt(ctx, bookkeeping, item) {
			allSucceeded = false
		}
	}

	e.refreshPendingCount(bookkeeping)
	e.finish(e.outcome(bookkeeping, allSucceeded))
}

// attempt sends one item and records the result. It reports whether the item was delivered.
func (e *Engine) attempt(ctx, bookkeeping context.Context, item domain.QueueItem) bool {
	err := e.executeSync(ctx, item)
	if err == nil {
		attemptCounter.WithLabelValues(string(item.EntityKind), string(item.Operation), "success").Inc()
		observability.RecordItemSynced(e.now())
		if delErr := e.store.Delete(bookkeeping, item.ID); delErr != nil {
			e.logger.Printf("delete synced item %s: %v", item.ID, delErr)
			return false
		}
		return true
	}

	// A request cut short by shutdown is not a failed attempt.
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return false
	}

	syncErr := classify(err)
	attemptCounter.WithLabelValues(string(item.EntityKind), string(item.Operation), string(syncErr.Kind)).Inc()
	retryCounter.WithLabelValues(string(syncErr.Kind)).Inc()

	updated := item
	updated.RetryCount++
	if syncErr.Terminal() && updated.RetryCount < domain.MaxRetries {
		updated.RetryCount = domain.MaxRetries
	}
	updated.LastError = syncErr.Error()
	next := e.now().Add(Backoff(e.baseDelay, updated.RetryCount))
	updated.NextAttemptAt = &next

	if saveErr := e.store.Save(bookkeeping, updated); saveErr != nil {
		e.logger.Printf("persist retry state for %s: %v", item.ID, saveErr)
	}
	return false
}

func (e *Engine) outcome(ctx context.Context, allSucceeded bool) Status {
	pending := e.PendingCount()
	if allSucceeded && pending == 0 {
		return Status{State: StateSuccess}
	}

	failed, err := e.store.FailedCount(ctx)
	if err != nil {
		return errorStatus(err.Error())
	}
	failedGauge.Set(float64(failed))
	if failed > 0 {
		return errorStatus(failedMessage(failed))
	}
	return errorStatus(pendingMessage(pending))
}

func (e *Engine) finish(status Status) {
	passCounter.WithLabelValues(string(status.State)).Inc()
	e.setStatus(status)
}

// RetryFailed resets every exhausted item so it is attempted again, then triggers a pass.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	reset, err := ResetFailed(ctx, e.store)
	e.refreshPendingCount(ctx)
	e.ProcessQueue()
	return reset, err
}

// ResetFailed clears the retry state of every exhausted item in store. Items whose save
// fails are skipped and their errors joined.
func ResetFailed(ctx context.Context, store domain.QueueStore) (int, error) {
	items, err := store.FetchAll(ctx)
	if err != nil {
		return 0, err
	}

	reset := 0
	var errs error
	for _, item := range items {
		if !item.IsFailed() {
			continue
		}
		item.ResetRetries()
		if saveErr := store.Save(ctx, item); saveErr != nil {
			errs = errors.Join(errs, saveErr)
			continue
		}
		reset++
	}
	return reset, errs
}

// ClearFailed deletes every exhausted item. Items waiting on backoff are kept.
func (e *Engine) ClearFailed(ctx context.Context) (int, error) {
	removed, err := e.store.ClearFailed(ctx)
	if err != nil {
		return 0, err
	}
	e.refreshPendingCount(ctx)
	failedGauge.Set(0)
	return removed, nil
}

// ClearAll stops any running pass and deletes every queued item, pending or failed.
// Passes cannot start until it returns.
func (e *Engine) ClearAll(ctx context.Context) (int, error) {
	e.clearMu.Lock()
	defer e.clearMu.Unlock()

	e.mu.Lock()
	e.clearing = true
	cancel := e.cancelPass
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.clearing = false
		e.mu.Unlock()
	}()

	if cancel != nil {
		cancel()
	}
	e.Wait()

	removed, err := e.store.ClearAll(ctx)
	if err != nil {
		e.refreshPendingCount(ctx)
		return 0, err
	}
	e.refreshPendingCount(ctx)
	failedGauge.Set(0)
	e.setStatus(Status{State: StateIdle})
	return removed, nil
}

// Items returns every queued item in FIFO order.
func (e *Engine) Items(ctx context.Context) ([]domain.QueueItem, error) {
	return e.store.FetchAll(ctx)
}

// Status returns the last published status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// PendingCount returns the last published pending count.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Snapshot returns the current status and pending count together.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Status: e.status, PendingCount: e.pending}
}

// Subscribe registers fn to receive a Snapshot after every change. fn runs on the
// goroutine that made the change and must not block. The returned func unsubscribes.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) refreshPendingCount(ctx context.Context) {
	count, err := e.store.PendingCount(ctx)
	if err != nil {
		e.logger.Printf("read pending count: %v", err)
		count = 0
	}
	pendingGauge.Set(float64(count))

	e.mu.Lock()
	changed := e.pending != count
	e.pending = count
	e.mu.Unlock()
	if changed {
		e.publish()
	}
}

func (e *Engine) setStatus(status Status) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
	e.publish()
}

func (e *Engine) publish() {
	e.mu.Lock()
	snap := Snapshot{Status: e.status, PendingCount: e.pending}
	subs := make([]func(Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}
