package syncengine

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/kinexsync/internal/apiclient"
	"example.com/kinexsync/internal/domain"
	"example.com/kinexsync/internal/persistence/memory"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, time.February, 10, 7, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type call struct {
	Method string
	Path   string
	Body   string
}

// scriptedSender records calls and answers with respond. When gate is set each call
// blocks until the gate closes or the context ends.
type scriptedSender struct {
	mu      sync.Mutex
	calls   []call
	respond func(call) error
	gate    chan struct{}
	started chan struct{}
}

func (s *scriptedSender) Send(ctx context.Context, req apiclient.Request, out any) error {
	return s.handle(ctx, req)
}

func (s *scriptedSender) SendNoContent(ctx context.Context, req apiclient.Request) error {
	return s.handle(ctx, req)
}

func (s *scriptedSender) handle(ctx context.Context, req apiclient.Request) error {
	c := call{Method: req.Method, Path: req.Path, Body: string(req.Body)}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	respond, gate, started := s.respond, s.gate, s.started
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return &apiclient.NetworkError{Err: ctx.Err()}
		}
	}
	if respond == nil {
		return nil
	}
	return respond(c)
}

func (s *scriptedSender) setRespond(fn func(call) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = fn
}

func (s *scriptedSender) Calls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func serverError(code int) func(call) error {
	return func(call) error { return &apiclient.HTTPError{StatusCode: code} }
}

func newTestEngine(t *testing.T, store domain.QueueStore, sender Sender, clock *fakeClock) *Engine {
	t.Helper()
	e := New(store, sender, WithClock(clock.Now), WithLogger(log.New(testWriter{t}, "", 0)))
	t.Cleanup(e.Close)
	return e
}

func TestEnqueueFailThenSucceedScenario(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	sender := &scriptedSender{respond: serverError(http.StatusInternalServerError)}
	engine := newTestEngine(t, store, sender, clock)

	enqueuedAt := clock.Now()
	_, err := engine.Enqueue(ctx, domain.OperationCreate, domain.EntityWorkout, "w1", []byte(`{"title":"Leg Day"}`))
	require.NoError(t, err)
	engine.Wait()

	items, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 1, items[0].RetryCount)
	require.NotNil(t, items[0].NextAttemptAt)
	require.Equal(t, enqueuedAt.Add(60*time.Second), *items[0].NextAttemptAt)
	require.Contains(t, items[0].LastError, "500")
	require.Equal(t, errorStatus("1 item(s) pending retry"), engine.Status())
	require.Equal(t, 1, engine.PendingCount())

	require.Equal(t, []call{{Method: http.MethodPost, Path: apiclient.WorkoutsPath, Body: `{"title":"Leg Day"}`}}, sender.Calls())

	clock.Advance(60 * time.Second)
	sender.setRespond(nil)
	require.True(t, engine.ProcessQueue())
	engine.Wait()

	items, err = store.FetchAll(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
	require.Zero(t, engine.PendingCount())
	require.Equal(t, Status{State: StateSuccess}, engine.Status())
}

func TestBackoffProgressionUntilFailed(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	sender := &scriptedSender{respond: serverError(http.StatusServiceUnavailable)}
	engine := newTestEngine(t, store, sender, clock)

	_, err := engine.Enqueue(ctx, domain.OperationUpdate, domain.EntityBodyMetric, "m1", []byte(`{"weight":80}`))
	require.NoError(t, err)
	engine.Wait()

	expected := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 480 * time.Second, 960 * time.Second}
	for i, delay := range expected {
		items, err := store.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, items, 1)
		require.Equal(t, i+1, items[0].RetryCount)
		require.Equal(t, clock.Now().Add(delay), *items[0].NextAttemptAt, "retry %d", i+1)

		if i == len(expected)-1 {
			break
		}
		clock.Advance(delay)
		require.True(t, engine.ProcessQueue())
		engine.Wait()
	}

	clock.Advance(24 * time.Hour)
	pending, err := store.FetchPending(ctx, clock.Now())
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Len(t, sender.Calls(), domain.MaxRetries)
	require.Equal(t, errorStatus("1 item(s) failed to sync"), engine.Status())
	require.Zero(t, engine.PendingCount())

	require.True(t, engine.ProcessQueue())
	engine.Wait()
	require.Len(t, sender.Calls(), domain.MaxRetries, "failed items are never attempted")
}

func TestFIFOWithSkipOver(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	now := clock.Now()

	a := domain.NewQueueItem(domain.EntityWorkout, domain.OperationCreate, "a", []byte(`{"n":"a"}`), now.Add(-3*time.Minute))
	b := domain.NewQueueItem(domain.EntityWorkout, domain.OperationCreate, "b", []byte(`{"n":"b"}`), now.Add(-2*time.Minute))
	blockedUntil := now.Add(time.Minute)
	b.RetryCount = 1
	b.NextAttemptAt = &blockedUntil
	c := domain.NewQueueItem(domain.EntityWorkout, domain.OperationCreate, "c", []byte(`{"n":"c"}`), now.Add(-time.Minute))
	for _, it := range []domain.QueueItem{a, b, c} {
		require.NoError(t, store.Save(ctx, it))
	}

	sender := &scriptedSender{}
	engine := newTestEngine(t, store, sender, clock)
	require.True(t, engine.ProcessQueue())
	engine.Wait()

	calls := sender.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, `{"n":"a"}`, calls[0].Body)
	require.Equal(t, `{"n":"c"}`, calls[1].Body)

	items, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, b.ID, items[0].ID)
	require.Equal(t, 1, items[0].RetryCount)
	require.Equal(t, errorStatus("1 item(s) pending retry"), engine.Status())
}

func TestProcessQueueCoalescesWhileRunning(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	require.NoError(t, store.Save(ctx, domain.NewQueueItem(domain.EntityUser, domain.OperationUpdate, "u1", []byte(`{}`), clock.Now())))

	sender := &scriptedSender{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	engine := newTestEngine(t, store, sender, clock)

	require.True(t, engine.ProcessQueue())
	<-sender.started
	require.Equal(t, StateSyncing, engine.Status().State)
	require.False(t, engine.ProcessQueue())
	require.False(t, engine.ProcessQueue())

	close(sender.gate)
	engine.Wait()
	require.Len(t, sender.Calls(), 1)
	require.Equal(t, Status{State: StateSuccess}, engine.Status())

	require.True(t, engine.ProcessQueue(), "a new pass may start once the previous one finished")
	engine.Wait()
}

func TestEnqueueDuringPassPersistsImmediately(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	sender := &scriptedSender{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	engine := newTestEngine(t, store, sender, clock)

	_, err := engine.Enqueue(ctx, domain.OperationCreate, domain.EntityWorkout, "w1", []byte(`{}`))
	require.NoError(t, err)
	<-sender.started

	_, err = engine.Enqueue(ctx, domain.OperationCreate, domain.EntityWorkout, "w2", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, 2, engine.PendingCount())

	close(sender.gate)
	engine.Wait()
	require.Len(t, sender.Calls(), 1, "the running pass worked from its own fetch")

	require.True(t, engine.ProcessQueue())
	engine.Wait()
	require.Len(t, sender.Calls(), 2)
	require.Zero(t, engine.PendingCount())
}

func TestRetryFailedResetsItems(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()

	failed := domain.NewQueueItem(domain.EntityWorkout, domain.OperationDelete, "w9", []byte(`{}`), clock.Now())
	failed.RetryCount = domain.MaxRetries
	failed.LastError = "server error (code 500)"
	next := clock.Now().Add(16 * time.Minute)
	failed.NextAttemptAt = &next
	require.NoError(t, store.Save(ctx, failed))

	sender := &scriptedSender{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	engine := newTestEngine(t, store, sender, clock)
	require.Zero(t, engine.PendingCount())

	reset, err := engine.RetryFailed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, reset)
	require.Equal(t, 1, engine.PendingCount())

	<-sender.started
	pending, err := store.FetchPending(ctx, clock.Now())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Zero(t, pending[0].RetryCount)
	require.Empty(t, pending[0].LastError)
	require.Nil(t, pending[0].NextAttemptAt)

	close(sender.gate)
	engine.Wait()
	require.Equal(t, []call{{Method: http.MethodDelete, Path: apiclient.WorkoutsPath + "/w9"}}, sender.Calls())
	require.Zero(t, engine.PendingCount())
}

func TestClearFailedKeepsBackoffItems(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()

	failed := domain.NewQueueItem(domain.EntityWorkout, domain.OperationCreate, "f", []byte(`{}`), clock.Now())
	failed.RetryCount = domain.MaxRetries
	waiting := domain.NewQueueItem(domain.EntityWorkout, domain.OperationCreate, "w", []byte(`{}`), clock.Now())
	waiting.RetryCount = 2
	next := clock.Now().Add(2 * time.Minute)
	waiting.NextAttemptAt = &next
	require.NoError(t, store.Save(ctx, failed))
	require.NoError(t, store.Save(ctx, waiting))

	engine := newTestEngine(t, store, &scriptedSender{}, clock)
	require.Equal(t, 1, engine.PendingCount())

	removed, err := engine.ClearFailed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	failedCount, err := store.FailedCount(ctx)
	require.NoError(t, err)
	require.Zero(t, failedCount)
	require.Equal(t, 1, engine.PendingCount())

	items, err := engine.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, waiting.ID, items[0].ID)
}

type brokenStore struct {
	*memory.Store
	err error
}

func (s brokenStore) FetchPending(ctx context.Context, now time.Time) ([]domain.QueueItem, error) {
	return nil, s.err
}

func TestFetchFailureSetsErrorStatus(t *testing.T) {
	clock := newFakeClock()
	store := brokenStore{Store: memory.NewStore(), err: errors.New("database is locked")}
	engine := newTestEngine(t, store, &scriptedSender{}, clock)

	require.True(t, engine.ProcessQueue())
	engine.Wait()
	require.Equal(t, errorStatus("database is locked"), engine.Status())
}

func TestEmptyQueueReportsSuccess(t *testing.T) {
	engine := newTestEngine(t, memory.NewStore(), &scriptedSender{}, newFakeClock())
	require.Equal(t, StateIdle, engine.Status().State)

	require.True(t, engine.ProcessQueue())
	engine.Wait()
	require.Equal(t, Status{State: StateSuccess}, engine.Status())
}

func TestMalformedPayloadFailsFast(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	sender := &scriptedSender{}
	engine := newTestEngine(t, store, sender, clock)

	_, err := engine.Enqueue(ctx, domain.OperationCreate, domain.EntityWorkout, "w1", []byte(`{"title":`))
	require.NoError(t, err)
	engine.Wait()

	require.Empty(t, sender.Calls())
	items, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, domain.MaxRetries, items[0].RetryCount)
	require.Contains(t, items[0].LastError, "failed to prepare data for sync")
	require.Equal(t, errorStatus("1 item(s) failed to sync"), engine.Status())
}

func TestUnknownKindStoredDirectlyFailsFast(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	require.NoError(t, store.Save(ctx, domain.NewQueueItem(domain.EntityKind("meal"), domain.OperationCreate, "x", []byte(`{}`), clock.Now())))

	sender := &scriptedSender{}
	engine := newTestEngine(t, store, sender, clock)
	require.True(t, engine.ProcessQueue())
	engine.Wait()

	require.Empty(t, sender.Calls())
	failed, err := store.FailedCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, failed)
}

func TestRequestMapping(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	sender := &scriptedSender{}
	engine := newTestEngine(t, memory.NewStore(), sender, clock)

	_, err := engine.Enqueue(ctx, domain.OperationUpdate, domain.EntityUser, "u1", []byte(`{"name":"Sam"}`))
	require.NoError(t, err)
	engine.Wait()
	_, err = engine.Enqueue(ctx, domain.OperationDelete, domain.EntityBodyMetric, "m1", []byte(`{"ignored":true}`))
	require.NoError(t, err)
	engine.Wait()

	require.Equal(t, []call{
		{Method: http.MethodPut, Path: apiclient.UserProfilePath + "/u1", Body: `{"name":"Sam"}`},
		{Method: http.MethodDelete, Path: apiclient.BodyMetricsPath + "/m1"},
	}, sender.Calls())
}

func TestEnqueueValidation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	engine := newTestEngine(t, store, &scriptedSender{}, newFakeClock())

	_, err := engine.Enqueue(ctx, domain.OperationCreate, domain.EntityKind("meal"), "x", []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrInvalidEntity)
	_, err = engine.Enqueue(ctx, domain.Operation("upsert"), domain.EntityWorkout, "x", []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = engine.EnqueueObject(ctx, domain.OperationCreate, domain.EntityWorkout, "x", make(chan int))
	var syncErr *SyncError
	require.True(t, errors.As(err, &syncErr))
	require.Equal(t, KindEncodingFailed, syncErr.Kind)

	all, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestEnqueueObjectEncodesPayload(t *testing.T) {
	ctx := context.Background()
	sender := &scriptedSender{}
	engine := newTestEngine(t, memory.NewStore(), sender, newFakeClock())

	item, err := engine.EnqueueObject(ctx, domain.OperationCreate, domain.EntityWorkout, "w1", map[string]string{"title": "Leg Day"})
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"Leg Day"}`, string(item.Payload))
	engine.Wait()
	require.Len(t, sender.Calls(), 1)
}

func TestSubscribeReceivesSnapshots(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, memory.NewStore(), &scriptedSender{}, newFakeClock())

	var mu sync.Mutex
	var got []Snapshot
	unsubscribe := engine.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, s)
	})

	_, err := engine.Enqueue(ctx, domain.OperationCreate, domain.EntityWorkout, "w1", []byte(`{}`))
	require.NoError(t, err)
	engine.Wait()

	mu.Lock()
	require.Equal(t, []Snapshot{
		{Status: Status{State: StateIdle}, PendingCount: 1},
		{Status: Status{State: StateSyncing}, PendingCount: 1},
		{Status: Status{State: StateSyncing}, PendingCount: 0},
		{Status: Status{State: StateSuccess}, PendingCount: 0},
	}, got)
	seen := len(got)
	mu.Unlock()

	unsubscribe()
	require.True(t, engine.ProcessQueue())
	engine.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, seen)
}

func TestCloseCancelsPassWithoutConsumingRetry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	sender := &scriptedSender{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	engine := New(store, sender, WithClock(clock.Now), WithLogger(log.New(testWriter{t}, "", 0)))

	_, err := engine.Enqueue(ctx, domain.OperationCreate, domain.EntityWorkout, "w1", []byte(`{}`))
	require.NoError(t, err)
	<-sender.started

	engine.Close()

	items, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Zero(t, items[0].RetryCount)
	require.Nil(t, items[0].NextAttemptAt)
	require.Equal(t, errorStatus("1 item(s) pending retry"), engine.Status())
	require.False(t, engine.ProcessQueue())
}

type senderFunc func(ctx context.Context, req apiclient.Request) error

func (f senderFunc) Send(ctx context.Context, req apiclient.Request, out any) error {
	return f(ctx, req)
}

func (f senderFunc) SendNoContent(ctx context.Context, req apiclient.Request) error {
	return f(ctx, req)
}

func TestCloseMidPassKeepsEarlierResults(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()

	a := domain.NewQueueItem(domain.EntityWorkout, domain.OperationUpdate, "a", []byte(`{}`), clock.Now())
	b := domain.NewQueueItem(domain.EntityWorkout, domain.OperationUpdate, "b", []byte(`{}`), clock.Now().Add(time.Second))
	c := domain.NewQueueItem(domain.EntityWorkout, domain.OperationUpdate, "c", []byte(`{}`), clock.Now().Add(2*time.Second))
	for _, item := range []domain.QueueItem{a, b, c} {
		require.NoError(t, store.Save(ctx, item))
	}

	inFlight := make(chan struct{})
	sender := senderFunc(func(ctx context.Context, req apiclient.Request) error {
		switch req.Path {
		case apiclient.WorkoutsPath + "/a":
			return nil
		case apiclient.WorkoutsPath + "/b":
			return &apiclient.HTTPError{StatusCode: http.StatusInternalServerError}
		default:
			close(inFlight)
			<-ctx.Done()
			return &apiclient.NetworkError{Err: ctx.Err()}
		}
	})
	engine := newTestEngine(t, store, sender, clock)

	require.True(t, engine.ProcessQueue())
	<-inFlight
	engine.Close()

	items, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, b.ID, items[0].ID)
	require.Equal(t, 1, items[0].RetryCount)
	require.NotEmpty(t, items[0].LastError)
	require.NotNil(t, items[0].NextAttemptAt)
	require.Equal(t, clock.Now().Add(time.Minute), *items[0].NextAttemptAt)

	require.Equal(t, c.ID, items[1].ID)
	require.Zero(t, items[1].RetryCount)
	require.Empty(t, items[1].LastError)
	require.Nil(t, items[1].NextAttemptAt)

	require.Equal(t, errorStatus("2 item(s) pending retry"), engine.Status())
	require.Equal(t, 2, engine.PendingCount())
}

func TestClearAllStopsPassAndEmptiesQueue(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()

	failed := domain.NewQueueItem(domain.EntityWorkout, domain.OperationCreate, "f", []byte(`{}`), clock.Now())
	failed.RetryCount = domain.MaxRetries
	require.NoError(t, store.Save(ctx, failed))

	sender := &scriptedSender{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	engine := newTestEngine(t, store, sender, clock)

	_, err := engine.Enqueue(ctx, domain.OperationCreate, domain.EntityWorkout, "w1", []byte(`{}`))
	require.NoError(t, err)
	_, err = engine.Enqueue(ctx, domain.OperationDelete, domain.EntityBodyMetric, "m1", nil)
	require.NoError(t, err)
	<-sender.started
	require.Equal(t, 2, engine.PendingCount())

	removed, err := engine.ClearAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	items, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Empty(t, items)
	require.Zero(t, engine.PendingCount())
	require.Equal(t, Status{State: StateIdle}, engine.Status())
	require.Len(t, sender.Calls(), 1)

	close(sender.gate)
	require.True(t, engine.ProcessQueue())
	engine.Wait()
	require.Equal(t, Status{State: StateSuccess}, engine.Status())
}

func TestNetworkFailureRecordedAsUnavailable(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	sender := &scriptedSender{respond: func(call) error {
		return &apiclient.NetworkError{Err: errors.New("dial tcp: connection refused")}
	}}
	engine := newTestEngine(t, store, sender, clock)

	_, err := engine.Enqueue(ctx, domain.OperationCreate, domain.EntityWorkout, "w1", []byte(`{}`))
	require.NoError(t, err)
	engine.Wait()

	items, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Equal(t, "no internet connection, changes will sync when back online", items[0].LastError)
}

func TestWithBaseDelay(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := memory.NewStore()
	sender := &scriptedSender{respond: serverError(http.StatusBadGateway)}
	engine := New(store, sender, WithClock(clock.Now), WithBaseDelay(5*time.Second), WithLogger(log.New(testWriter{t}, "", 0)))
	t.Cleanup(engine.Close)

	_, err := engine.Enqueue(ctx, domain.OperationCreate, domain.EntityWorkout, "w1", []byte(`{}`))
	require.NoError(t, err)
	engine.Wait()

	items, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Equal(t, clock.Now().Add(5*time.Second), *items[0].NextAttemptAt)
}
