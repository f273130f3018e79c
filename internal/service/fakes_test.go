package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"github.com/kursadbilgin/beachcheck-push/internal/provider"
	"github.com/kursadbilgin/beachcheck-push/internal/queue"
)

type fakeNotificationRepo struct {
	mu    sync.Mutex
	items map[string]domain.Notification

	getByIDFn func(ctx context.Context, id string) (*domain.Notification, error)
	updateFn  func(ctx context.Context, n *domain.Notification) error
	createFn  func(ctx context.Context, n *domain.Notification) error
}

func newFakeNotificationRepo(notifications ...domain.Notification) *fakeNotificationRepo {
	repo := &fakeNotificationRepo{items: make(map[string]domain.Notification)}
	for _, n := range notifications {
		repo.items[n.ID] = n
	}
	return repo
}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	if f.createFn != nil {
		return f.createFn(ctx, n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[n.ID] = *n
	return nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &n, nil
}

func (f *fakeNotificationRepo) GetByIDForUpdate(ctx context.Context, id string) (*domain.Notification, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeNotificationRepo) Update(ctx context.Context, n *domain.Notification) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, n)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.items[n.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != n.Version {
		return domain.ErrConflict
	}
	n.Version++
	f.items[n.ID] = *n
	return nil
}

func (f *fakeNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Notification
	for _, n := range f.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeNotificationRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64)
	for _, n := range f.items {
		counts[n.Status.String()]++
	}
	return counts, nil
}

func (f *fakeNotificationRepo) get(id string) domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

func (f *fakeNotificationRepo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type fakeOutboxEventRepo struct {
	mu    sync.Mutex
	items map[string]domain.OutboxEvent

	findDueFn func(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error)
	updateFn  func(ctx context.Context, e *domain.OutboxEvent) error
}

func newFakeOutboxEventRepo(events ...domain.OutboxEvent) *fakeOutboxEventRepo {
	repo := &fakeOutboxEventRepo{items: make(map[string]domain.OutboxEvent)}
	for _, e := range events {
		repo.items[e.ID] = e
	}
	return repo
}

func (f *fakeOutboxEventRepo) Create(ctx context.Context, e *domain.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[e.ID] = *e
	return nil
}

func (f *fakeOutboxEventRepo) GetByID(ctx context.Context, id string) (*domain.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (f *fakeOutboxEventRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error) {
	if f.findDueFn != nil {
		return f.findDueFn(ctx, now, limit)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []domain.OutboxEvent
	for _, e := range f.items {
		if e.IsDue(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].CreatedAt.Equal(due[j].CreatedAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeOutboxEventRepo) Update(ctx context.Context, e *domain.OutboxEvent) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, e)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[e.ID]; !ok {
		return domain.ErrNotFound
	}
	f.items[e.ID] = *e
	return nil
}

func (f *fakeOutboxEventRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range f.items {
		counts[e.Status.String()]++
	}
	return counts, nil
}

func (f *fakeOutboxEventRepo) get(id string) domain.OutboxEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

func (f *fakeOutboxEventRepo) all() []domain.OutboxEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OutboxEvent, 0, len(f.items))
	for _, e := range f.items {
		out = append(out, e)
	}
	return out
}

type txScope struct{}

// fakeTransactor marks the context it hands to fn so tests can tell which
// writes ran inside a transaction.
type fakeTransactor struct {
	mu      sync.Mutex
	joined  int
	started int
}

func (f *fakeTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txScope{}) != nil {
		f.mu.Lock()
		f.joined++
		f.mu.Unlock()
		return fn(ctx)
	}
	return f.WithinNewTransaction(ctx, fn)
}

func (f *fakeTransactor) WithinNewTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	return fn(context.WithValue(ctx, txScope{}, true))
}

func (f *fakeTransactor) counts() (started, joined int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.joined
}

type fakeGateway struct {
	mu         sync.Mutex
	sendFn     func(ctx context.Context, msg provider.Message) (*provider.Response, error)
	calls      []provider.Message
	calledInTx bool
}

func (f *fakeGateway) Send(ctx context.Context, msg provider.Message) (*provider.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	if ctx.Value(txScope{}) != nil {
		f.calledInTx = true
	}
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.Response{MessageID: "msg-1"}, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGateway) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	tokens := make([]string, 0, len(f.calls))
	for _, msg := range f.calls {
		tokens = append(tokens, msg.Token)
	}
	return tokens
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, scope string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	publishFn func(ctx context.Context, queueName string, msg queue.DispatchMessage) error
	published []queue.DispatchMessage
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.DispatchMessage) error {
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeDispatcher struct {
	dispatchFn func(ctx context.Context, notificationID string) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, notificationID string) error {
	return f.dispatchFn(ctx, notificationID)
}

var testNow = time.Date(2026, 7, 15, 10, 0, 0, 0, time.UTC)

func pendingNotification(id string) domain.Notification {
	return domain.Notification{
		ID:             id,
		UserID:         "7d7c8a3e-0f5c-4a36-9d0b-1f2f8f1c2a11",
		RecipientToken: "token-" + id,
		Type:           domain.TypePeakAvoid,
		Title:          "Beach congestion alert",
		Body:           "Haeundae is crowded right now.",
		Status:         domain.StatusPending,
		CreatedAt:      testNow.Add(-time.Minute),
		UpdatedAt:      testNow.Add(-time.Minute),
	}
}

func dueEvent(id, notificationID string, createdAt time.Time) domain.OutboxEvent {
	event := domain.NewPushOutboxEvent(notificationID, nil)
	event.ID = id
	event.OnCreate(createdAt)
	return *event
}
