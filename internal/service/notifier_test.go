package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"lmscenter/internal/infrastructure/worker"
	"lmscenter/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	name string
	err  error

	mu        sync.Mutex
	delivered []model.Notification
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(ctx context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, n)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

type memHistory struct {
	mu      sync.Mutex
	records []model.NotificationRecord
}

func (h *memHistory) Create(ctx context.Context, record *model.NotificationRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *record)
	return nil
}

func (h *memHistory) ListRecent(ctx context.Context, limit int) ([]model.NotificationRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	result := make([]model.NotificationRecord, 0, limit)
	for i := len(h.records) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, h.records[i])
	}
	return result, nil
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	pool := worker.NewWorkerPool(1, 10, zap.NewNop())
	pool.Start()

	ok := &recordingSink{name: "log"}
	failing := &recordingSink{name: "telegram", err: errors.New("chat not found")}
	history := &memHistory{}

	dispatcher := NewDispatcher(pool, []model.NotificationSink{ok, failing}, history, nil, zap.NewNop())

	dispatcher.Show(model.Notification{Title: NotificationTitle, Body: "Essay", AssignmentID: "A1", Urgency: model.UrgencyCritical})
	dispatcher.Show(model.Notification{Title: NotificationTitle, Body: "Lab", AssignmentID: "A2"})

	// Stop дожидается выполнения очереди
	pool.Stop()

	assert.Equal(t, 2, ok.count())
	assert.Equal(t, 2, failing.count())
	assert.NotEmpty(t, ok.delivered[0].ID)
	assert.Equal(t, int64(2), pool.GetFailedJobs())

	recent := dispatcher.Recent(context.Background(), 10)
	require.Len(t, recent, 2)
	assert.Equal(t, "A2", recent[0].AssignmentID)
	assert.Equal(t, "A1", recent[1].AssignmentID)
}

func TestDispatcher_RecentFromMemory(t *testing.T) {
	pool := worker.NewWorkerPool(1, 100, zap.NewNop())
	dispatcher := NewDispatcher(pool, nil, nil, nil, zap.NewNop())

	for i := 0; i < historyLimit+5; i++ {
		dispatcher.Show(model.Notification{Title: "t", CreatedAt: time.Unix(int64(i), 0)})
	}

	recent := dispatcher.Recent(context.Background(), 0)
	assert.Len(t, recent, historyLimit)
	assert.Equal(t, time.Unix(int64(historyLimit+4), 0), recent[0].CreatedAt)

	pool.Start()
	pool.Stop()
}

func TestDispatcher_QueueFullDoesNotBlock(t *testing.T) {
	pool := worker.NewWorkerPool(1, 1, zap.NewNop())
	sink := &recordingSink{name: "log"}
	dispatcher := NewDispatcher(pool, []model.NotificationSink{sink}, nil, nil, zap.NewNop())

	dispatcher.Show(model.Notification{Title: "first"})
	dispatcher.Show(model.Notification{Title: "dropped"})

	pool.Start()
	pool.Stop()
	assert.Equal(t, 1, sink.count())
}

func TestBroker_PublishSubscribe(t *testing.T) {
	broker := NewBroker(2, zap.NewNop())

	events, unsubscribe := broker.Subscribe()
	assert.Equal(t, 1, broker.Subscribers())

	broker.Publish(Event{Type: EventSnapshot})
	broker.Publish(Event{Type: EventNewAssignments})
	// Буфер заполнен, событие отбрасывается
	broker.Publish(Event{Type: EventStatus})

	first := <-events
	assert.Equal(t, EventSnapshot, first.Type)
	assert.False(t, first.Time.IsZero())
	assert.Equal(t, EventNewAssignments, (<-events).Type)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, broker.Subscribers())

	_, open := <-events
	assert.False(t, open)
}

func TestBroker_AttachToChecker(t *testing.T) {
	client := &fakeLMS{connected: true, responses: [][]model.Assignment{
		{assignment("A1", time.Hour)},
		{assignment("A1", time.Hour), assignment("A2", time.Hour)},
	}}
	f := newFixture(t, tokenConfig(), client)

	broker := NewBroker(10, zap.NewNop())
	broker.Attach(f.checker)
	events, unsubscribe := broker.Subscribe()
	defer unsubscribe()

	require.NoError(t, f.checker.Start(context.Background()))
	f.checker.CheckNow(context.Background())

	assert.Equal(t, EventSnapshot, (<-events).Type)
	assert.Equal(t, EventSnapshot, (<-events).Type)
	fresh := <-events
	assert.Equal(t, EventNewAssignments, fresh.Type)
	require.Len(t, fresh.Assignments, 1)
	assert.Equal(t, "A2", fresh.Assignments[0].ID)
}
