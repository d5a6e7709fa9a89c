package service

import (
	"sync"
	"time"

	"lmscenter/internal/model"

	"go.uber.org/zap"
)

// Типы событий движка
const (
	EventSnapshot       = "snapshot"
	EventNewAssignments = "new-assignments"
	EventStatus         = "status"
)

// Event событие для подписчиков потока событий
type Event struct {
	Type        string             `json:"type"`
	Assignments []model.Assignment `json:"assignments,omitempty"`
	Status      *Status            `json:"status,omitempty"`
	Time        time.Time          `json:"time"`
}

// Broker рассылает события подписчикам. Медленный подписчик теряет события, а не тормозит движок.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	buffer      int
	logger      *zap.Logger
}

// NewBroker создает брокер событий
func NewBroker(buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broker{
		subscribers: make(map[chan Event]struct{}),
		buffer:      buffer,
		logger:      logger,
	}
}

// Subscribe возвращает канал событий и функцию отписки
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish отправляет событие всем подписчикам без ожидания
func (b *Broker) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("Event subscriber is too slow, dropping event", zap.String("type", event.Type))
		}
	}
}

// Subscribers возвращает количество подписчиков
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Attach подписывает брокер на сигналы движка
func (b *Broker) Attach(checker CheckerInterface) {
	checker.OnSnapshot(func(assignments []model.Assignment) {
		b.Publish(Event{Type: EventSnapshot, Assignments: assignments})
	})
	checker.OnNewAssignments(func(assignments []model.Assignment) {
		b.Publish(Event{Type: EventNewAssignments, Assignments: assignments})
	})
}
