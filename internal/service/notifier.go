package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lmscenter/internal/infrastructure/metrics"
	"lmscenter/internal/infrastructure/worker"
	"lmscenter/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	historyLimit    = 50
	deliveryTimeout = 30 * time.Second
)

// Dispatcher доставляет уведомления во все каналы через пул воркеров.
// Show не блокирует вызывающего.
type Dispatcher struct {
	pool    worker.PoolInterface
	sinks   []model.NotificationSink
	history model.NotificationRepository
	metrics metrics.Interface
	logger  *zap.Logger

	mu     sync.RWMutex
	recent []model.Notification
}

// Убеждаемся, что Dispatcher реализует model.Notifier
var _ model.Notifier = (*Dispatcher)(nil)

// NewDispatcher создает диспетчер уведомлений. history и m могут быть nil.
func NewDispatcher(pool worker.PoolInterface, sinks []model.NotificationSink, history model.NotificationRepository, m metrics.Interface, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		pool:    pool,
		sinks:   sinks,
		history: history,
		metrics: m,
		logger:  logger,
	}
}

// Show ставит уведомление в очередь доставки
func (d *Dispatcher) Show(n model.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	d.remember(n)

	err := d.pool.Submit(worker.Job{
		ID:   n.ID,
		Kind: "notification",
		Handler: func(ctx context.Context) error {
			return d.deliver(ctx, n)
		},
	})
	if err != nil {
		d.logger.Error("Failed to queue notification",
			zap.String("notification_id", n.ID),
			zap.Error(err))
	}
}

// deliver отправляет уведомление во все каналы и записывает его в историю
func (d *Dispatcher) deliver(ctx context.Context, n model.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	var errs []error
	for _, sink := range d.sinks {
		err := sink.Deliver(ctx, n)
		if d.metrics != nil {
			d.metrics.RecordNotification(sink.Name(), err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}

	if d.history != nil {
		record := &model.NotificationRecord{
			ID:           n.ID,
			AssignmentID: n.AssignmentID,
			Title:        n.Title,
			Body:         n.Body,
			Urgency:      string(n.Urgency),
			CreatedAt:    n.CreatedAt,
		}
		if err := d.history.Create(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}

	return errors.Join(errs...)
}

// remember хранит последние уведомления в памяти
func (d *Dispatcher) remember(n model.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.recent = append(d.recent, n)
	if len(d.recent) > historyLimit {
		d.recent = d.recent[len(d.recent)-historyLimit:]
	}
}

// Recent возвращает последние уведомления, новые первыми.
// При наличии хранилища история читается из него.
func (d *Dispatcher) Recent(ctx context.Context, limit int) []model.Notification {
	if limit <= 0 || limit > historyLimit {
		limit = historyLimit
	}

	if d.history != nil {
		records, err := d.history.ListRecent(ctx, limit)
		if err == nil {
			result := make([]model.Notification, 0, len(records))
			for _, r := range records {
				result = append(result, model.Notification{
					ID:           r.ID,
					Title:        r.Title,
					Body:         r.Body,
					Urgency:      model.Urgency(r.Urgency),
					AssignmentID: r.AssignmentID,
					CreatedAt:    r.CreatedAt,
				})
			}
			return result
		}
		d.logger.Warn("Failed to read notification history, using memory", zap.Error(err))
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]model.Notification, 0, limit)
	for i := len(d.recent) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, d.recent[i])
	}
	return result
}

// LogNotifier пишет уведомления в лог
type LogNotifier struct {
	logger *zap.Logger
}

// Убеждаемся, что LogNotifier реализует model.NotificationSink
var _ model.NotificationSink = (*LogNotifier)(nil)

// NewLogNotifier создает канал уведомлений в лог
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Name возвращает имя канала
func (l *LogNotifier) Name() string {
	return "log"
}

// Deliver пишет уведомление в лог
func (l *LogNotifier) Deliver(ctx context.Context, n model.Notification) error {
	l.logger.Info("Notification",
		zap.String("notification_id", n.ID),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Bool("silent", n.Silent),
		zap.String("urgency", string(n.Urgency)))
	return nil
}
