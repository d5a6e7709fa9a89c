package repository

import (
	"context"
	"fmt"

	"lmscenter/internal/model"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// NotificationRepository хранит историю уведомлений
type NotificationRepository struct {
	db     *bun.DB
	logger *zap.Logger
}

// Убеждаемся, что NotificationRepository реализует model.NotificationRepository
var _ model.NotificationRepository = (*NotificationRepository)(nil)

// NewNotificationRepository создает новый репозиторий уведомлений
func NewNotificationRepository(db *bun.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create сохраняет уведомление. Повторная запись с тем же id игнорируется.
func (r *NotificationRepository) Create(ctx context.Context, record *model.NotificationRecord) error {
	_, err := r.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListRecent возвращает последние уведомления, новые первыми
func (r *NotificationRepository) ListRecent(ctx context.Context, limit int) ([]model.NotificationRecord, error) {
	var records []model.NotificationRecord

	err := r.db.NewSelect().
		Model(&records).
		Order("created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return records, nil
}
