// Package repository содержит репозитории для работы с базой данных.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lmscenter/internal/model"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// SettingsRepository хранит настройки в таблице settings
type SettingsRepository struct {
	db     *bun.DB
	logger *zap.Logger
}

// Убеждаемся, что SettingsRepository реализует model.SettingsRepository
var _ model.SettingsRepository = (*SettingsRepository)(nil)

// NewSettingsRepository создает новый репозиторий настроек
func NewSettingsRepository(db *bun.DB, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{
		db:     db,
		logger: logger,
	}
}

// Get возвращает значение по ключу
func (r *SettingsRepository) Get(ctx context.Context, key string) (string, bool, error) {
	setting := new(model.Setting)

	err := r.db.NewSelect().
		Model(setting).
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}

	return setting.Value, true, nil
}

// GetAll возвращает все настройки
func (r *SettingsRepository) GetAll(ctx context.Context) (map[string]string, error) {
	var settings []model.Setting

	err := r.db.NewSelect().
		Model(&settings).
		Order("key ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}

	result := make(map[string]string, len(settings))
	for _, s := range settings {
		result[s.Key] = s.Value
	}
	return result, nil
}

// Set создает или обновляет значение
func (r *SettingsRepository) Set(ctx context.Context, key, value string) error {
	setting := &model.Setting{
		Key:   key,
		Value: value,
	}

	_, err := r.db.NewInsert().
		Model(setting).
		On("CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()").
		Returning("NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	r.logger.Debug("Setting stored", zap.String("key", key))
	return nil
}

// Delete удаляет значение
func (r *SettingsRepository) Delete(ctx context.Context, key string) error {
	_, err := r.db.NewDelete().
		Model((*model.Setting)(nil)).
		Where("key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}
