// Package storage содержит работу с базой данных.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lmscenter/internal/model"
	"lmscenter/internal/storage/repository"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"go.uber.org/zap"
)

// Postgres представляет подключение к PostgreSQL
type Postgres struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewPostgres создает новое подключение к PostgreSQL с retry логикой
func NewPostgres(ctx context.Context, databaseURL string, logger *zap.Logger) (*Postgres, error) {
	const maxRetries = 10
	const retryDelay = 5 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Info("Attempting to connect to database",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries))

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(databaseURL)))

		// Настраиваем пул соединений
		sqldb.SetMaxOpenConns(10)
		sqldb.SetMaxIdleConns(5)
		sqldb.SetConnMaxLifetime(5 * time.Minute)
		sqldb.SetConnMaxIdleTime(1 * time.Minute)

		db := bun.NewDB(sqldb, pgdialect.New())

		// Добавляем отладку в режиме разработки
		if logger.Core().Enabled(zap.DebugLevel) {
			db.AddQueryHook(bundebug.NewQueryHook(
				bundebug.WithVerbose(true),
				bundebug.FromEnv("BUNDEBUG"),
			))
		}

		pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
		lastErr = db.PingContext(pingCtx)
		pingCancel()

		if lastErr == nil {
			logger.Info("Connected to PostgreSQL database with Bun ORM", zap.Int("attempt", attempt))
			return &Postgres{db: db, logger: logger}, nil
		}

		logger.Warn("Failed to connect to database",
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if err := db.Close(); err != nil {
			logger.Warn("Failed to close database connection", zap.Error(err))
		}

		if attempt == maxRetries {
			break
		}

		logger.Info("Retrying connection", zap.Duration("delay", retryDelay))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to connect to database: %w", ctx.Err())
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, lastErr)
}

// NewPostgresFromDB оборачивает готовое подключение
func NewPostgresFromDB(db *bun.DB, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// CreateSchema создает таблицы настроек и истории уведомлений
func (p *Postgres) CreateSchema(ctx context.Context) error {
	models := []interface{}{
		(*model.Setting)(nil),
		(*model.NotificationRecord)(nil),
	}

	for _, m := range models {
		if _, err := p.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if _, err := p.db.NewCreateIndex().
		Model((*model.NotificationRecord)(nil)).
		Index("notifications_created_at_idx").
		Column("created_at").
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	p.logger.Info("Database schema is up to date")
	return nil
}

// Close закрывает соединение с базой данных
func (p *Postgres) Close() error {
	return p.db.Close()
}

// GetDB возвращает подключение к базе данных
func (p *Postgres) GetDB() *bun.DB {
	return p.db
}

// Ping проверяет доступность базы данных
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// GetSettingsRepository возвращает репозиторий настроек
func (p *Postgres) GetSettingsRepository() model.SettingsRepository {
	return repository.NewSettingsRepository(p.db, p.logger)
}

// GetNotificationRepository возвращает репозиторий истории уведомлений
func (p *Postgres) GetNotificationRepository() model.NotificationRepository {
	return repository.NewNotificationRepository(p.db, p.logger)
}
