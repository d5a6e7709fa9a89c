// Package app содержит основную логику приложения.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"lmscenter/internal/api"
	"lmscenter/internal/config"
	"lmscenter/internal/health"
	"lmscenter/internal/infrastructure/worker"
	"lmscenter/internal/service"
	"lmscenter/internal/storage"

	"go.uber.org/zap"
)

// shutdownTimeout время на graceful shutdown
const shutdownTimeout = 30 * time.Second

// App представляет запущенное приложение
type App struct {
	config  *config.Config
	logger  *zap.Logger
	db      *storage.Postgres
	pool    *worker.Pool
	checker *service.Checker
	watcher *service.SettingsWatcher
	api     *api.Server
	health  *health.Server

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewAppWithFactory создает приложение через фабрику компонентов
func NewAppWithFactory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	factory := NewComponentFactory(cfg, logger)
	return factory.CreateApp(ctx)
}

// Checker возвращает движок опроса
func (a *App) Checker() *service.Checker {
	return a.checker
}

// Start запускает приложение и блокируется до отмены контекста
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("Starting application", zap.String("data_dir", a.config.GetAppDataDir()))

	a.pool.Start()

	if a.health != nil {
		a.serve("health check", a.health.Start)
	}
	if a.api != nil {
		a.serve("API", a.api.Start)
	}

	// Неудачное подключение к LMS не останавливает приложение:
	// состояние видно в /api/status, а Restart можно вызвать через API
	if err := a.checker.Start(ctx); err != nil {
		a.logger.Error("Checker failed to start", zap.Error(err))
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.watcher.Start(ctx)
	}()

	a.logger.Info("Application started successfully")

	<-ctx.Done()
	a.logger.Info("Application context cancelled")

	return a.Stop()
}

// serve запускает HTTP сервер в отдельной горутине
func (a *App) serve(name string, start func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := start(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				a.logger.Info("Server stopped normally", zap.String("server", name))
				return
			}
			a.logger.Error("Server failed", zap.String("server", name), zap.Error(err))
		}
	}()
}

// Stop gracefully останавливает приложение
func (a *App) Stop() error {
	var stopErr error

	a.stopOnce.Do(func() {
		a.logger.Info("Stopping application gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if a.api != nil {
			if err := a.api.Stop(shutdownCtx); err != nil {
				a.logger.Error("Failed to stop API server", zap.Error(err))
				stopErr = errors.Join(stopErr, err)
			}
		}

		a.watcher.Stop()
		a.checker.Stop()
		a.pool.Stop()

		if a.health != nil {
			if err := a.health.Stop(shutdownCtx); err != nil {
				a.logger.Error("Failed to stop health check server", zap.Error(err))
				stopErr = errors.Join(stopErr, err)
			}
		}

		// Ждем завершения всех горутин с таймаутом
		done := make(chan struct{})
		go func() {
			defer close(done)
			a.wg.Wait()
		}()

		select {
		case <-done:
			a.logger.Info("All goroutines stopped successfully")
		case <-shutdownCtx.Done():
			a.logger.Warn("Graceful shutdown timeout exceeded, forcing stop")
		}

		if a.db != nil {
			if err := a.db.Close(); err != nil {
				a.logger.Error("Failed to close database connection", zap.Error(err))
				stopErr = errors.Join(stopErr, err)
			}
		}

		a.logger.Info("Application stopped")
	})

	return stopErr
}
