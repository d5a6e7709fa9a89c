// Package app содержит фабрику компонентов приложения.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lmscenter/internal/api"
	"lmscenter/internal/config"
	"lmscenter/internal/external/lms"
	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/external/telegram"
	"lmscenter/internal/health"
	"lmscenter/internal/infrastructure/debounce"
	"lmscenter/internal/infrastructure/metrics"
	"lmscenter/internal/infrastructure/worker"
	"lmscenter/internal/model"
	"lmscenter/internal/service"
	"lmscenter/internal/storage"
	"lmscenter/internal/storage/filestore"
	"lmscenter/pkg/secret"

	"go.uber.org/zap"
)

// ComponentFactory создает компоненты приложения
type ComponentFactory struct {
	config *config.Config
	logger *zap.Logger
}

// NewComponentFactory создает новую фабрику компонентов
func NewComponentFactory(config *config.Config, logger *zap.Logger) *ComponentFactory {
	if logger == nil {
		panic("Logger cannot be nil")
	}
	if config == nil {
		logger.Fatal("Config cannot be nil")
	}

	return &ComponentFactory{
		config: config,
		logger: logger,
	}
}

// CreateAppDataDirectory создает директорию данных приложения
func (f *ComponentFactory) CreateAppDataDirectory() error {
	dataDir := f.config.GetAppDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		f.logger.Error("Failed to create app data directory", zap.String("dir", dataDir), zap.Error(err))
		return fmt.Errorf("failed to create app data directory: %w", err)
	}
	f.logger.Info("App data directory ready", zap.String("dir", dataDir))
	return nil
}

// CreateDatabase создает подключение к базе данных и схему.
// Без DB_DSN возвращает nil: настройки хранятся в файле.
func (f *ComponentFactory) CreateDatabase(ctx context.Context) (*storage.Postgres, error) {
	if f.config.DatabaseURL == "" {
		f.logger.Info("DB_DSN is not set, using settings file", zap.String("path", f.config.SettingsFile))
		return nil, nil
	}

	db, err := storage.NewPostgres(ctx, f.config.DatabaseURL, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	if err := db.CreateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}

	f.logger.Info("Database connection created successfully")
	return db, nil
}

// CreateSettingsRepository выбирает хранилище настроек
func (f *ComponentFactory) CreateSettingsRepository(db *storage.Postgres) (model.SettingsRepository, error) {
	if db != nil {
		return db.GetSettingsRepository(), nil
	}

	store, err := filestore.Open(f.config.SettingsFile, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings file: %w", err)
	}
	return store, nil
}

// CreateSecretBox создает шифрование секретов настроек
func (f *ComponentFactory) CreateSecretBox() (*secret.Box, error) {
	box, err := secret.New(f.config.SettingsSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret box: %w", err)
	}
	if !box.Enabled() {
		f.logger.Warn("SETTINGS_SECRET is not set, stored token and password are not encrypted")
	}
	return box, nil
}

// CreateHTTPClient создает HTTP клиент для обращений к LMS
func (f *ComponentFactory) CreateHTTPClient() *lmshttp.Client {
	return lmshttp.NewClient(lmshttp.Config{
		HTTPClientConfig: lmshttp.HTTPClientConfig{
			MaxIdleConns:          f.config.HTTPClientConfig.MaxIdleConns,
			MaxIdleConnsPerHost:   f.config.HTTPClientConfig.MaxIdleConnsPerHost,
			IdleConnTimeout:       f.config.HTTPClientConfig.IdleConnTimeout,
			TLSHandshakeTimeout:   f.config.HTTPClientConfig.TLSHandshakeTimeout,
			ResponseHeaderTimeout: f.config.HTTPClientConfig.ResponseHeaderTimeout,
			DisableKeepAlives:     f.config.HTTPClientConfig.DisableKeepAlives,
		},
		RetryConfig: lmshttp.RetryConfig{
			MaxRetries:        f.config.RetryConfig.MaxRetries,
			InitialDelay:      f.config.RetryConfig.InitialDelay,
			MaxDelay:          f.config.RetryConfig.MaxDelay,
			BackoffMultiplier: f.config.RetryConfig.BackoffMultiplier,
		},
		Timeout:       f.config.FetchTimeout,
		UploadTimeout: f.config.UploadTimeout,
		UserAgent:     f.config.HTTPClientConfig.UserAgent,
	}, f.logger)
}

// CreateClientFactory возвращает фабрику клиентов LMS для движка опроса
func (f *ComponentFactory) CreateClientFactory(httpClient *lmshttp.Client) service.ClientFactory {
	return func(cfg model.LMSConfig) (model.LMSClient, error) {
		return lms.NewClient(cfg, httpClient, f.logger)
	}
}

// CreateSinks создает каналы доставки уведомлений
func (f *ComponentFactory) CreateSinks() []model.NotificationSink {
	sinks := []model.NotificationSink{service.NewLogNotifier(f.logger)}

	if f.config.TelegramEnabled() {
		notifier, err := telegram.NewNotifier(f.config.TelegramBotToken, f.config.TelegramChatID, f.logger)
		if err != nil {
			f.logger.Warn("Telegram notifications are disabled", zap.Error(err))
		} else {
			sinks = append(sinks, notifier)
		}
	}

	return sinks
}

// CreateHealthServer создает сервер health check
func (f *ComponentFactory) CreateHealthServer(checker health.CheckerStatus, db *storage.Postgres, pool health.PoolStats, m metrics.Interface) *health.Server {
	if !f.config.HealthCheckEnabled {
		f.logger.Info("Health check server is disabled")
		return nil
	}

	var dbCheck health.DatabaseInterface
	if db != nil {
		dbCheck = db
	}

	server := health.NewServer(f.config.HealthPort, f.logger, checker, dbCheck, pool, m.Handler())
	f.logger.Info("Health check server created", zap.String("port", f.config.HealthPort))
	return server
}

// CreateAPIServer создает сервер локального API
func (f *ComponentFactory) CreateAPIServer(deps api.Deps) *api.Server {
	if !f.config.APIEnabled {
		f.logger.Info("API server is disabled")
		return nil
	}

	server := api.NewServer(f.config.APIPort, deps, f.logger)
	f.logger.Info("API server created", zap.String("port", f.config.APIPort))
	return server
}

// DownloadRoot возвращает каталог загрузок по умолчанию
func (f *ComponentFactory) DownloadRoot() string {
	return filepath.Join(f.config.GetAppDataDir(), "downloads")
}

// CreateApp создает приложение со всеми зависимостями
func (f *ComponentFactory) CreateApp(ctx context.Context) (*App, error) {
	// Создаем директорию данных приложения
	if err := f.CreateAppDataDirectory(); err != nil {
		return nil, err
	}

	db, err := f.CreateDatabase(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	repo, err := f.CreateSettingsRepository(db)
	if err != nil {
		closeDB(db, f.logger)
		return nil, err
	}

	box, err := f.CreateSecretBox()
	if err != nil {
		closeDB(db, f.logger)
		return nil, err
	}

	var history model.NotificationRepository
	if db != nil {
		history = db.GetNotificationRepository()
	}

	m := metrics.NewMetrics(f.logger)
	httpClient := f.CreateHTTPClient()
	auth := service.NewAuthService(httpClient, f.logger)
	settings := service.NewSettingsManager(repo, f.config.LMS, box, f.logger)

	pool := worker.NewWorkerPool(f.config.NotifyWorkers, f.config.NotifyQueueSize, f.logger)
	dispatcher := service.NewDispatcher(pool, f.CreateSinks(), history, m, f.logger)

	checker := service.NewChecker(settings, f.CreateClientFactory(httpClient), dispatcher, f.logger,
		service.WithMetrics(m),
		service.WithAuth(auth),
	)

	downloader := service.NewDownloader(httpClient, f.logger)
	checker.OnNewAssignments(service.AutoDownloadHook(settings, downloader, pool, f.DownloadRoot(), f.logger))

	broker := service.NewBroker(32, f.logger)
	broker.Attach(checker)

	apiServer := f.CreateAPIServer(api.Deps{
		Checker:      checker,
		Settings:     settings,
		Auth:         auth,
		Downloader:   downloader,
		History:      dispatcher,
		Broker:       broker,
		Stats:        m,
		Jobs:         pool,
		Debouncer:    debounce.NewDebouncer(debounce.DefaultTimeout, map[string]time.Duration{"restart": 10 * time.Second}),
		DownloadRoot: f.DownloadRoot(),
	})

	app := &App{
		config:  f.config,
		logger:  f.logger,
		db:      db,
		pool:    pool,
		checker: checker,
		watcher: service.NewSettingsWatcher(settings, checker, service.DefaultWatchInterval, f.logger),
		api:     apiServer,
		health:  f.CreateHealthServer(checker, db, pool, m),
	}

	f.logger.Info("Application created successfully with all dependencies")
	return app, nil
}

func closeDB(db *storage.Postgres, logger *zap.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		logger.Error("Failed to close database connection", zap.Error(err))
	}
}
