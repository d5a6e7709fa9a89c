package service

import (
	"context"
	"sync"
	"time"

	"lmscenter/internal/model"

	"go.uber.org/zap"
)

// DefaultWatchInterval период проверки сохраненных настроек
const DefaultWatchInterval = 30 * time.Second

// RestartableChecker движок, который можно перезапустить при смене настроек
type RestartableChecker interface {
	Restart(ctx context.Context) error
	AppliedSettings() model.LMSConfig
}

// SettingsWatcher отслеживает изменения настроек, сделанные в обход API
// (правка файла настроек, другая копия приложения с той же базой),
// и перезапускает движок
type SettingsWatcher struct {
	settings SettingsProvider
	checker  RestartableChecker
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewSettingsWatcher создает новый наблюдатель настроек
func NewSettingsWatcher(settings SettingsProvider, checker RestartableChecker, interval time.Duration, logger *zap.Logger) *SettingsWatcher {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return &SettingsWatcher{
		settings: settings,
		checker:  checker,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start запускает наблюдение и блокируется до остановки
func (w *SettingsWatcher) Start(ctx context.Context) {
	w.logger.Info("Starting settings watcher", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Settings watcher stopped due to context cancellation")
			return
		case <-w.stopChan:
			w.logger.Info("Settings watcher stopped")
			return
		case <-ticker.C:
			w.CheckForChanges(ctx)
		}
	}
}

// Stop останавливает наблюдение
func (w *SettingsWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// CheckForChanges сравнивает текущие настройки с примененными и перезапускает движок.
// Возвращает true, если перезапуск был выполнен.
func (w *SettingsWatcher) CheckForChanges(ctx context.Context) bool {
	current := w.settings.GetSettings(ctx)
	applied := w.checker.AppliedSettings()
	if current == applied {
		return false
	}

	w.logger.Info("Settings changed outside the API, restarting checker",
		zap.String("lms", current.LMSType.String()),
		zap.String("url", current.LMSURL))

	if err := w.checker.Restart(ctx); err != nil {
		w.logger.Error("Failed to restart checker after settings change", zap.Error(err))
	}
	return true
}
