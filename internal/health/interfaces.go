package health

import (
	"context"

	"lmscenter/internal/service"
)

// ServerInterface определяет интерфейс для health check сервера
type ServerInterface interface {
	// Start запускает health check сервер
	Start() error

	// Stop останавливает health check сервер
	Stop(ctx context.Context) error
}

// DatabaseInterface определяет интерфейс для проверки здоровья базы данных
type DatabaseInterface interface {
	Ping(ctx context.Context) error
}

// CheckerStatus отдает состояние движка опроса
type CheckerStatus interface {
	Status() service.Status
}

// PoolStats отдает счетчики пула уведомлений
type PoolStats interface {
	GetQueueSize() int
}
