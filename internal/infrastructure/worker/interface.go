// Package worker содержит пул фоновых задач: доставка уведомлений и загрузка вложений.
package worker

// PoolInterface пул, в который сервисы ставят фоновые задачи
type PoolInterface interface {
	Start()
	Stop()

	// Submit ставит задачу в очередь без ожидания. Полная очередь дает ErrQueueFull.
	Submit(job Job) error

	GetMetrics() Metrics
	GetQueueSize() int
}
