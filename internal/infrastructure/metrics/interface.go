// Package metrics содержит метрики движка опроса LMS.
package metrics

import (
	"net/http"
	"time"
)

// Interface определяет интерфейс для системы метрик
type Interface interface {
	// RecordCycle записывает завершенный цикл опроса
	RecordCycle(duration time.Duration, err error)

	// RecordSkippedCycle записывает цикл, пропущенный из-за уже идущей проверки
	RecordSkippedCycle()

	// RecordNewAssignments записывает количество найденных новых заданий
	RecordNewAssignments(count int)

	// SetAssignments устанавливает размер текущего снимка
	SetAssignments(count int)

	// RecordSubmission записывает результат отправки задания
	RecordSubmission(lms string, err error)

	// RecordNotification записывает доставку уведомления в канал
	RecordNotification(sink string, err error)

	// SetState устанавливает текущее состояние движка
	SetState(state string)

	// SetNextCheck устанавливает время следующей проверки
	SetNextCheck(next time.Time)

	// GetStats возвращает все метрики в виде map
	GetStats() map[string]interface{}

	// Handler возвращает HTTP обработчик Prometheus
	Handler() http.Handler
}
