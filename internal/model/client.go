// Package model содержит модели данных.
//
// Группа: INTERFACES - Контракты внешних систем
// Содержит: LMSClient, Notifier
package model

import "context"

// LMSClient определяет единый контракт для всех бэкендов LMS.
// Ошибки чтения отдельных курсов изолируются внутри клиента.
type LMSClient interface {
	// TestConnection выполняет самый дешевый аутентифицированный запрос.
	// Любая сетевая ошибка или ошибка авторизации дает false.
	TestConnection(ctx context.Context) bool
	GetCourses(ctx context.Context) ([]Course, error)
	// GetAssignments возвращает только задания с дедлайном, отсортированные по нему.
	GetAssignments(ctx context.Context) ([]Assignment, error)
	GetLectures(ctx context.Context) ([]Lecture, error)
	// SubmitAssignment не идемпотентен и не повторяется автоматически.
	SubmitAssignment(ctx context.Context, data SubmissionData) error
}

// Notifier принимает уведомления о новых заданиях (fire-and-forget)
type Notifier interface {
	Show(n Notification)
}

// NotificationSink доставляет уведомление в конкретный канал
type NotificationSink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}
