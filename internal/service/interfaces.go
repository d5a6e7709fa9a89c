package service

import (
	"context"

	"lmscenter/internal/model"
)

// SettingsProvider отдает настройки подключения движку опроса.
// Движок никогда не записывает настройки сам.
type SettingsProvider interface {
	GetSettings(ctx context.Context) model.LMSConfig
	IsConfigured(ctx context.Context) bool
}

// AuthServiceInterface определяет интерфейс обмена учетных данных на токен
type AuthServiceInterface interface {
	Login(ctx context.Context, creds Credentials) (*TokenResult, error)
	RefreshToken(ctx context.Context, lmsType model.LMSType, siteURL, refreshToken string) (*TokenResult, error)
}

// CheckerInterface определяет операции движка опроса, доступные внешним слоям
type CheckerInterface interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	CheckNow(ctx context.Context) bool
	Status() Status
	Snapshot() []model.Assignment
	GetAssignments(ctx context.Context) []model.Assignment
	GetCourses(ctx context.Context) []model.Course
	GetLectures(ctx context.Context) []model.Lecture
	Submit(ctx context.Context, data model.SubmissionData) model.SubmissionResult
	OnSnapshot(fn func([]model.Assignment))
	OnNewAssignments(fn func([]model.Assignment))
}

// SettingsManagerInterface определяет интерфейс управления настройками
type SettingsManagerInterface interface {
	SettingsProvider
	Save(ctx context.Context, cfg model.LMSConfig) error
	SaveToken(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}
