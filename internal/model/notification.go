// Package model содержит модели данных.
//
// Группа: ENTITIES - Уведомления
// Содержит: Notification, NotificationRecord, NotificationRepository
package model

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Urgency уровень срочности уведомления
type Urgency string

const (
	UrgencyNormal   Urgency = "normal"
	UrgencyCritical Urgency = "critical"
)

// Notification уведомление о новом задании
type Notification struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Silent       bool      `json:"silent"`
	Urgency      Urgency   `json:"urgency"`
	AssignmentID string    `json:"assignmentId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NotificationRecord запись истории уведомлений
type NotificationRecord struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID           string    `bun:"id,pk" json:"id"`
	AssignmentID string    `bun:"assignment_id" json:"assignment_id"`
	Title        string    `bun:"title,notnull" json:"title"`
	Body         string    `bun:"body,notnull" json:"body"`
	Urgency      string    `bun:"urgency" json:"urgency"`
	CreatedAt    time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// NotificationRepository определяет интерфейс истории уведомлений
type NotificationRepository interface {
	Create(ctx context.Context, record *NotificationRecord) error
	ListRecent(ctx context.Context, limit int) ([]NotificationRecord, error)
}
