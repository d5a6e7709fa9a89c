// Package model содержит модели данных.
//
// Группа: ENTITIES - Нормализованные сущности LMS
// Содержит: Course, Assignment, Lecture, FileAttachment, SubmissionData
package model

import (
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LMSType определяет тип бэкенда LMS
type LMSType string

const (
	LMSCanvas     LMSType = "canvas"
	LMSMoodle     LMSType = "moodle"
	LMSBlackboard LMSType = "blackboard"
)

// String возвращает строковое представление типа
func (t LMSType) String() string {
	return string(t)
}

// DisplayName возвращает имя бэкенда для уведомлений и логов
func (t LMSType) DisplayName() string {
	if t == "" {
		return "LMS"
	}
	return cases.Title(language.English).String(strings.ToLower(string(t)))
}

// ParseLMSType приводит строку из настроек к LMSType
func ParseLMSType(s string) LMSType {
	return LMSType(strings.ToLower(strings.TrimSpace(s)))
}

// Course представляет курс, в котором пользователь активно записан
type Course struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FileAttachment представляет файл, прикрепленный к заданию или лекции
type FileAttachment struct {
	ID          string `json:"id"`
	FileName    string `json:"fileName"`
	URL         string `json:"url"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// Assignment представляет задание с дедлайном.
// Идентичность задания определяется только полем ID в пределах одного подключения.
type Assignment struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	DescriptionText string           `json:"descriptionText,omitempty"`
	DueDate         time.Time        `json:"dueDate"`
	CourseID        string           `json:"courseId"`
	CourseName      string           `json:"courseName"`
	URL             string           `json:"url"`
	Submitted       bool             `json:"submitted"`
	SubmittedDate   *time.Time       `json:"submittedDate,omitempty"`
	Attachments     []FileAttachment `json:"attachments,omitempty"`
}

// Lecture представляет учебный материал курса
type Lecture struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	CourseID    string           `json:"courseId"`
	CourseName  string           `json:"courseName"`
	URL         string           `json:"url"`
	CreatedDate *time.Time       `json:"createdDate,omitempty"`
	Attachments []FileAttachment `json:"attachments,omitempty"`
}

// SubmissionFile файл, который нужно загрузить при отправке
type SubmissionFile struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
}

// SubmissionData описывает отправку решения задания
type SubmissionData struct {
	AssignmentID string           `json:"assignmentId"`
	CourseID     string           `json:"courseId"`
	Comment      string           `json:"comment,omitempty"`
	Attachments  []SubmissionFile `json:"attachments,omitempty"`
}

// SubmissionResult результат отправки для внешних потребителей
type SubmissionResult struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Phase   SubmissionPhase `json:"phase,omitempty"`
	File    string          `json:"file,omitempty"`
}

// SortAssignmentsByDue сортирует задания по возрастанию дедлайна.
// Сортировка стабильная: задания с одинаковым дедлайном сохраняют порядок.
func SortAssignmentsByDue(assignments []Assignment) {
	sort.SliceStable(assignments, func(i, j int) bool {
		return assignments[i].DueDate.Before(assignments[j].DueDate)
	})
}
