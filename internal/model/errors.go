// Package model содержит модели данных.
//
// Группа: ERRORS - Доменные ошибки
// Содержит: SubmissionError, SubmissionPhase, общие ошибки LMS
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedLMS возвращается для неизвестного типа бэкенда
	ErrUnsupportedLMS = errors.New("unsupported LMS type")
	// ErrNotImplemented возвращается для известного, но не реализованного бэкенда
	ErrNotImplemented = errors.New("LMS support not implemented")
	// ErrRefreshNotSupported возвращается, если бэкенд не поддерживает обновление токена
	ErrRefreshNotSupported = errors.New("token refresh not supported for this LMS")
	// ErrNoClient возвращается, если клиент LMS еще не создан
	ErrNoClient = errors.New("LMS client not available")
	// ErrAllCoursesFailed возвращается, если не удалось получить задания ни одного курса
	ErrAllCoursesFailed = errors.New("failed to fetch assignments for every course")
)

// SubmissionPhase фаза отправки, на которой произошла ошибка
type SubmissionPhase string

const (
	// PhaseUpload загрузка вложения (намерение, передача, подтверждение)
	PhaseUpload SubmissionPhase = "upload"
	// PhaseSubmit создание отправки или сохранение черновика
	PhaseSubmit SubmissionPhase = "submit"
	// PhaseFinalize перевод черновика в статус "на проверке"
	PhaseFinalize SubmissionPhase = "finalize"
)

// SubmissionError описывает неудачную отправку задания
type SubmissionError struct {
	Phase SubmissionPhase
	File  string
	Err   error
}

// Error реализует интерфейс error
func (e *SubmissionError) Error() string {
	switch e.Phase {
	case PhaseUpload:
		return fmt.Sprintf("failed to upload %s: %v", e.File, e.Err)
	case PhaseFinalize:
		return fmt.Sprintf("files uploaded but grading submission failed: %v", e.Err)
	default:
		return fmt.Sprintf("submission failed: %v", e.Err)
	}
}

// Unwrap возвращает исходную ошибку
func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// NewUploadError создает ошибку фазы загрузки файла
func NewUploadError(file string, err error) *SubmissionError {
	return &SubmissionError{Phase: PhaseUpload, File: file, Err: err}
}

// NewSubmitError создает ошибку фазы создания отправки
func NewSubmitError(err error) *SubmissionError {
	return &SubmissionError{Phase: PhaseSubmit, Err: err}
}

// NewFinalizeError создает ошибку фазы финализации
func NewFinalizeError(err error) *SubmissionError {
	return &SubmissionError{Phase: PhaseFinalize, Err: err}
}

// ResultFromError приводит ошибку отправки к SubmissionResult
func ResultFromError(err error) SubmissionResult {
	if err == nil {
		return SubmissionResult{Success: true}
	}

	result := SubmissionResult{Error: err.Error()}
	var subErr *SubmissionError
	if errors.As(err, &subErr) {
		result.Phase = subErr.Phase
		result.File = subErr.File
	}
	return result
}
