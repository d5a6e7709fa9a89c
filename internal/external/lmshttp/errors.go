package lmshttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// StatusError ответ с кодом вне диапазона 2xx
type StatusError struct {
	StatusCode int
	Body       string
}

// Error реализует интерфейс error
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Body)
}

// permanentError останавливает повторы
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent помечает ошибку как не подлежащую повтору
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// isRetryable определяет, имеет ли смысл повтор
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}

	return true
}

// IsUnauthorized сообщает об ошибке авторизации
func IsUnauthorized(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden
	}
	return false
}

// redactURL скрывает токены в URL перед записью в лог
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	changed := false
	for _, key := range []string{"wstoken", "token", "access_token", "password"} {
		if q.Has(key) {
			q.Set(key, "redacted")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
