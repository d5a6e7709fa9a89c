// Package debounce реализует механизм дебаунса для предотвращения повторных запросов.
package debounce

import (
	"sync"
	"time"
)

// DebouncerInterface определяет интерфейс для debouncer
type DebouncerInterface interface {
	// CanProcessRequest проверяет, можно ли обработать запрос
	CanProcessRequest(key string) bool
}

// Debouncer ограничивает частоту повторных запросов по ключу
type Debouncer struct {
	lastRequest map[string]time.Time
	timeouts    map[string]time.Duration
	timeout     time.Duration
	now         func() time.Time
	mu          sync.Mutex
}

var _ DebouncerInterface = (*Debouncer)(nil)

// DefaultTimeout таймаут по умолчанию
const DefaultTimeout = 5 * time.Second

// NewDebouncer создает новый Debouncer. timeouts задает особые таймауты для ключей.
func NewDebouncer(timeout time.Duration, timeouts map[string]time.Duration) *Debouncer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	custom := make(map[string]time.Duration, len(timeouts))
	for k, v := range timeouts {
		custom[k] = v
	}
	return &Debouncer{
		lastRequest: make(map[string]time.Time),
		timeouts:    custom,
		timeout:     timeout,
		now:         time.Now,
	}
}

// CanProcessRequest проверяет, прошло ли достаточно времени с последнего запроса по ключу
func (d *Debouncer) CanProcessRequest(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	last, exists := d.lastRequest[key]
	if !exists {
		d.lastRequest[key] = now
		return true
	}

	// Определяем таймаут для ключа
	timeout := d.timeout
	if custom, ok := d.timeouts[key]; ok {
		timeout = custom
	}

	// Проверяем, прошло ли достаточно времени
	if now.Sub(last) < timeout {
		return false
	}

	d.lastRequest[key] = now
	return true
}
