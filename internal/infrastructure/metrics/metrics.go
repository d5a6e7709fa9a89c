package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const notSet = "not set"

// states известные состояния движка для gauge lmscenter_checker_state
var states = []string{"uninitialized", "connecting", "polling", "checking", "failed"}

// Metrics представляет систему метрик
type Metrics struct {
	mu sync.RWMutex

	registry        *prometheus.Registry
	handler         http.Handler
	cycles          *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	skipped         prometheus.Counter
	newAssignments  prometheus.Counter
	assignmentGauge prometheus.Gauge
	submissions     *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	stateGauge      *prometheus.GaugeVec

	// Снимок для /api/status
	totalCycles    int64
	failedCycles   int64
	skippedCycles  int64
	newFound       int64
	assignments    int
	submitted      int64
	submitFailures int64
	delivered      int64
	deliverErrors  int64
	avgCycleTime   time.Duration
	state          string
	lastCheck      time.Time
	nextCheck      time.Time
	uptime         time.Time

	logger *zap.Logger
}

// Убеждаемся, что Metrics реализует Interface
var _ Interface = (*Metrics)(nil)

// NewMetrics создает новую систему метрик с собственным реестром
func NewMetrics(logger *zap.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lmscenter_check_cycles_total",
			Help: "Total number of fetch-and-diff cycles by result",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lmscenter_check_cycle_duration_seconds",
			Help:    "Duration of fetch-and-diff cycles",
			Buckets: prometheus.DefBuckets,
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lmscenter_check_cycles_skipped_total",
			Help: "Cycles skipped because another check was in flight",
		}),
		newAssignments: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lmscenter_new_assignments_total",
			Help: "Total number of newly detected assignments",
		}),
		assignmentGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lmscenter_assignments",
			Help: "Number of assignments in the current snapshot",
		}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lmscenter_submissions_total",
			Help: "Assignment submissions by backend and result",
		}, []string{"lms", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lmscenter_notifications_total",
			Help: "Notification deliveries by sink and result",
		}, []string{"sink", "result"}),
		stateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lmscenter_checker_state",
			Help: "Current checker state (1 for the active state)",
		}, []string{"state"}),
		state:  states[0],
		uptime: time.Now(),
		logger: logger,
	}

	registry.MustRegister(
		m.cycles,
		m.cycleDuration,
		m.skipped,
		m.newAssignments,
		m.assignmentGauge,
		m.submissions,
		m.notifications,
		m.stateGauge,
		collectors.NewGoCollector(),
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	m.stateGauge.WithLabelValues(m.state).Set(1)

	return m
}

// Registry возвращает реестр Prometheus
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает HTTP обработчик Prometheus
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// RecordCycle записывает завершенный цикл опроса
func (m *Metrics) RecordCycle(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalCycles++
	if err != nil {
		m.failedCycles++
	}
	m.lastCheck = time.Now()
	// Простое скользящее среднее
	if m.avgCycleTime == 0 {
		m.avgCycleTime = duration
	} else {
		m.avgCycleTime = (m.avgCycleTime + duration) / 2
	}
}

// RecordSkippedCycle записывает пропущенный цикл
func (m *Metrics) RecordSkippedCycle() {
	m.skipped.Inc()

	m.mu.Lock()
	m.skippedCycles++
	m.mu.Unlock()
}

// RecordNewAssignments записывает найденные новые задания
func (m *Metrics) RecordNewAssignments(count int) {
	if count <= 0 {
		return
	}
	m.newAssignments.Add(float64(count))

	m.mu.Lock()
	m.newFound += int64(count)
	m.mu.Unlock()
}

// SetAssignments устанавливает размер снимка
func (m *Metrics) SetAssignments(count int) {
	m.assignmentGauge.Set(float64(count))

	m.mu.Lock()
	m.assignments = count
	m.mu.Unlock()
}

// RecordSubmission записывает результат отправки
func (m *Metrics) RecordSubmission(lms string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.submissions.WithLabelValues(lms, result).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.submitFailures++
	} else {
		m.submitted++
	}
}

// RecordNotification записывает доставку уведомления
func (m *Metrics) RecordNotification(sink string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(sink, result).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.deliverErrors++
	} else {
		m.delivered++
	}
}

// SetState устанавливает текущее состояние движка
func (m *Metrics) SetState(state string) {
	for _, s := range states {
		value := 0.0
		if s == state {
			value = 1
		}
		m.stateGauge.WithLabelValues(s).Set(value)
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// SetNextCheck устанавливает время следующей проверки
func (m *Metrics) SetNextCheck(next time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextCheck = next
}

// GetStats возвращает все метрики в виде map
func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"checker": map[string]interface{}{
			"state":          m.state,
			"total_cycles":   m.totalCycles,
			"failed_cycles":  m.failedCycles,
			"skipped_cycles": m.skippedCycles,
			"avg_cycle_time": m.formatDuration(m.avgCycleTime),
			"last_check":     m.formatTime(m.lastCheck),
			"next_check":     m.formatTime(m.nextCheck),
		},
		"assignments": map[string]interface{}{
			"tracked":   m.assignments,
			"new_found": m.newFound,
		},
		"submissions": map[string]interface{}{
			"succeeded": m.submitted,
			"failed":    m.submitFailures,
		},
		"notifications": map[string]interface{}{
			"delivered": m.delivered,
			"failed":    m.deliverErrors,
		},
		"system": map[string]interface{}{
			"uptime": m.formatDuration(time.Since(m.uptime)),
		},
	}
}

// formatTime форматирует время или возвращает "not set"
func (m *Metrics) formatTime(t time.Time) string {
	if t.IsZero() {
		return notSet
	}
	return t.Format(time.RFC3339)
}

// formatDuration форматирует duration с двумя знаками после запятой
func (m *Metrics) formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}
