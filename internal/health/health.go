// Package health содержит health check сервер и эндпоинт метрик.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lmscenter/internal/service"

	"go.uber.org/zap"
)

const version = "1.0.0"

// Server представляет HTTP сервер для health check
type Server struct {
	server    *http.Server
	logger    *zap.Logger
	startTime time.Time
	checker   CheckerStatus
	db        DatabaseInterface
	pool      PoolStats
}

var _ ServerInterface = (*Server)(nil)

// Status представляет статус здоровья системы
type Status struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Uptime     string            `json:"uptime"`
	Version    string            `json:"version"`
	Checker    string            `json:"checker,omitempty"`
	LastError  string            `json:"lastError,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// NewServer создает новый health check сервер.
// db и pool могут быть nil, metricsHandler тоже.
func NewServer(port string, logger *zap.Logger, checker CheckerStatus, db DatabaseInterface, pool PoolStats, metricsHandler http.Handler) *Server {
	mux := http.NewServeMux()

	hs := &Server{
		server: &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:    logger,
		startTime: time.Now(),
		checker:   checker,
		db:        db,
		pool:      pool,
	}

	// Регистрируем маршруты
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/live", hs.liveHandler)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	return hs
}

// Handler возвращает обработчик маршрутов
func (hs *Server) Handler() http.Handler {
	return hs.server.Handler
}

// Start запускает health check сервер
func (hs *Server) Start() error {
	hs.logger.Info("Starting health check server", zap.String("addr", hs.server.Addr))
	return hs.server.ListenAndServe()
}

// Stop останавливает health check сервер
func (hs *Server) Stop(ctx context.Context) error {
	hs.logger.Info("Stopping health check server")
	return hs.server.Shutdown(ctx)
}

// formatDuration форматирует время в читаемый формат (например: 8s)
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

// healthHandler обрабатывает запросы /health.
// Ошибка LMS не делает процесс нездоровым, нездорова только недоступная база.
func (hs *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	components := hs.checkComponents(r.Context())

	status := hs.newStatus("healthy", components)
	code := http.StatusOK
	if components["database"] == "unhealthy" {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	hs.writeStatus(w, code, status)
}

// readyHandler обрабатывает запросы /ready.
// Готовность означает, что движок подключен к LMS и опрашивает ее.
func (hs *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	components := hs.checkComponents(r.Context())

	overallStatus := "ready"
	for _, status := range components {
		if status != "healthy" {
			overallStatus = "not ready"
			break
		}
	}

	status := hs.newStatus(overallStatus, components)
	if overallStatus != "ready" {
		hs.logger.Debug("Readiness check failed",
			zap.Any("components", components),
			zap.String("checker", status.Checker))
		hs.writeStatus(w, http.StatusServiceUnavailable, status)
		return
	}

	hs.writeStatus(w, http.StatusOK, status)
}

// liveHandler обрабатывает запросы /live
func (hs *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	hs.writeStatus(w, http.StatusOK, Status{
		Status:    "alive",
		Timestamp: time.Now(),
		Uptime:    formatDuration(time.Since(hs.startTime)),
		Version:   version,
	})
}

func (hs *Server) newStatus(overall string, components map[string]string) Status {
	status := Status{
		Status:     overall,
		Timestamp:  time.Now(),
		Uptime:     formatDuration(time.Since(hs.startTime)),
		Version:    version,
		Components: components,
	}
	if hs.checker != nil {
		checker := hs.checker.Status()
		status.Checker = string(checker.State)
		status.LastError = checker.LastError
	}
	return status
}

func (hs *Server) writeStatus(w http.ResponseWriter, code int, status Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		hs.logger.Error("Failed to encode health status", zap.Error(err))
	}
}

// checkComponents проверяет состояние всех компонентов
func (hs *Server) checkComponents(ctx context.Context) map[string]string {
	components := make(map[string]string)

	// Проверка движка опроса
	if hs.checker != nil {
		switch hs.checker.Status().State {
		case service.StatePolling, service.StateCheckingNow:
			components["lms"] = "healthy"
		default:
			components["lms"] = "unhealthy"
		}
	}

	// Проверка базы данных
	if hs.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := hs.db.Ping(pingCtx); err != nil {
			components["database"] = "unhealthy"
			hs.logger.Error("Database check failed", zap.Error(err))
		} else {
			components["database"] = "healthy"
		}
	}

	// Проверка пула уведомлений
	if hs.pool != nil {
		if hs.pool.GetQueueSize() >= 0 {
			components["notification_pool"] = "healthy"
		} else {
			components["notification_pool"] = "unhealthy"
		}
	}

	return components
}
