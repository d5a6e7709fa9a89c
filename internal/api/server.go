// Package api содержит локальный HTTP API для интерфейса пользователя.
package api

import (
	"context"
	"net/http"
	"time"

	"lmscenter/internal/infrastructure/debounce"
	"lmscenter/internal/infrastructure/worker"
	"lmscenter/internal/model"
	"lmscenter/internal/service"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Downloader загружает вложения на диск
type Downloader interface {
	DownloadAll(ctx context.Context, cfg model.LMSConfig, attachments []model.FileAttachment, dir string) []service.DownloadResult
}

// NotificationHistory отдает последние уведомления
type NotificationHistory interface {
	Recent(ctx context.Context, limit int) []model.Notification
}

// StatsProvider отдает сводку метрик
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// JobStats отдает метрики фоновых задач
type JobStats interface {
	GetMetrics() worker.Metrics
}

// Deps зависимости API. Все, кроме Checker и Settings, могут быть nil.
type Deps struct {
	Checker      service.CheckerInterface
	Settings     service.SettingsManagerInterface
	Auth         service.AuthServiceInterface
	Downloader   Downloader
	History      NotificationHistory
	Broker       *service.Broker
	Stats        StatsProvider
	Jobs         JobStats
	Debouncer    debounce.DebouncerInterface
	DownloadRoot string
}

// Server представляет HTTP сервер API
type Server struct {
	deps   Deps
	router *mux.Router
	server *http.Server
	logger *zap.Logger
}

// NewServer создает сервер API и регистрирует маршруты
func NewServer(port string, deps Deps, logger *zap.Logger) *Server {
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		logger: logger,
	}
	s.routes()

	s.server = &http.Server{
		Addr:              "127.0.0.1:" + port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.recoverMiddleware, s.logMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/assignments", s.handleAssignments).Methods(http.MethodGet)
	api.HandleFunc("/courses", s.handleCourses).Methods(http.MethodGet)
	api.HandleFunc("/lectures", s.handleLectures).Methods(http.MethodGet)
	api.HandleFunc("/check", s.handleCheck).Methods(http.MethodPost)
	api.HandleFunc("/restart", s.handleRestart).Methods(http.MethodPost)
	api.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings", s.handleClearSettings).Methods(http.MethodDelete)
	api.HandleFunc("/downloads", s.handleDownloads).Methods(http.MethodPost)
	api.HandleFunc("/notifications", s.handleNotifications).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
}

// Handler возвращает маршрутизатор
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start запускает сервер API
func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

// Stop останавливает сервер API
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// allow сообщает, можно ли выполнить ручное действие сейчас
func (s *Server) allow(key string) bool {
	if s.deps.Debouncer == nil {
		return true
	}
	return s.deps.Debouncer.CanProcessRequest(key)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Panic in API handler",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
