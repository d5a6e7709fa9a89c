// Package main запускает LMS Center: опрос LMS, уведомления и локальный API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"lmscenter/internal/app"
	"lmscenter/internal/config"
	"lmscenter/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// Инициализация логгера
	log := logger.New(logger.OptionsFromEnv())
	defer func() { _ = log.Sync() }()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Создание контекста
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Обработка сигналов
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutdown signal received")
		cancel()
	}()

	// Создание приложения через фабрику
	application, err := app.NewAppWithFactory(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create application", zap.Error(err))
	}

	// Запуск приложения
	if err := application.Start(ctx); err != nil {
		log.Error("Application stopped with error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}
