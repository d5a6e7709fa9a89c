// Package logger содержит настройку логгера.
package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options параметры логгера
type Options struct {
	Level   string
	Path    string
	DataDir string
}

// OptionsFromEnv читает параметры логгера из окружения
func OptionsFromEnv() Options {
	return Options{
		Level:   os.Getenv("LOG_LEVEL"),
		Path:    os.Getenv("LOG_PATH"),
		DataDir: os.Getenv("APP_DATA_DIR"),
	}
}

// New создает новый логгер: JSON в stdout и в ротируемый файл
func New(opts Options) *zap.Logger {
	level := ParseLevel(opts.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	// Консольный вывод
	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	// Файловый вывод
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   resolveLogPath(opts),
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}),
		level,
	)

	core := zapcore.NewTee(consoleCore, fileCore)

	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)).
		With(zap.String("app", "lmscenter"))
}

// ParseLevel преобразует строку в уровень логирования, по умолчанию info
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// resolveLogPath выбирает путь к файлу логов: LOG_PATH, затем APP_DATA_DIR, затем ./logs
func resolveLogPath(opts Options) string {
	if opts.Path != "" {
		return opts.Path
	}

	if opts.DataDir != "" {
		if err := os.MkdirAll(opts.DataDir, 0755); err == nil {
			return filepath.Join(opts.DataDir, "lmscenter.log")
		}
	}

	if err := os.MkdirAll("logs", 0755); err == nil {
		return filepath.Join("logs", "lmscenter.log")
	}

	return "lmscenter.log"
}
