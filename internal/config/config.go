// Package config содержит загрузку и валидацию конфигурации.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config представляет конфигурацию приложения
type Config struct {
	// Database (опционально, без нее настройки хранятся в файле)
	DatabaseURL string

	// Хранилище настроек
	SettingsFile   string
	SettingsSecret string

	// LMS значения из окружения имеют приоритет над сохраненными
	LMS LMSConfig

	// Таймауты запросов к LMS
	FetchTimeout  time.Duration
	UploadTimeout time.Duration

	// Telegram
	TelegramBotToken string
	TelegramChatID   int64

	// Уведомления
	NotifyWorkers   int
	NotifyQueueSize int

	// API
	APIPort    string
	APIEnabled bool

	// Health
	HealthPort         string
	HealthCheckEnabled bool

	// Logging
	LogLevel string
	LogPath  string

	// HTTP Client
	HTTPClientConfig HTTPClientConfig

	// Retry
	RetryConfig RetryConfig

	// App Data Directory
	AppDataDir string
}

// LMSConfig представляет настройки LMS из окружения.
// Пустые строки и nil означают "не задано".
type LMSConfig struct {
	Type               string
	URL                string
	APIToken           string
	Username           string
	Password           string
	UseCredentialLogin *bool
	CheckInterval      int
	SoundEnabled       *bool
	AutoDownload       *bool
	DownloadPath       string
}

// HTTPClientConfig представляет конфигурацию HTTP клиента
type HTTPClientConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	DisableKeepAlives     bool
	UserAgent             string
}

// RetryConfig представляет конфигурацию retry механизма
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	// Загружаем .env файл если он существует
	_ = godotenv.Load()

	appDataDir := getEnv("APP_DATA_DIR", "./data")

	config := &Config{
		DatabaseURL:    getEnv("DB_DSN", ""),
		SettingsFile:   getEnv("SETTINGS_FILE", appDataDir+"/settings.json"),
		SettingsSecret: getEnv("SETTINGS_SECRET", ""),
		LMS: LMSConfig{
			Type:               getEnv("LMS_TYPE", ""),
			URL:                getEnv("LMS_URL", ""),
			APIToken:           getEnv("LMS_API_TOKEN", ""),
			Username:           getEnv("LMS_USERNAME", ""),
			Password:           getEnv("LMS_PASSWORD", ""),
			UseCredentialLogin: getEnvBoolPtr("LMS_USE_CREDENTIAL_LOGIN"),
			CheckInterval:      getEnvInt("CHECK_INTERVAL", 0),
			SoundEnabled:       getEnvBoolPtr("SOUND_ENABLED"),
			AutoDownload:       getEnvBoolPtr("AUTO_DOWNLOAD"),
			DownloadPath:       getEnv("DOWNLOAD_PATH", ""),
		},
		FetchTimeout:       getEnvDuration("FETCH_TIMEOUT", 60*time.Second),
		UploadTimeout:      getEnvDuration("UPLOAD_TIMEOUT", 5*time.Minute),
		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:     getEnvInt64("TELEGRAM_CHAT_ID", 0),
		NotifyWorkers:      getEnvInt("NOTIFY_WORKERS", 2),
		NotifyQueueSize:    getEnvInt("NOTIFY_QUEUE_SIZE", 100),
		APIPort:            getEnv("API_PORT", "8090"),
		APIEnabled:         getEnvBool("API_ENABLED", true),
		HealthPort:         getEnv("HEALTH_PORT", "8080"),
		HealthCheckEnabled: getEnvBool("HEALTH_CHECK_ENABLED", true),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogPath:            getEnv("LOG_PATH", ""),
		HTTPClientConfig: HTTPClientConfig{
			MaxIdleConns:          getEnvInt("HTTP_MAX_IDLE_CONNS", 100),
			MaxIdleConnsPerHost:   getEnvInt("HTTP_MAX_IDLE_CONNS_PER_HOST", 10),
			IdleConnTimeout:       getEnvDuration("HTTP_IDLE_CONN_TIMEOUT", 90*time.Second),
			TLSHandshakeTimeout:   getEnvDuration("HTTP_TLS_HANDSHAKE_TIMEOUT", 10*time.Second),
			ResponseHeaderTimeout: getEnvDuration("HTTP_RESPONSE_HEADER_TIMEOUT", 30*time.Second),
			DisableKeepAlives:     getEnvBool("HTTP_DISABLE_KEEP_ALIVES", false),
			UserAgent:             getEnv("HTTP_USER_AGENT", "LMS-Center/1.0"),
		},
		RetryConfig: RetryConfig{
			MaxRetries:        getEnvInt("RETRY_MAX_RETRIES", 2),
			InitialDelay:      getEnvDuration("RETRY_INITIAL_DELAY", 1*time.Second),
			MaxDelay:          getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
			BackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
		},
		AppDataDir: appDataDir,
	}

	// Валидация обязательных полей
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// GetAppDataDir возвращает директорию данных приложения
func (c *Config) GetAppDataDir() string {
	return c.AppDataDir
}

// TelegramEnabled сообщает, настроены ли уведомления в Telegram
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && c.SettingsFile == "" {
		return fmt.Errorf("either DB_DSN or SETTINGS_FILE is required")
	}

	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be positive")
	}

	if c.UploadTimeout < c.FetchTimeout {
		return fmt.Errorf("UPLOAD_TIMEOUT must not be shorter than FETCH_TIMEOUT")
	}

	if c.LMS.CheckInterval < 0 || c.LMS.CheckInterval > 1440 {
		return fmt.Errorf("CHECK_INTERVAL must be between 1 and 1440 minutes")
	}

	if (c.TelegramBotToken == "") != (c.TelegramChatID == 0) {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}

	if c.NotifyWorkers <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS must be positive")
	}

	if c.HealthCheckEnabled {
		if err := validatePort(c.HealthPort); err != nil {
			return fmt.Errorf("invalid HEALTH_PORT: %w", err)
		}
	}

	if c.APIEnabled {
		if err := validatePort(c.APIPort); err != nil {
			return fmt.Errorf("invalid API_PORT: %w", err)
		}
	}

	if c.RetryConfig.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must not be negative")
	}

	if c.RetryConfig.BackoffMultiplier < 1 {
		return fmt.Errorf("RETRY_BACKOFF_MULTIPLIER must be at least 1")
	}

	return nil
}

// validatePort проверяет номер порта
func validatePort(port string) error {
	value, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("port must be a number: %w", err)
	}
	if value < 1 || value > 65535 {
		return fmt.Errorf("port %d is out of range", value)
	}
	return nil
}

// getEnv получает переменную окружения с значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает переменную окружения как int
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 получает переменную окружения как int64
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration получает переменную окружения как time.Duration
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool получает переменную окружения как bool
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvBoolPtr получает переменную окружения как *bool, nil если не задана
func getEnvBoolPtr(key string) *bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return &boolValue
		}
	}
	return nil
}

// getEnvFloat получает переменную окружения как float64
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
