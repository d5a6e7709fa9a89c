// Package model содержит модели данных.
//
// Группа: ENTITIES - Настройки
// Содержит: LMSConfig, Setting, SettingsRepository
package model

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

// Ключи хранимых настроек
const (
	SettingLMSType            = "lms_type"
	SettingLMSURL             = "lms_url"
	SettingAPIToken           = "api_token"
	SettingUsername           = "username"
	SettingPassword           = "password"
	SettingUseCredentialLogin = "use_credential_login"
	SettingCheckInterval      = "check_interval"
	SettingSoundEnabled       = "sound_enabled"
	SettingAutoDownload       = "auto_download"
	SettingDownloadPath       = "download_path"
)

// RedactedValue маска секрета в ответах API
const RedactedValue = "********"

// Значения по умолчанию
const (
	DefaultCheckInterval = 15
	DefaultLMSType       = LMSCanvas
)

// LMSConfig представляет настройки подключения к LMS.
// Читается целиком при каждой инициализации или перезапуске движка опроса.
type LMSConfig struct {
	LMSType            LMSType `json:"lmsType" validate:"required,oneof=canvas moodle blackboard"`
	LMSURL             string  `json:"lmsUrl" validate:"omitempty,url"`
	APIToken           string  `json:"apiToken,omitempty"`
	Username           string  `json:"username,omitempty"`
	Password           string  `json:"password,omitempty"`
	UseCredentialLogin bool    `json:"useCredentialLogin"`
	// CheckInterval интервал опроса в минутах
	CheckInterval int    `json:"checkInterval" validate:"min=1,max=1440"`
	SoundEnabled  bool   `json:"soundEnabled"`
	AutoDownload  bool   `json:"autoDownload"`
	DownloadPath  string `json:"downloadPath,omitempty"`
}

// DefaultLMSConfig возвращает настройки по умолчанию
func DefaultLMSConfig() LMSConfig {
	return LMSConfig{
		LMSType:            DefaultLMSType,
		CheckInterval:      DefaultCheckInterval,
		SoundEnabled:       true,
		UseCredentialLogin: true,
	}
}

// IsComplete сообщает, достаточно ли настроек для подключения.
// В режиме входа по логину нужны имя и пароль, иначе токен.
func (c LMSConfig) IsComplete() bool {
	if c.LMSURL == "" {
		return false
	}
	if c.UseCredentialLogin {
		return c.Username != "" && c.Password != ""
	}
	return c.APIToken != ""
}

// Interval возвращает интервал опроса
func (c LMSConfig) Interval() time.Duration {
	if c.CheckInterval <= 0 {
		return DefaultCheckInterval * time.Minute
	}
	return time.Duration(c.CheckInterval) * time.Minute
}

// Redacted возвращает копию без секретов для логов и API
func (c LMSConfig) Redacted() LMSConfig {
	if c.APIToken != "" {
		c.APIToken = RedactedValue
	}
	if c.Password != "" {
		c.Password = RedactedValue
	}
	return c
}

// Setting представляет одну сохраненную настройку
type Setting struct {
	bun.BaseModel `bun:"table:settings,alias:s"`

	ID        int       `bun:"id,pk,autoincrement" json:"id"`
	Key       string    `bun:"key,unique,notnull" json:"key"`
	Value     string    `bun:"value,notnull" json:"value"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// SettingsRepository определяет интерфейс хранилища настроек
type SettingsRepository interface {
	// Get возвращает значение и признак его наличия
	Get(ctx context.Context, key string) (string, bool, error)
	GetAll(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
