// Package config содержит утилиты для загрузки конфигурации
package config

import (
	"strconv"
	"strings"

	"lmscenter/internal/model"

	"go.uber.org/zap"
)

// secretKeys ключи, значения которых не пишутся в лог
var secretKeys = map[string]bool{
	model.SettingAPIToken: true,
	model.SettingPassword: true,
}

// ConfigLoader собирает настройки LMS из окружения и сохраненных значений
type ConfigLoader struct {
	logger *zap.Logger
}

// NewConfigLoader создает новый загрузчик конфигурации
func NewConfigLoader(logger *zap.Logger) *ConfigLoader {
	return &ConfigLoader{
		logger: logger,
	}
}

// LoadConfigValue загружает значение с приоритетом: env > сохраненное значение
func (cl *ConfigLoader) LoadConfigValue(envValue, configKey string, stored map[string]string) string {
	if envValue != "" {
		cl.logger.Debug("Using "+configKey+" from environment variables", cl.valueField(configKey, envValue))
		return envValue
	}

	if value, ok := stored[configKey]; ok && value != "" {
		cl.logger.Debug("Loaded "+configKey+" from settings store", cl.valueField(configKey, value))
		return value
	}
	return ""
}

// LoadConfigValueWithSetter загружает значение и устанавливает его через setter
func (cl *ConfigLoader) LoadConfigValueWithSetter(envValue, configKey string, stored map[string]string, setter func(string)) string {
	value := cl.LoadConfigValue(envValue, configKey, stored)
	if value != "" {
		setter(value)
	}
	return value
}

// LoadLMSConfig собирает настройки LMS: env > сохраненное значение > значение по умолчанию
func (cl *ConfigLoader) LoadLMSConfig(env LMSConfig, stored map[string]string) model.LMSConfig {
	cfg := model.DefaultLMSConfig()

	cl.LoadConfigValueWithSetter(env.Type, model.SettingLMSType, stored, func(v string) {
		cfg.LMSType = model.ParseLMSType(v)
	})
	cl.LoadConfigValueWithSetter(env.URL, model.SettingLMSURL, stored, func(v string) {
		cfg.LMSURL = strings.TrimRight(strings.TrimSpace(v), "/")
	})
	cl.LoadConfigValueWithSetter(env.APIToken, model.SettingAPIToken, stored, func(v string) {
		cfg.APIToken = v
	})
	cl.LoadConfigValueWithSetter(env.Username, model.SettingUsername, stored, func(v string) {
		cfg.Username = v
	})
	cl.LoadConfigValueWithSetter(env.Password, model.SettingPassword, stored, func(v string) {
		cfg.Password = v
	})
	cl.LoadConfigValueWithSetter(boolString(env.UseCredentialLogin), model.SettingUseCredentialLogin, stored, func(v string) {
		cfg.UseCredentialLogin = cl.parseBool(model.SettingUseCredentialLogin, v, cfg.UseCredentialLogin)
	})
	cl.LoadConfigValueWithSetter(intString(env.CheckInterval), model.SettingCheckInterval, stored, func(v string) {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CheckInterval = n
		} else {
			cl.logger.Warn("Invalid check interval, using default", zap.String("value", v))
		}
	})
	cl.LoadConfigValueWithSetter(boolString(env.SoundEnabled), model.SettingSoundEnabled, stored, func(v string) {
		cfg.SoundEnabled = cl.parseBool(model.SettingSoundEnabled, v, cfg.SoundEnabled)
	})
	cl.LoadConfigValueWithSetter(boolString(env.AutoDownload), model.SettingAutoDownload, stored, func(v string) {
		cfg.AutoDownload = cl.parseBool(model.SettingAutoDownload, v, cfg.AutoDownload)
	})
	cl.LoadConfigValueWithSetter(env.DownloadPath, model.SettingDownloadPath, stored, func(v string) {
		cfg.DownloadPath = v
	})

	return cfg
}

func (cl *ConfigLoader) parseBool(key, value string, fallback bool) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		cl.logger.Warn("Invalid boolean setting, using default", zap.String("key", key), zap.String("value", value))
		return fallback
	}
	return b
}

func (cl *ConfigLoader) valueField(key, value string) zap.Field {
	if secretKeys[key] {
		return zap.String("value", "[redacted]")
	}
	return zap.String("value", value)
}

func boolString(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}

func intString(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
