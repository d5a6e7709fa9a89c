package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"lmscenter/internal/config"
	"lmscenter/internal/model"
	"lmscenter/pkg/secret"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// settingKeys все ключи настроек LMS
var settingKeys = []string{
	model.SettingLMSType,
	model.SettingLMSURL,
	model.SettingAPIToken,
	model.SettingUsername,
	model.SettingPassword,
	model.SettingUseCredentialLogin,
	model.SettingCheckInterval,
	model.SettingSoundEnabled,
	model.SettingAutoDownload,
	model.SettingDownloadPath,
}

// SettingsManager хранит настройки LMS и отдает их движку опроса.
// Токен и пароль хранятся зашифрованными.
type SettingsManager struct {
	repo     model.SettingsRepository
	loader   *config.ConfigLoader
	env      config.LMSConfig
	box      *secret.Box
	validate *validator.Validate
	logger   *zap.Logger
}

// Убеждаемся, что SettingsManager реализует SettingsManagerInterface
var _ SettingsManagerInterface = (*SettingsManager)(nil)

// NewSettingsManager создает менеджер настроек
func NewSettingsManager(repo model.SettingsRepository, env config.LMSConfig, box *secret.Box, logger *zap.Logger) *SettingsManager {
	return &SettingsManager{
		repo:     repo,
		loader:   config.NewConfigLoader(logger),
		env:      env,
		box:      box,
		validate: validator.New(),
		logger:   logger,
	}
}

// GetSettings возвращает настройки: env > сохраненное значение > значение по умолчанию.
// Ошибка хранилища не прерывает работу: используются env и значения по умолчанию.
func (m *SettingsManager) GetSettings(ctx context.Context) model.LMSConfig {
	stored, err := m.repo.GetAll(ctx)
	if err != nil {
		m.logger.Error("Failed to load stored settings", zap.Error(err))
		stored = map[string]string{}
	}

	for _, key := range []string{model.SettingAPIToken, model.SettingPassword} {
		value, ok := stored[key]
		if !ok {
			continue
		}
		plain, err := m.box.Open(value)
		if err != nil {
			m.logger.Error("Failed to decrypt stored secret, ignoring it", zap.String("key", key), zap.Error(err))
			delete(stored, key)
			continue
		}
		stored[key] = plain
	}

	return m.loader.LoadLMSConfig(m.env, stored)
}

// IsConfigured сообщает, достаточно ли настроек для подключения
func (m *SettingsManager) IsConfigured(ctx context.Context) bool {
	return m.GetSettings(ctx).IsComplete()
}

// Save проверяет и сохраняет настройки.
// Пустой секрет удаляет сохраненный, маска из ответа API оставляет его без изменений.
func (m *SettingsManager) Save(ctx context.Context, cfg model.LMSConfig) error {
	cfg.LMSType = model.ParseLMSType(cfg.LMSType.String())
	cfg.LMSURL = strings.TrimRight(strings.TrimSpace(cfg.LMSURL), "/")
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = model.DefaultCheckInterval
	}

	if err := m.validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	values := map[string]string{
		model.SettingLMSType:            cfg.LMSType.String(),
		model.SettingLMSURL:             cfg.LMSURL,
		model.SettingAPIToken:           cfg.APIToken,
		model.SettingUsername:           cfg.Username,
		model.SettingPassword:           cfg.Password,
		model.SettingUseCredentialLogin: strconv.FormatBool(cfg.UseCredentialLogin),
		model.SettingCheckInterval:      strconv.Itoa(cfg.CheckInterval),
		model.SettingSoundEnabled:       strconv.FormatBool(cfg.SoundEnabled),
		model.SettingAutoDownload:       strconv.FormatBool(cfg.AutoDownload),
		model.SettingDownloadPath:       cfg.DownloadPath,
	}

	for _, key := range settingKeys {
		value := values[key]
		if isSecretKey(key) {
			if value == model.RedactedValue {
				continue
			}
			sealed, err := m.box.Seal(value)
			if err != nil {
				return fmt.Errorf("failed to encrypt %s: %w", key, err)
			}
			value = sealed
		}

		if value == "" {
			if err := m.repo.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to delete setting %s: %w", key, err)
			}
			continue
		}
		if err := m.repo.Set(ctx, key, value); err != nil {
			return fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}

	m.logger.Info("Settings saved",
		zap.String("lms", cfg.LMSType.String()),
		zap.String("url", cfg.LMSURL),
		zap.Bool("credential_login", cfg.UseCredentialLogin),
		zap.Int("interval_minutes", cfg.CheckInterval))
	return nil
}

// SaveToken сохраняет токен, полученный после входа по паролю
func (m *SettingsManager) SaveToken(ctx context.Context, token string) error {
	sealed, err := m.box.Seal(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}
	if err := m.repo.Set(ctx, model.SettingAPIToken, sealed); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	m.logger.Info("LMS token saved")
	return nil
}

// Clear удаляет все сохраненные настройки
func (m *SettingsManager) Clear(ctx context.Context) error {
	for _, key := range settingKeys {
		if err := m.repo.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete setting %s: %w", key, err)
		}
	}
	m.logger.Info("Settings cleared")
	return nil
}

func isSecretKey(key string) bool {
	return key == model.SettingAPIToken || key == model.SettingPassword
}
