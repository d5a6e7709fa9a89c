// Package filestore хранит настройки в JSON файле, когда база данных не настроена.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lmscenter/internal/model"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Store файловое хранилище настроек.
// Файл перечитывается, если его изменили снаружи.
type Store struct {
	mu      sync.Mutex
	path    string
	values  map[string]string
	modTime time.Time
	logger  *zap.Logger
}

// Убеждаемся, что Store реализует model.SettingsRepository
var _ model.SettingsRepository = (*Store)(nil)

// Open читает файл настроек. Отсутствующий файл означает пустые настройки.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		values: make(map[string]string),
		logger: logger,
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	if len(s.values) == 0 {
		logger.Info("Settings file is empty or missing", zap.String("path", path))
	} else {
		logger.Info("Settings loaded from file",
			zap.String("path", path),
			zap.Int("keys", len(s.values)))
	}
	return s, nil
}

// load читает файл через viper. Вызывается под s.mu.
func (s *Store) load() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.values = make(map[string]string)
		s.modTime = time.Time{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat settings file %s: %w", s.path, err)
	}

	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read settings file %s: %w", s.path, err)
	}

	values := make(map[string]string)
	for _, key := range v.AllKeys() {
		values[key] = v.GetString(key)
	}
	s.values = values
	s.modTime = info.ModTime()
	return nil
}

// refresh перечитывает файл, если он изменился с последнего чтения или записи.
// Ошибка чтения оставляет прежние значения. Вызывается под s.mu.
func (s *Store) refresh() {
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !s.modTime.IsZero() {
			s.logger.Warn("Settings file was removed", zap.String("path", s.path))
			s.values = make(map[string]string)
			s.modTime = time.Time{}
		}
		return
	}
	if info.ModTime().Equal(s.modTime) {
		return
	}

	if err := s.load(); err != nil {
		s.logger.Error("Failed to reload settings file, keeping previous values", zap.Error(err))
		return
	}
	s.logger.Info("Settings file changed, reloaded", zap.String("path", s.path))
}

// Get возвращает значение по ключу
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	value, ok := s.values[key]
	return value, ok, nil
}

// GetAll возвращает копию всех настроек
func (s *Store) GetAll(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out, nil
}

// Set сохраняет значение и записывает файл
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()

	prev, existed := s.values[key]
	s.values[key] = value
	if err := s.flush(); err != nil {
		if existed {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
		return err
	}
	return nil
}

// Delete удаляет значение и записывает файл
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh()

	prev, existed := s.values[key]
	if !existed {
		return nil
	}
	delete(s.values, key)
	if err := s.flush(); err != nil {
		s.values[key] = prev
		return err
	}
	return nil
}

// Path возвращает путь к файлу настроек
func (s *Store) Path() string {
	return s.path
}

// flush записывает настройки во временный файл и подменяет им основной.
// Вызывается под s.mu.
func (s *Store) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	for k, val := range s.values {
		v.Set(k, val)
	}

	tmp := s.path + ".tmp.json"
	if err := v.WriteConfigAs(tmp); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		s.logger.Warn("Failed to restrict settings file permissions", zap.Error(err))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}

	s.logger.Debug("Settings file written", zap.String("path", s.path), zap.Int("keys", len(s.values)))
	return nil
}
