package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lmscenter/internal/config"
	"lmscenter/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		AppDataDir:      dir,
		SettingsFile:    filepath.Join(dir, "settings.json"),
		SettingsSecret:  "test passphrase",
		FetchTimeout:    time.Second,
		UploadTimeout:   time.Second,
		NotifyWorkers:   1,
		NotifyQueueSize: 10,
		RetryConfig: config.RetryConfig{
			MaxRetries:        0,
			InitialDelay:      time.Millisecond,
			MaxDelay:          time.Millisecond,
			BackoffMultiplier: 2,
		},
	}
}

func TestNewAppWithFactory_FileStore(t *testing.T) {
	cfg := testConfig(t)

	app, err := NewAppWithFactory(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, app.Checker())
	assert.Nil(t, app.db)
	assert.Nil(t, app.api)
	assert.Nil(t, app.health)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Start(ctx) }()

	// Настройки пустые, движок остается в ожидании
	assert.Eventually(t, func() bool {
		return app.Checker().Status().State == service.StateUninitialized
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}

	// Повторная остановка безопасна
	assert.NoError(t, app.Stop())
}

func TestNewAppWithFactory_NilArguments(t *testing.T) {
	_, err := NewAppWithFactory(context.Background(), nil, zap.NewNop())
	assert.Error(t, err)

	_, err = NewAppWithFactory(context.Background(), testConfig(t), nil)
	assert.Error(t, err)
}

func TestComponentFactory_Sinks(t *testing.T) {
	factory := NewComponentFactory(testConfig(t), zap.NewNop())

	sinks := factory.CreateSinks()
	require.Len(t, sinks, 1)
	assert.Equal(t, "log", sinks[0].Name())
	assert.Equal(t, filepath.Join(factory.config.AppDataDir, "downloads"), factory.DownloadRoot())
}
