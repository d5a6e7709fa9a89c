package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	store, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	values, err := store.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, values)

	_, ok, err := store.Get(context.Background(), "lms_url")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "settings.json")
	ctx := context.Background()

	store, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "lms_type", "moodle"))
	require.NoError(t, store.Set(ctx, "lms_url", "https://moodle.test"))
	require.NoError(t, store.Set(ctx, "check_interval", "30"))
	require.NoError(t, store.Delete(ctx, "lms_type"))

	_, err = os.Stat(path + ".tmp.json")
	assert.True(t, os.IsNotExist(err))

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	values, err := reopened.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"lms_url":        "https://moodle.test",
		"check_interval": "30",
	}, values)
}

func TestStore_DeleteMissingKey(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "settings.json"), zap.NewNop())
	require.NoError(t, err)

	assert.NoError(t, store.Delete(context.Background(), "password"))
}

func TestStore_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := Open(path, zap.NewNop())
	assert.Error(t, err)
}

func TestStore_ReloadsExternalEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	ctx := context.Background()

	store, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "lms_url", "https://canvas.test"))

	require.NoError(t, os.WriteFile(path, []byte(`{"lms_url":"https://moodle.test","lms_type":"moodle"}`), 0o600))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	value, ok, err := store.Get(ctx, "lms_url")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://moodle.test", value)

	// Битый файл не затирает прочитанные значения
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	later := future.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	values, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "moodle", values["lms_type"])
}
