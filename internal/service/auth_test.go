package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuth() *AuthService {
	cfg := lmshttp.DefaultConfig()
	cfg.Timeout = 2 * time.Second
	return NewAuthService(lmshttp.NewClient(cfg, zap.NewNop()), zap.NewNop())
}

func TestAuthService_CanvasLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/login/oauth2/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))

		if r.PostForm.Get("password") != "hunter2" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_grant",
				"error_description": "Invalid username or password",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "canvas-access",
			"refresh_token": "canvas-refresh",
		})
	}))
	defer server.Close()

	auth := newTestAuth()

	result, err := auth.Login(context.Background(), Credentials{
		LMSType:  model.LMSCanvas,
		URL:      server.URL + "/",
		Username: "student",
		Password: "hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, "canvas-access", result.AccessToken)
	assert.Equal(t, "canvas-refresh", result.RefreshToken)

	_, err = auth.Login(context.Background(), Credentials{
		LMSType:  model.LMSCanvas,
		URL:      server.URL,
		Username: "student",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid username or password")
}

func TestAuthService_MoodleLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login/token.php", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "moodle_mobile_app", r.PostForm.Get("service"))

		if r.PostForm.Get("password") != "secret" {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":     "Invalid login, please try again",
				"errorcode": "invalidlogin",
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "moodle-token", "privatetoken": "p"})
	}))
	defer server.Close()

	auth := newTestAuth()

	result, err := auth.Login(context.Background(), Credentials{
		LMSType:  model.LMSMoodle,
		URL:      server.URL,
		Username: "student",
		Password: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "moodle-token", result.AccessToken)
	assert.Empty(t, result.RefreshToken)

	_, err = auth.Login(context.Background(), Credentials{
		LMSType:  model.LMSMoodle,
		URL:      server.URL,
		Username: "student",
		Password: "nope",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login")
}

func TestAuthService_LoginValidation(t *testing.T) {
	auth := newTestAuth()

	_, err := auth.Login(context.Background(), Credentials{LMSType: model.LMSCanvas, URL: "https://canvas.test"})
	assert.Error(t, err)

	_, err = auth.Login(context.Background(), Credentials{
		LMSType:  model.LMSBlackboard,
		URL:      "https://bb.test",
		Username: "u",
		Password: "p",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotImplemented))
}

func TestAuthService_RefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "fresh"})
	}))
	defer server.Close()

	auth := newTestAuth()

	result, err := auth.RefreshToken(context.Background(), model.LMSCanvas, server.URL, "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "fresh", result.AccessToken)

	_, err = auth.RefreshToken(context.Background(), model.LMSMoodle, server.URL, "old-refresh")
	assert.True(t, errors.Is(err, model.ErrRefreshNotSupported))

	_, err = auth.RefreshToken(context.Background(), model.LMSCanvas, server.URL, "")
	assert.Error(t, err)
}
