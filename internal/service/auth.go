package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/model"

	"go.uber.org/zap"
)

// moodleService сервис веб-сервисов, через который выдаются токены
const moodleService = "moodle_mobile_app"

// Credentials данные для входа по логину и паролю.
// Не сохраняются после завершения вызова.
type Credentials struct {
	LMSType  model.LMSType
	URL      string
	Username string
	Password string
}

// TokenResult результат обмена учетных данных на токен
type TokenResult struct {
	AccessToken  string
	RefreshToken string
}

// AuthService обменивает логин и пароль на токен доступа LMS
type AuthService struct {
	http   *lmshttp.Client
	logger *zap.Logger
}

// Убеждаемся, что AuthService реализует AuthServiceInterface
var _ AuthServiceInterface = (*AuthService)(nil)

// NewAuthService создает новый сервис авторизации
func NewAuthService(httpClient *lmshttp.Client, logger *zap.Logger) *AuthService {
	return &AuthService{
		http:   httpClient,
		logger: logger,
	}
}

// Login выполняет вход с паролем и возвращает токен доступа
func (s *AuthService) Login(ctx context.Context, creds Credentials) (*TokenResult, error) {
	if creds.URL == "" || creds.Username == "" || creds.Password == "" {
		return nil, errors.New("url, username and password are required")
	}

	base := strings.TrimRight(creds.URL, "/")

	var (
		result *TokenResult
		err    error
	)
	switch creds.LMSType {
	case model.LMSCanvas:
		result, err = s.canvasToken(ctx, base, url.Values{
			"grant_type": {"password"},
			"username":   {creds.Username},
			"password":   {creds.Password},
		})
	case model.LMSMoodle:
		result, err = s.moodleLogin(ctx, base, creds)
	default:
		return nil, fmt.Errorf("login for %s: %w", creds.LMSType.DisplayName(), model.ErrNotImplemented)
	}

	if err != nil {
		s.logger.Warn("LMS login failed",
			zap.String("lms", creds.LMSType.String()),
			zap.String("username", creds.Username),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("LMS login succeeded",
		zap.String("lms", creds.LMSType.String()),
		zap.String("username", creds.Username))
	return result, nil
}

// RefreshToken обновляет токен там, где бэкенд поддерживает refresh grant
func (s *AuthService) RefreshToken(ctx context.Context, lmsType model.LMSType, siteURL, refreshToken string) (*TokenResult, error) {
	if lmsType != model.LMSCanvas {
		return nil, model.ErrRefreshNotSupported
	}
	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}

	return s.canvasToken(ctx, strings.TrimRight(siteURL, "/"), url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

type canvasTokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"message"`
}

// canvasToken обращается к OAuth2 endpoint Canvas
func (s *AuthService) canvasToken(ctx context.Context, base string, form url.Values) (*TokenResult, error) {
	body, err := s.postForm(ctx, base+"/login/oauth2/token", form)

	var resp canvasTokenResponse
	if len(body) > 0 {
		_ = json.Unmarshal(body, &resp)
	}

	if err != nil {
		if msg := firstNonEmpty(resp.ErrorDescription, resp.Message, resp.Error); msg != "" {
			return nil, fmt.Errorf("canvas login failed: %s", msg)
		}
		return nil, fmt.Errorf("canvas login failed: %w", err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("canvas login failed: %s", firstNonEmpty(resp.ErrorDescription, resp.Error, "no access token in response"))
	}

	return &TokenResult{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

type moodleTokenResponse struct {
	Token        string `json:"token"`
	PrivateToken string `json:"privatetoken"`
	Error        string `json:"error"`
	ErrorCode    string `json:"errorcode"`
}

// moodleLogin получает токен через login/token.php
func (s *AuthService) moodleLogin(ctx context.Context, base string, creds Credentials) (*TokenResult, error) {
	body, err := s.postForm(ctx, base+"/login/token.php", url.Values{
		"username": {creds.Username},
		"password": {creds.Password},
		"service":  {moodleService},
	})
	if err != nil {
		return nil, fmt.Errorf("moodle login failed: %w", err)
	}

	var resp moodleTokenResponse
	if err := lmshttp.DecodeJSON(body, &resp); err != nil {
		return nil, fmt.Errorf("moodle login failed: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("moodle login failed: %s", firstNonEmpty(resp.Error, resp.ErrorCode, "no token in response"))
	}

	return &TokenResult{AccessToken: resp.Token}, nil
}

// postForm отправляет форму без повторов. При ошибке статуса тело тоже возвращается.
func (s *AuthService) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	encoded := form.Encode()
	resp, err := s.http.Send(ctx, lmshttp.Request{
		Method:      http.MethodPost,
		URL:         endpoint,
		ContentType: "application/x-www-form-urlencoded",
		Body: func() (io.Reader, error) {
			return strings.NewReader(encoded), nil
		},
	})
	if err != nil {
		var statusErr *lmshttp.StatusError
		if errors.As(err, &statusErr) {
			return []byte(statusErr.Body), err
		}
		return nil, err
	}
	return resp.Body, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
