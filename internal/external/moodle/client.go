// Package moodle содержит клиент Moodle (Web Services REST, JSON формат).
package moodle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/model"

	"go.uber.org/zap"
)

// Client представляет клиент веб-сервисов Moodle
type Client struct {
	siteURL   string
	restURL   string
	uploadURL string
	token     string
	http      *lmshttp.Client
	logger    *zap.Logger
}

// Убеждаемся, что Client реализует model.LMSClient
var _ model.LMSClient = (*Client)(nil)

// NewClient создает новый клиент Moodle
func NewClient(siteURL, token string, httpClient *lmshttp.Client, logger *zap.Logger) *Client {
	siteURL = strings.TrimRight(siteURL, "/")
	return &Client{
		siteURL:   siteURL,
		restURL:   siteURL + "/webservice/rest/server.php",
		uploadURL: siteURL + "/webservice/upload.php",
		token:     token,
		http:      httpClient,
		logger:    logger.With(zap.String("lms", model.LMSMoodle.String())),
	}
}

// Error ошибка, которую Moodle возвращает в теле ответа с кодом 200
type Error struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

// Error реализует интерфейс error
func (e *Error) Error() string {
	code := e.ErrorCode
	if code == "" {
		code = e.Exception
	}
	return fmt.Sprintf("moodle error [%s]: %s", code, e.Message)
}

type envelope struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
	Error     string `json:"error"`
}

// checkEnvelope распознает ошибку внутри успешного HTTP ответа
func checkEnvelope(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil
	}
	if env.Exception == "" && env.ErrorCode == "" && env.Error == "" {
		return nil
	}

	message := env.Message
	if message == "" {
		message = env.Error
	}
	return &Error{Exception: env.Exception, ErrorCode: env.ErrorCode, Message: message}
}

// call вызывает функцию веб-сервиса. Чтения повторяются, записи нет.
func (c *Client) call(ctx context.Context, function string, params url.Values, out any, write bool) error {
	form := url.Values{}
	for k, v := range params {
		form[k] = v
	}
	form.Set("wstoken", c.token)
	form.Set("wsfunction", function)
	form.Set("moodlewsrestformat", "json")
	encoded := form.Encode()

	resp, err := c.http.Send(ctx, lmshttp.Request{
		Method:      http.MethodPost,
		URL:         c.restURL,
		ContentType: "application/x-www-form-urlencoded",
		Body: func() (io.Reader, error) {
			return strings.NewReader(encoded), nil
		},
		Idempotent: !write,
		Upload:     write,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", function, err)
	}

	if err := checkEnvelope(resp.Body); err != nil {
		return fmt.Errorf("%s: %w", function, err)
	}

	if err := lmshttp.DecodeJSON(resp.Body, out); err != nil {
		return fmt.Errorf("%s: %w", function, err)
	}
	return nil
}

// indexed кодирует список значений как name[0]=..&name[1]=..
func indexed(params url.Values, name string, values []string) {
	for i, v := range values {
		params.Set(name+"["+strconv.Itoa(i)+"]", v)
	}
}

type siteInfo struct {
	UserID   int64  `json:"userid"`
	SiteName string `json:"sitename"`
	Username string `json:"username"`
}

// siteInfo возвращает сведения о сайте и текущем пользователе
func (c *Client) siteInfo(ctx context.Context) (*siteInfo, error) {
	var info siteInfo
	if err := c.call(ctx, "core_webservice_get_site_info", url.Values{}, &info, false); err != nil {
		return nil, err
	}
	if info.UserID == 0 {
		return nil, fmt.Errorf("core_webservice_get_site_info: response has no user id")
	}
	return &info, nil
}

// TestConnection проверяет токен запросом сведений о сайте
func (c *Client) TestConnection(ctx context.Context) bool {
	info, err := c.siteInfo(ctx)
	if err != nil {
		c.logger.Warn("Moodle connection test failed", zap.Error(err))
		return false
	}

	c.logger.Info("Connected to Moodle",
		zap.String("site", info.SiteName),
		zap.Int64("user_id", info.UserID))
	return true
}

type apiCourse struct {
	ID        int64  `json:"id"`
	FullName  string `json:"fullname"`
	ShortName string `json:"shortname"`
}

// GetCourses возвращает курсы, на которые записан пользователь
func (c *Client) GetCourses(ctx context.Context) ([]model.Course, error) {
	info, err := c.siteInfo(ctx)
	if err != nil {
		c.logger.Error("Failed to fetch site info", zap.Error(err))
		return []model.Course{}, fmt.Errorf("failed to fetch site info: %w", err)
	}

	courses, err := c.userCourses(ctx, info.UserID)
	if err != nil {
		c.logger.Error("Failed to fetch courses", zap.Error(err))
		return []model.Course{}, fmt.Errorf("failed to fetch courses: %w", err)
	}
	return courses, nil
}

// userCourses возвращает курсы пользователя
func (c *Client) userCourses(ctx context.Context, userID int64) ([]model.Course, error) {
	var raw []apiCourse
	params := url.Values{}
	params.Set("userid", strconv.FormatInt(userID, 10))

	if err := c.call(ctx, "core_enrol_get_users_courses", params, &raw, false); err != nil {
		return nil, err
	}

	courses := make([]model.Course, 0, len(raw))
	for _, rc := range raw {
		name := rc.FullName
		if name == "" {
			name = rc.ShortName
		}
		courses = append(courses, model.Course{ID: strconv.FormatInt(rc.ID, 10), Name: name})
	}
	return courses, nil
}
