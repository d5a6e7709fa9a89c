// Package canvas содержит клиент Canvas LMS (REST API с Bearer токеном).
package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/model"

	"go.uber.org/zap"
)

const (
	pageSize = 100
	maxPages = 50
)

// Client представляет клиент Canvas REST API
type Client struct {
	baseURL string
	siteURL string
	token   string
	http    *lmshttp.Client
	logger  *zap.Logger
}

// Убеждаемся, что Client реализует model.LMSClient
var _ model.LMSClient = (*Client)(nil)

// NewClient создает новый клиент Canvas
func NewClient(siteURL, token string, httpClient *lmshttp.Client, logger *zap.Logger) *Client {
	siteURL = strings.TrimRight(siteURL, "/")
	return &Client{
		baseURL: siteURL + "/api/v1",
		siteURL: siteURL,
		token:   token,
		http:    httpClient,
		logger:  logger.With(zap.String("lms", model.LMSCanvas.String())),
	}
}

type apiCourse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type apiSubmission struct {
	WorkflowState string     `json:"workflow_state"`
	SubmittedAt   *time.Time `json:"submitted_at"`
}

type apiAssignment struct {
	ID                      int64          `json:"id"`
	Name                    string         `json:"name"`
	Description             string         `json:"description"`
	DueAt                   *time.Time     `json:"due_at"`
	HTMLURL                 string         `json:"html_url"`
	HasSubmittedSubmissions bool           `json:"has_submitted_submissions"`
	Submission              *apiSubmission `json:"submission"`
}

type apiModuleItem struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	HTMLURL     string `json:"html_url"`
	URL         string `json:"url"`
	ExternalURL string `json:"external_url"`
	ContentType string `json:"content_type"`
}

type apiModule struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Items []apiModuleItem `json:"items"`
}

// TestConnection проверяет токен запросом текущего пользователя
func (c *Client) TestConnection(ctx context.Context) bool {
	var user struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}

	if _, err := c.http.GetJSON(ctx, c.baseURL+"/users/self", c.authHeader(), &user); err != nil {
		c.logger.Warn("Canvas connection test failed", zap.Error(err))
		return false
	}

	c.logger.Info("Connected to Canvas", zap.Int64("user_id", user.ID), zap.String("user", user.Name))
	return true
}

// GetCourses возвращает курсы с активной записью
func (c *Client) GetCourses(ctx context.Context) ([]model.Course, error) {
	query := url.Values{}
	query.Set("enrollment_state", "active")
	query.Set("per_page", strconv.Itoa(pageSize))

	raw, err := getAll[apiCourse](ctx, c, "/courses", query)
	if err != nil {
		c.logger.Error("Failed to fetch courses", zap.Error(err))
		return []model.Course{}, fmt.Errorf("failed to fetch courses: %w", err)
	}

	courses := make([]model.Course, 0, len(raw))
	for _, rc := range raw {
		courses = append(courses, model.Course{
			ID:   strconv.FormatInt(rc.ID, 10),
			Name: rc.Name,
		})
	}
	return courses, nil
}

// GetAssignments возвращает задания всех курсов с дедлайном.
// Ошибка одного курса не прерывает обход остальных.
func (c *Client) GetAssignments(ctx context.Context) ([]model.Assignment, error) {
	courses, err := c.GetCourses(ctx)
	if err != nil {
		return []model.Assignment{}, err
	}

	assignments := make([]model.Assignment, 0)
	var lastErr error
	failed := 0
	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return []model.Assignment{}, err
		}

		items, err := c.courseAssignments(ctx, course)
		if err != nil {
			c.logger.Warn("Failed to fetch course assignments",
				zap.String("course_id", course.ID),
				zap.String("course", course.Name),
				zap.Error(err))
			failed++
			lastErr = err
			continue
		}
		assignments = append(assignments, items...)
	}

	// Пустой результат при полном отказе нельзя выдавать за успешный опрос
	if len(courses) > 0 && failed == len(courses) {
		return []model.Assignment{}, fmt.Errorf("%w (%d courses): %w", model.ErrAllCoursesFailed, failed, lastErr)
	}

	model.SortAssignmentsByDue(assignments)

	c.logger.Debug("Fetched assignments", zap.Int("count", len(assignments)), zap.Int("courses", len(courses)))
	return assignments, nil
}

// courseAssignments возвращает задания одного курса
func (c *Client) courseAssignments(ctx context.Context, course model.Course) ([]model.Assignment, error) {
	query := url.Values{}
	query.Set("per_page", strconv.Itoa(pageSize))
	query.Set("order_by", "due_at")
	query.Add("include[]", "submission")

	raw, err := getAll[apiAssignment](ctx, c, "/courses/"+url.PathEscape(course.ID)+"/assignments", query)
	if err != nil {
		return nil, err
	}

	result := make([]model.Assignment, 0, len(raw))
	for _, ra := range raw {
		// Задания без дедлайна не отслеживаются
		if ra.DueAt == nil {
			continue
		}

		submitted, submittedAt := submissionState(ra)
		result = append(result, model.Assignment{
			ID:              strconv.FormatInt(ra.ID, 10),
			Name:            ra.Name,
			Description:     ra.Description,
			DescriptionText: lmshttp.PlainText(ra.Description),
			DueDate:         ra.DueAt.UTC(),
			CourseID:        course.ID,
			CourseName:      course.Name,
			URL:             ra.HTMLURL,
			Submitted:       submitted,
			SubmittedDate:   submittedAt,
		})
	}
	return result, nil
}

// submissionState определяет статус отправки текущего пользователя
func submissionState(ra apiAssignment) (bool, *time.Time) {
	if ra.Submission == nil {
		return ra.HasSubmittedSubmissions, nil
	}

	switch ra.Submission.WorkflowState {
	case "submitted", "graded", "pending_review":
		return true, ra.Submission.SubmittedAt
	}
	return ra.Submission.SubmittedAt != nil, ra.Submission.SubmittedAt
}

// GetLectures возвращает материалы модулей: файлы, страницы и внешние ссылки
func (c *Client) GetLectures(ctx context.Context) ([]model.Lecture, error) {
	courses, err := c.GetCourses(ctx)
	if err != nil {
		return []model.Lecture{}, err
	}

	lectures := make([]model.Lecture, 0)
	for _, course := range courses {
		if err := ctx.Err(); err != nil {
			return []model.Lecture{}, err
		}

		query := url.Values{}
		query.Add("include[]", "items")
		query.Set("per_page", strconv.Itoa(pageSize))

		modules, err := getAll[apiModule](ctx, c, "/courses/"+url.PathEscape(course.ID)+"/modules", query)
		if err != nil {
			c.logger.Warn("Failed to fetch course modules",
				zap.String("course_id", course.ID),
				zap.Error(err))
			continue
		}

		for _, module := range modules {
			for _, item := range module.Items {
				if lecture, ok := lectureFromItem(course, module, item); ok {
					lectures = append(lectures, lecture)
				}
			}
		}
	}

	c.logger.Debug("Fetched lectures", zap.Int("count", len(lectures)))
	return lectures, nil
}

// lectureFromItem преобразует элемент модуля в лекцию
func lectureFromItem(course model.Course, module apiModule, item apiModuleItem) (model.Lecture, bool) {
	switch item.Type {
	case "File", "Page", "ExternalUrl":
	default:
		return model.Lecture{}, false
	}

	id := strconv.FormatInt(item.ID, 10)
	lecture := model.Lecture{
		ID:          id,
		Name:        item.Title,
		Description: module.Name,
		CourseID:    course.ID,
		CourseName:  course.Name,
		URL:         firstNonEmpty(item.HTMLURL, item.ExternalURL, item.URL),
	}

	if item.Type == "File" {
		lecture.Attachments = []model.FileAttachment{{
			ID:          id,
			FileName:    item.Title,
			URL:         firstNonEmpty(item.URL, item.HTMLURL),
			ContentType: item.ContentType,
		}}
	}
	return lecture, true
}

// authHeader возвращает заголовок авторизации
func (c *Client) authHeader() http.Header {
	return lmshttp.BearerHeader(c.token)
}

// getAll обходит все страницы списка по заголовку Link
func getAll[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	next := c.baseURL + path
	if len(query) > 0 {
		next += "?" + query.Encode()
	}

	var all []T
	for page := 0; next != "" && page < maxPages; page++ {
		var batch []T
		resp, err := c.http.GetJSON(ctx, next, c.authHeader(), &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		next = lmshttp.NextLink(resp.Header.Get("Link"))
	}
	return all, nil
}

// errorMessage извлекает сообщение об ошибке из ответа Canvas
func errorMessage(body string) string {
	var envelope struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil {
		if len(envelope.Errors) > 0 && envelope.Errors[0].Message != "" {
			return envelope.Errors[0].Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}
	return body
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
