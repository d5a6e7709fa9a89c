package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/model"

	"go.uber.org/zap"
)

type uploadIntent struct {
	UploadURL    string                     `json:"upload_url"`
	UploadParams map[string]json.RawMessage `json:"upload_params"`
	FileParam    string                     `json:"file_param"`
}

type uploadedFile struct {
	ID int64 `json:"id"`
}

// SubmitAssignment загружает все вложения, затем создает отправку.
// Отправка создается только если каждый файл загружен успешно.
func (c *Client) SubmitAssignment(ctx context.Context, data model.SubmissionData) error {
	if data.CourseID == "" || data.AssignmentID == "" {
		return model.NewSubmitError(errors.New("course id and assignment id are required"))
	}

	fileIDs := make([]int64, 0, len(data.Attachments))
	for _, file := range data.Attachments {
		id, err := c.uploadFile(ctx, data, file)
		if err != nil {
			c.logger.Error("Failed to upload submission file",
				zap.String("assignment_id", data.AssignmentID),
				zap.String("file", file.FileName),
				zap.Error(err))
			return model.NewUploadError(file.FileName, err)
		}
		fileIDs = append(fileIDs, id)
	}

	payload := map[string]any{}
	switch {
	case len(fileIDs) > 0:
		payload["submission"] = map[string]any{
			"submission_type": "online_upload",
			"file_ids":        fileIDs,
		}
		if data.Comment != "" {
			payload["comment"] = map[string]string{"text_comment": data.Comment}
		}
	case data.Comment != "":
		payload["submission"] = map[string]any{
			"submission_type": "online_text_entry",
			"body":            data.Comment,
		}
	default:
		return model.NewSubmitError(errors.New("nothing to submit: no files and no comment"))
	}

	endpoint := fmt.Sprintf("%s/courses/%s/assignments/%s/submissions",
		c.baseURL, url.PathEscape(data.CourseID), url.PathEscape(data.AssignmentID))

	if err := c.http.PostJSON(ctx, endpoint, c.authHeader(), payload, nil, true); err != nil {
		c.logger.Error("Failed to create submission",
			zap.String("assignment_id", data.AssignmentID),
			zap.Error(err))
		return model.NewSubmitError(describe(err))
	}

	c.logger.Info("Assignment submitted",
		zap.String("course_id", data.CourseID),
		zap.String("assignment_id", data.AssignmentID),
		zap.Int("files", len(fileIDs)))
	return nil
}

// uploadFile проходит три шага: намерение, передача, подтверждение
func (c *Client) uploadFile(ctx context.Context, data model.SubmissionData, file model.SubmissionFile) (int64, error) {
	content, err := os.ReadFile(file.FilePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	name := file.FileName
	if name == "" {
		name = filepath.Base(file.FilePath)
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	endpoint := fmt.Sprintf("%s/courses/%s/assignments/%s/submissions/self/files",
		c.baseURL, url.PathEscape(data.CourseID), url.PathEscape(data.AssignmentID))

	var intent uploadIntent
	err = c.http.PostJSON(ctx, endpoint, c.authHeader(), map[string]any{
		"name":         name,
		"size":         len(content),
		"content_type": contentType,
	}, &intent, false)
	if err != nil {
		return 0, fmt.Errorf("upload intent rejected: %w", describe(err))
	}
	if intent.UploadURL == "" {
		return 0, errors.New("upload intent returned no upload url")
	}

	fields := uploadFields(intent.UploadParams)
	fileField := intent.FileParam
	if fileField == "" {
		fileField = "file"
	}

	body, formType, err := lmshttp.BuildMultipart(fields, lmshttp.FilePart{
		Field:       fileField,
		FileName:    name,
		ContentType: contentType,
		Content:     bytes.NewReader(content),
	})
	if err != nil {
		return 0, err
	}

	// upload_url подписан заранее, токен туда не передается
	resp, err := c.http.Send(ctx, lmshttp.Request{
		Method:      http.MethodPost,
		URL:         intent.UploadURL,
		Upload:      true,
		ContentType: formType,
		Body: func() (io.Reader, error) {
			return bytes.NewReader(body.Bytes()), nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("file transfer failed: %w", describe(err))
	}

	var confirmed uploadedFile
	if err := lmshttp.DecodeJSON(resp.Body, &confirmed); err != nil {
		return 0, fmt.Errorf("upload confirmation unreadable: %w", err)
	}
	if confirmed.ID == 0 {
		return 0, errors.New("upload confirmation returned no file id")
	}

	c.logger.Debug("Submission file uploaded",
		zap.String("file", name),
		zap.Int64("file_id", confirmed.ID))
	return confirmed.ID, nil
}

// uploadFields приводит upload_params к упорядоченному списку полей
func uploadFields(params map[string]json.RawMessage) []lmshttp.Field {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]lmshttp.Field, 0, len(keys))
	for _, k := range keys {
		raw := params[k]
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			// Числа и логические значения передаются как есть
			s = string(raw)
		}
		fields = append(fields, lmshttp.Field{Name: k, Value: s})
	}
	return fields
}

// describe заменяет тело ответа Canvas на читаемое сообщение
func describe(err error) error {
	var statusErr *lmshttp.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Errorf("status %d: %s", statusErr.StatusCode, errorMessage(statusErr.Body))
	}
	return err
}
