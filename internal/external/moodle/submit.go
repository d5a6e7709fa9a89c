package moodle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/model"

	"go.uber.org/zap"
)

type apiWarning struct {
	Item        string `json:"item"`
	WarningCode string `json:"warningcode"`
	Message     string `json:"message"`
}

type apiDraftFile struct {
	ItemID   int64  `json:"itemid"`
	FileName string `json:"filename"`
}

// SubmitAssignment загружает файлы в область черновика, сохраняет отправку
// и переводит ее в статус "на проверке".
func (c *Client) SubmitAssignment(ctx context.Context, data model.SubmissionData) error {
	if data.AssignmentID == "" {
		return model.NewSubmitError(errors.New("assignment id is required"))
	}

	// Все файлы складываются в одну область черновика
	var draftID int64
	for _, file := range data.Attachments {
		itemID, err := c.uploadFile(ctx, file, draftID)
		if err != nil {
			c.logger.Error("Failed to upload submission file",
				zap.String("assignment_id", data.AssignmentID),
				zap.String("file", file.FileName),
				zap.Error(err))
			return model.NewUploadError(file.FileName, err)
		}
		if draftID == 0 {
			draftID = itemID
		}
	}

	if draftID == 0 && data.Comment == "" {
		return model.NewSubmitError(errors.New("nothing to submit: no files and no comment"))
	}

	params := url.Values{}
	params.Set("assignmentid", data.AssignmentID)
	if draftID != 0 {
		params.Set("plugindata[files_filemanager]", strconv.FormatInt(draftID, 10))
	}
	if data.Comment != "" {
		params.Set("plugindata[onlinetext_editor][text]", data.Comment)
		params.Set("plugindata[onlinetext_editor][format]", "1")
		params.Set("plugindata[onlinetext_editor][itemid]", "0")
	}

	var warnings []apiWarning
	if err := c.call(ctx, "mod_assign_save_submission", params, &warnings, true); err != nil {
		c.logger.Error("Failed to save submission", zap.String("assignment_id", data.AssignmentID), zap.Error(err))
		return model.NewSubmitError(err)
	}
	if err := warningError(warnings); err != nil {
		return model.NewSubmitError(err)
	}

	finalize := url.Values{}
	finalize.Set("assignmentid", data.AssignmentID)
	finalize.Set("acceptsubmissionstatement", "1")

	warnings = nil
	if err := c.call(ctx, "mod_assign_submit_for_grading", finalize, &warnings, true); err != nil {
		c.logger.Error("Submission saved but not submitted for grading",
			zap.String("assignment_id", data.AssignmentID),
			zap.Error(err))
		return model.NewFinalizeError(err)
	}
	if err := warningError(warnings); err != nil {
		return model.NewFinalizeError(err)
	}

	c.logger.Info("Assignment submitted",
		zap.String("assignment_id", data.AssignmentID),
		zap.Int("files", len(data.Attachments)))
	return nil
}

// uploadFile загружает файл в область черновика и возвращает ее itemid
func (c *Client) uploadFile(ctx context.Context, file model.SubmissionFile, draftID int64) (int64, error) {
	content, err := os.ReadFile(file.FilePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}
	if len(content) == 0 {
		return 0, errors.New("file is empty")
	}

	name := file.FileName
	if name == "" {
		name = filepath.Base(file.FilePath)
	}

	body, formType, err := lmshttp.BuildMultipart([]lmshttp.Field{
		{Name: "token", Value: c.token},
		{Name: "filearea", Value: "draft"},
		{Name: "itemid", Value: strconv.FormatInt(draftID, 10)},
		{Name: "filepath", Value: "/"},
		{Name: "filename", Value: name},
	}, lmshttp.FilePart{
		Field:       "file",
		FileName:    name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Content:     bytes.NewReader(content),
	})
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Send(ctx, lmshttp.Request{
		Method:      http.MethodPost,
		URL:         c.uploadURL,
		ContentType: formType,
		Upload:      true,
		Body: func() (io.Reader, error) {
			return bytes.NewReader(body.Bytes()), nil
		},
	})
	if err != nil {
		return 0, err
	}

	if err := checkEnvelope(resp.Body); err != nil {
		return 0, err
	}

	var files []apiDraftFile
	if err := lmshttp.DecodeJSON(resp.Body, &files); err != nil {
		return 0, err
	}
	if len(files) == 0 || files[0].ItemID == 0 {
		return 0, errors.New("upload returned no draft item id")
	}

	c.logger.Debug("Submission file uploaded",
		zap.String("file", name),
		zap.Int64("item_id", files[0].ItemID))
	return files[0].ItemID, nil
}

// warningError превращает предупреждения Moodle в ошибку
func warningError(warnings []apiWarning) error {
	if len(warnings) == 0 {
		return nil
	}
	w := warnings[0]
	if w.Message != "" {
		return fmt.Errorf("%s: %s", w.WarningCode, w.Message)
	}
	return fmt.Errorf("moodle warning: %s", w.WarningCode)
}
