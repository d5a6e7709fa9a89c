package moodle

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/model"

	"go.uber.org/zap"
)

type apiFile struct {
	Type         string `json:"type"`
	FileName     string `json:"filename"`
	FileURL      string `json:"fileurl"`
	FileSize     int64  `json:"filesize"`
	MimeType     string `json:"mimetype"`
	TimeModified int64  `json:"timemodified"`
}

type apiAssignment struct {
	ID               int64     `json:"id"`
	CMID             int64     `json:"cmid"`
	Name             string    `json:"name"`
	Intro            string    `json:"intro"`
	DueDate          int64     `json:"duedate"`
	IntroAttachments []apiFile `json:"introattachments"`
}

type apiAssignmentCourse struct {
	ID          int64           `json:"id"`
	FullName    string          `json:"fullname"`
	Assignments []apiAssignment `json:"assignments"`
}

type apiAssignmentsResponse struct {
	Courses []apiAssignmentCourse `json:"courses"`
}

type apiSubmissionStatus struct {
	LastAttempt *struct {
		Submission *struct {
			Status       string `json:"status"`
			TimeModified int64  `json:"timemodified"`
		} `json:"submission"`
	} `json:"lastattempt"`
}

// GetAssignments возвращает задания с дедлайном по всем курсам.
// Если пакетный запрос падает, курсы запрашиваются по одному.
func (c *Client) GetAssignments(ctx context.Context) ([]model.Assignment, error) {
	info, err := c.siteInfo(ctx)
	if err != nil {
		c.logger.Error("Failed to fetch site info", zap.Error(err))
		return []model.Assignment{}, fmt.Errorf("failed to fetch site info: %w", err)
	}

	courses, err := c.userCourses(ctx, info.UserID)
	if err != nil {
		c.logger.Error("Failed to fetch courses", zap.Error(err))
		return []model.Assignment{}, fmt.Errorf("failed to fetch courses: %w", err)
	}
	if len(courses) == 0 {
		return []model.Assignment{}, nil
	}

	names := make(map[string]string, len(courses))
	ids := make([]string, 0, len(courses))
	for _, course := range courses {
		names[course.ID] = course.Name
		ids = append(ids, course.ID)
	}

	raw, err := c.courseAssignments(ctx, ids)
	if err != nil {
		c.logger.Warn("Batch assignment fetch failed, retrying per course", zap.Error(err))
		raw = raw[:0]
		lastErr := err
		failed := 0
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return []model.Assignment{}, err
			}
			single, err := c.courseAssignments(ctx, []string{id})
			if err != nil {
				c.logger.Warn("Failed to fetch course assignments",
					zap.String("course_id", id),
					zap.String("course", names[id]),
					zap.Error(err))
				failed++
				lastErr = err
				continue
			}
			raw = append(raw, single...)
		}
		if failed == len(ids) {
			return []model.Assignment{}, fmt.Errorf("%w (%d courses): %w", model.ErrAllCoursesFailed, failed, lastErr)
		}
	}

	assignments := make([]model.Assignment, 0)
	for _, rc := range raw {
		courseID := strconv.FormatInt(rc.ID, 10)
		courseName := names[courseID]
		if courseName == "" {
			courseName = rc.FullName
		}

		for _, ra := range rc.Assignments {
			// Задания без дедлайна не отслеживаются
			if ra.DueDate == 0 {
				continue
			}

			assignment := model.Assignment{
				ID:              strconv.FormatInt(ra.ID, 10),
				Name:            ra.Name,
				Description:     ra.Intro,
				DescriptionText: lmshttp.PlainText(ra.Intro),
				DueDate:         time.Unix(ra.DueDate, 0).UTC(),
				CourseID:        courseID,
				CourseName:      courseName,
				URL:             c.moduleURL(ra.CMID),
				Attachments:     attachments(ra.ID, ra.IntroAttachments),
			}

			submitted, at, err := c.submissionStatus(ctx, ra.ID, info.UserID)
			if err != nil {
				c.logger.Warn("Failed to fetch submission status",
					zap.String("assignment_id", assignment.ID),
					zap.Error(err))
			}
			assignment.Submitted = submitted
			assignment.SubmittedDate = at

			assignments = append(assignments, assignment)
		}
	}

	model.SortAssignmentsByDue(assignments)

	c.logger.Debug("Fetched assignments", zap.Int("count", len(assignments)), zap.Int("courses", len(courses)))
	return assignments, nil
}

// courseAssignments запрашивает задания для списка курсов
func (c *Client) courseAssignments(ctx context.Context, courseIDs []string) ([]apiAssignmentCourse, error) {
	params := url.Values{}
	indexed(params, "courseids", courseIDs)

	var resp apiAssignmentsResponse
	if err := c.call(ctx, "mod_assign_get_assignments", params, &resp, false); err != nil {
		return nil, err
	}
	return resp.Courses, nil
}

// submissionStatus возвращает статус отправки текущего пользователя
func (c *Client) submissionStatus(ctx context.Context, assignmentID, userID int64) (bool, *time.Time, error) {
	params := url.Values{}
	params.Set("assignid", strconv.FormatInt(assignmentID, 10))
	params.Set("userid", strconv.FormatInt(userID, 10))

	var status apiSubmissionStatus
	if err := c.call(ctx, "mod_assign_get_submission_status", params, &status, false); err != nil {
		return false, nil, err
	}

	if status.LastAttempt == nil || status.LastAttempt.Submission == nil {
		return false, nil, nil
	}

	submission := status.LastAttempt.Submission
	if submission.Status != "submitted" {
		return false, nil, nil
	}

	if submission.TimeModified == 0 {
		return true, nil, nil
	}
	at := time.Unix(submission.TimeModified, 0).UTC()
	return true, &at, nil
}

// moduleURL возвращает ссылку на страницу задания
func (c *Client) moduleURL(cmid int64) string {
	if cmid == 0 {
		return ""
	}
	return fmt.Sprintf("%s/mod/assign/view.php?id=%d", c.siteURL, cmid)
}

// attachments преобразует файлы Moodle во вложения
func attachments(ownerID int64, files []apiFile) []model.FileAttachment {
	if len(files) == 0 {
		return nil
	}

	result := make([]model.FileAttachment, 0, len(files))
	for i, f := range files {
		if f.FileURL == "" {
			continue
		}
		result = append(result, model.FileAttachment{
			ID:          fmt.Sprintf("%d-%d", ownerID, i),
			FileName:    f.FileName,
			URL:         f.FileURL,
			Size:        f.FileSize,
			ContentType: f.MimeType,
		})
	}
	return result
}
