package moodle

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"lmscenter/internal/model"

	"go.uber.org/zap"
)

// lectureModules типы модулей курса, которые считаются материалами
var lectureModules = map[string]bool{
	"resource": true,
	"url":      true,
	"page":     true,
	"folder":   true,
}

type apiModule struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ModName     string    `json:"modname"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Added       int64     `json:"added"`
	Contents    []apiFile `json:"contents"`
}

type apiSection struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	Modules []apiModule `json:"modules"`
}

// GetLectures возвращает материалы курсов: файлы, ссылки, страницы и папки
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

		params := url.Values{}
		params.Set("courseid", course.ID)

		var sections []apiSection
		if err := c.call(ctx, "core_course_get_contents", params, &sections, false); err != nil {
			c.logger.Warn("Failed to fetch course contents",
				zap.String("course_id", course.ID),
				zap.Error(err))
			continue
		}

		for _, section := range sections {
			for _, module := range section.Modules {
				if !lectureModules[module.ModName] {
					continue
				}
				lectures = append(lectures, lectureFromModule(course, module))
			}
		}
	}

	c.logger.Debug("Fetched lectures", zap.Int("count", len(lectures)))
	return lectures, nil
}

// lectureFromModule преобразует модуль курса в лекцию
func lectureFromModule(course model.Course, module apiModule) model.Lecture {
	lecture := model.Lecture{
		ID:          strconv.FormatInt(module.ID, 10),
		Name:        module.Name,
		Description: module.Description,
		CourseID:    course.ID,
		CourseName:  course.Name,
		URL:         module.URL,
	}

	if module.Added > 0 {
		created := time.Unix(module.Added, 0).UTC()
		lecture.CreatedDate = &created
	}

	files := make([]apiFile, 0, len(module.Contents))
	for _, content := range module.Contents {
		if content.Type == "" || content.Type == "file" {
			files = append(files, content)
		}
	}
	lecture.Attachments = attachments(module.ID, files)

	return lecture
}
