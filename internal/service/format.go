package service

import (
	"fmt"
	"time"

	"lmscenter/internal/model"
)

const day = 24 * time.Hour

// FormatDue возвращает относительное время дедлайна: "in 3 days", "in 4 hours"
func FormatDue(due, now time.Time) string {
	diff := due.Sub(now)

	if diff < 0 {
		overdue := -diff
		if days := int(overdue / day); days > 0 {
			return "overdue by " + plural(days, "day")
		}
		if hours := int(overdue / time.Hour); hours > 0 {
			return "overdue by " + plural(hours, "hour")
		}
		return "overdue"
	}

	if days := int(diff / day); days > 0 {
		return "in " + plural(days, "day")
	}
	if hours := int(diff / time.Hour); hours > 0 {
		return "in " + plural(hours, "hour")
	}
	return "in less than an hour"
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// NotificationBody собирает текст уведомления о новом задании
func NotificationBody(a model.Assignment, now time.Time) string {
	return fmt.Sprintf("%s\nDue: %s\nCourse: %s", a.Name, FormatDue(a.DueDate, now), a.CourseName)
}
