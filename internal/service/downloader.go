package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/infrastructure/worker"
	"lmscenter/internal/model"

	"go.uber.org/zap"
)

// DownloadResult результат загрузки одного вложения
type DownloadResult struct {
	AttachmentID string `json:"attachmentId"`
	FileName     string `json:"fileName"`
	Path         string `json:"path,omitempty"`
	Skipped      bool   `json:"skipped,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Downloader сохраняет вложения заданий и лекций на диск
type Downloader struct {
	http   *lmshttp.Client
	logger *zap.Logger
}

// NewDownloader создает загрузчик вложений
func NewDownloader(httpClient *lmshttp.Client, logger *zap.Logger) *Downloader {
	return &Downloader{
		http:   httpClient,
		logger: logger,
	}
}

// Download сохраняет вложение в dir и возвращает путь к файлу.
// Уже существующий непустой файл не загружается повторно.
func (d *Downloader) Download(ctx context.Context, cfg model.LMSConfig, attachment model.FileAttachment, dir string) (string, bool, error) {
	return d.download(ctx, cfg, attachment, dir, attachmentFileName(attachment))
}

func (d *Downloader) download(ctx context.Context, cfg model.LMSConfig, attachment model.FileAttachment, dir, name string) (string, bool, error) {
	if dir == "" {
		return "", false, errors.New("download directory is not set")
	}
	if attachment.URL == "" {
		return "", false, errors.New("attachment has no url")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create download directory: %w", err)
	}

	path := filepath.Join(dir, name)

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		d.logger.Debug("File already downloaded", zap.String("path", path))
		return path, true, nil
	}

	fileURL, header := authorize(cfg, attachment.URL)

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", false, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	respHeader, size, err := d.http.Download(ctx, fileURL, header, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to download %s: %w", name, err)
	}

	if err := checkDownloadedFile(tmpPath, respHeader, size); err != nil {
		return "", false, fmt.Errorf("failed to download %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return "", false, fmt.Errorf("failed to save %s: %w", name, err)
	}

	d.logger.Info("Attachment downloaded",
		zap.String("file", name),
		zap.String("path", path),
		zap.Int64("bytes", size))
	return path, false, nil
}

// DownloadAll загружает вложения по одному. Ошибка одного файла не прерывает остальные.
// Вложения с одинаковыми именами сохраняются под именами с суффиксом ID.
func (d *Downloader) DownloadAll(ctx context.Context, cfg model.LMSConfig, attachments []model.FileAttachment, dir string) []DownloadResult {
	results := make([]DownloadResult, 0, len(attachments))
	used := make(map[string]struct{}, len(attachments))
	for i, attachment := range attachments {
		result := DownloadResult{AttachmentID: attachment.ID, FileName: attachment.FileName}

		name := uniqueFileName(attachmentFileName(attachment), attachment.ID, i, used)
		path, skipped, err := d.download(ctx, cfg, attachment, dir, name)
		if err != nil {
			d.logger.Warn("Failed to download attachment",
				zap.String("attachment_id", attachment.ID),
				zap.Error(err))
			result.Error = err.Error()
		} else {
			result.Path = path
			result.Skipped = skipped
		}
		results = append(results, result)
	}
	return results
}

// attachmentFileName возвращает имя файла на диске для вложения
func attachmentFileName(attachment model.FileAttachment) string {
	name := SanitizeFileName(attachment.FileName)
	if name == "" {
		name = SanitizeFileName("attachment-" + attachment.ID)
	}
	return name
}

// uniqueFileName добавляет к занятому в пакете имени суффикс ID вложения
func uniqueFileName(name, id string, index int, used map[string]struct{}) string {
	candidate := name
	if _, taken := used[candidate]; taken {
		suffix := SanitizeFileName(id)
		if suffix == "" {
			suffix = strconv.Itoa(index + 1)
		}
		ext := filepath.Ext(name)
		base := strings.TrimSuffix(name, ext)
		for n := 1; ; n++ {
			tail := "-" + suffix
			if n > 1 {
				tail += "-" + strconv.Itoa(n)
			}
			candidate = truncateUTF8(base, maxFileNameBytes-len(ext)-len(tail)) + tail + ext
			if _, taken := used[candidate]; !taken {
				break
			}
		}
	}
	used[candidate] = struct{}{}
	return candidate
}

// AssignmentDir возвращает каталог для вложений задания: <root>/<курс>/<задание>
func AssignmentDir(root string, a model.Assignment) string {
	return filepath.Join(root, SanitizeFileName(a.CourseName), SanitizeFileName(a.Name))
}

// LectureDir возвращает каталог для материалов лекции: <root>/<курс>/lectures/<лекция>
func LectureDir(root string, l model.Lecture) string {
	return filepath.Join(root, SanitizeFileName(l.CourseName), "lectures", SanitizeFileName(l.Name))
}

// authorize добавляет к ссылке учетные данные бэкенда
func authorize(cfg model.LMSConfig, raw string) (string, http.Header) {
	switch cfg.LMSType {
	case model.LMSMoodle:
		if !strings.Contains(raw, "pluginfile.php") && !strings.Contains(raw, "/webservice/") {
			return raw, nil
		}
		u, err := url.Parse(raw)
		if err != nil {
			return raw, nil
		}
		q := u.Query()
		q.Set("token", cfg.APIToken)
		u.RawQuery = q.Encode()
		return u.String(), nil
	case model.LMSCanvas:
		return raw, lmshttp.BearerHeader(cfg.APIToken)
	default:
		return raw, nil
	}
}

// checkDownloadedFile отсекает JSON ошибки, пришедшие вместо файла
func checkDownloadedFile(path string, header http.Header, size int64) error {
	if size == 0 {
		return errors.New("empty response")
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 4096)
	n, _ := io.ReadFull(f, head)
	head = bytes.TrimSpace(head[:n])

	isJSON := strings.Contains(header.Get("Content-Type"), "application/json")
	if !isJSON && (len(head) == 0 || head[0] != '{') {
		return nil
	}

	var env struct {
		Error     string `json:"error"`
		ErrorCode string `json:"errorcode"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(head, &env); err != nil {
		return nil
	}
	if env.Error == "" && env.ErrorCode == "" {
		return nil
	}
	return fmt.Errorf("server returned error: %s", firstNonEmpty(env.Error, env.Message, env.ErrorCode))
}

// maxFileNameBytes ограничение длины имени файла в байтах
const maxFileNameBytes = 200

// SanitizeFileName убирает из имени символы, недопустимые в файловых системах.
// Длинные имена обрезаются по границе символа UTF-8 с сохранением расширения.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "",
	)
	name = replacer.Replace(name)
	name = strings.Trim(name, ". ")
	if len(name) > maxFileNameBytes {
		ext := filepath.Ext(name)
		if len(ext) > 20 {
			ext = ""
		}
		name = truncateUTF8(name, maxFileNameBytes-len(ext)) + ext
	}
	return name
}

// truncateUTF8 обрезает строку до n байт, не разрывая многобайтовый символ
func truncateUTF8(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// autoDownloadTimeout ограничивает загрузку вложений одного задания
const autoDownloadTimeout = 15 * time.Minute

// AutoDownloadHook возвращает обработчик новых заданий, который ставит
// загрузку их вложений в пул, если в настройках включена автозагрузка.
func AutoDownloadHook(settings SettingsProvider, downloader *Downloader, pool worker.PoolInterface, defaultRoot string, logger *zap.Logger) func([]model.Assignment) {
	return func(assignments []model.Assignment) {
		cfg := settings.GetSettings(context.Background())
		if !cfg.AutoDownload {
			return
		}

		root := cfg.DownloadPath
		if root == "" {
			root = defaultRoot
		}

		for _, a := range assignments {
			if len(a.Attachments) == 0 {
				continue
			}
			assignment := a
			err := pool.Submit(worker.Job{
				Kind:    "download",
				Timeout: autoDownloadTimeout,
				Handler: func(ctx context.Context) error {
					results := downloader.DownloadAll(ctx, cfg, assignment.Attachments, AssignmentDir(root, assignment))
					for _, r := range results {
						if r.Error != "" {
							return fmt.Errorf("failed to download %s: %s", r.FileName, r.Error)
						}
					}
					return nil
				},
			})
			if err != nil {
				logger.Warn("Failed to queue attachment download",
					zap.String("assignment_id", a.ID),
					zap.Error(err))
			}
		}
	}
}
