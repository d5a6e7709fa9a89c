package lmshttp

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"regexp"
	"strings"
)

// Field текстовое поле формы
type Field struct {
	Name  string
	Value string
}

// FilePart файловое поле формы
type FilePart struct {
	Field       string
	FileName    string
	ContentType string
	Content     io.Reader
}

// BuildMultipart собирает multipart тело. Файл всегда идет последним полем.
func BuildMultipart(fields []Field, file FilePart) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, f := range fields {
		if err := writer.WriteField(f.Name, f.Value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.Name, err)
		}
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(file.Field), escapeQuotes(file.FileName)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return nil, "", fmt.Errorf("failed to write file part: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

var linkNextPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?`)

// NextLink возвращает URL следующей страницы из заголовка Link
func NextLink(link string) string {
	for _, part := range strings.Split(link, ",") {
		if m := linkNextPattern.FindStringSubmatch(part); m != nil {
			return m[1]
		}
	}
	return ""
}
