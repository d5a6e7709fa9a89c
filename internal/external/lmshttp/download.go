package lmshttp

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Download передает тело ответа в w без буферизации в памяти.
// Повторов нет: частично записанный файл нельзя продолжить.
func (c *Client) Download(ctx context.Context, url string, header http.Header, w io.Writer) (http.Header, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.UploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.Header, 0, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return resp.Header, n, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("LMS file downloaded",
		zap.String("url", redactURL(url)),
		zap.Int64("bytes", n))

	return resp.Header, n, nil
}
