// Package lmshttp содержит общий HTTP транспорт для клиентов LMS.
package lmshttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxBodySize = 32 << 20

// Config представляет конфигурацию транспорта
type Config struct {
	HTTPClientConfig HTTPClientConfig
	RetryConfig      RetryConfig
	// Timeout таймаут одного запроса на чтение
	Timeout time.Duration
	// UploadTimeout таймаут загрузки файлов и отправки решений
	UploadTimeout time.Duration
	UserAgent     string
}

// HTTPClientConfig представляет конфигурацию пула соединений
type HTTPClientConfig struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	DisableKeepAlives     bool
}

// RetryConfig представляет конфигурацию повторов
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		HTTPClientConfig: HTTPClientConfig{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
		RetryConfig: RetryConfig{
			MaxRetries:        2,
			InitialDelay:      time.Second,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Timeout:       30 * time.Second,
		UploadTimeout: 5 * time.Minute,
		UserAgent:     "LMS-Center/1.0",
	}
}

// Request описывает один HTTP запрос.
// Body вызывается заново перед каждой попыткой.
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Body        func() (io.Reader, error)
	ContentType string
	// Idempotent разрешает повторы при сетевых ошибках и 5xx
	Idempotent bool
	// Upload использует UploadTimeout вместо Timeout
	Upload bool
}

// Response содержит прочитанный ответ
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client представляет HTTP клиент LMS
type Client struct {
	client *http.Client
	config Config
	logger *zap.Logger
}

// NewClient создает новый HTTP клиент
func NewClient(config Config, logger *zap.Logger) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          config.HTTPClientConfig.MaxIdleConns,
		MaxIdleConnsPerHost:   config.HTTPClientConfig.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.HTTPClientConfig.IdleConnTimeout,
		TLSHandshakeTimeout:   config.HTTPClientConfig.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.HTTPClientConfig.ResponseHeaderTimeout,
		DisableKeepAlives:     config.HTTPClientConfig.DisableKeepAlives,
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.UploadTimeout < config.Timeout {
		config.UploadTimeout = config.Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = "LMS-Center/1.0"
	}

	return &Client{
		client: &http.Client{Transport: transport},
		config: config,
		logger: logger,
	}
}

// Config возвращает конфигурацию транспорта
func (c *Client) Config() Config {
	return c.config
}

// Send выполняет запрос и возвращает тело ответа.
// Статус вне диапазона 2xx возвращается как *StatusError.
func (c *Client) Send(ctx context.Context, r Request) (*Response, error) {
	if !r.Idempotent {
		return c.send(ctx, r)
	}

	var resp *Response
	err := WithRetry(ctx, c.logger, c.config.RetryConfig, func() error {
		var err error
		resp, err = c.send(ctx, r)
		if err != nil && !isRetryable(err) {
			return Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// send выполняет одну попытку запроса
func (c *Client) send(ctx context.Context, r Request) (*Response, error) {
	timeout := c.config.Timeout
	if r.Upload {
		timeout = c.config.UploadTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if r.Body != nil {
		b, err := r.Body()
		if err != nil {
			return nil, fmt.Errorf("failed to build request body: %w", err)
		}
		body = b
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if r.ContentType != "" {
		req.Header.Set("Content-Type", r.ContentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	c.logger.Debug("LMS request completed",
		zap.String("method", method),
		zap.String("url", redactURL(r.URL)),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)))

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// GetJSON выполняет идемпотентный GET и декодирует JSON ответ
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) (*Response, error) {
	resp, err := c.Send(ctx, Request{
		Method:     http.MethodGet,
		URL:        url,
		Header:     header,
		Idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	if err := DecodeJSON(resp.Body, out); err != nil {
		return nil, err
	}
	return resp, nil
}

// PostJSON отправляет JSON тело без повторов
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, in, out any, upload bool) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := c.Send(ctx, Request{
		Method:      http.MethodPost,
		URL:         url,
		Header:      header,
		ContentType: "application/json",
		Body: func() (io.Reader, error) {
			return bytes.NewReader(payload), nil
		},
		Upload: upload,
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return DecodeJSON(resp.Body, out)
}

// DecodeJSON декодирует тело ответа
func DecodeJSON(data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// BearerHeader возвращает заголовок авторизации по токену
func BearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
