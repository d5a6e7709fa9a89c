// Package lms выбирает клиент LMS по типу бэкенда.
package lms

import (
	"errors"
	"fmt"

	"lmscenter/internal/external/canvas"
	"lmscenter/internal/external/lmshttp"
	"lmscenter/internal/external/moodle"
	"lmscenter/internal/model"

	"go.uber.org/zap"
)

// ErrMissingToken возвращается, если для клиента нет токена доступа
var ErrMissingToken = errors.New("LMS API token is not set")

// NewClient создает клиент LMS для переданных настроек.
// Неизвестный или нереализованный тип бэкенда дает ошибку сразу.
func NewClient(cfg model.LMSConfig, httpClient *lmshttp.Client, logger *zap.Logger) (model.LMSClient, error) {
	if cfg.LMSURL == "" {
		return nil, errors.New("LMS URL is not set")
	}

	switch cfg.LMSType {
	case model.LMSCanvas:
		if cfg.APIToken == "" {
			return nil, ErrMissingToken
		}
		return canvas.NewClient(cfg.LMSURL, cfg.APIToken, httpClient, logger), nil
	case model.LMSMoodle:
		if cfg.APIToken == "" {
			return nil, ErrMissingToken
		}
		return moodle.NewClient(cfg.LMSURL, cfg.APIToken, httpClient, logger), nil
	case model.LMSBlackboard:
		return nil, fmt.Errorf("blackboard support coming soon: %w", model.ErrNotImplemented)
	default:
		return nil, fmt.Errorf("Unsupported LMS type: %s: %w", cfg.LMSType, model.ErrUnsupportedLMS)
	}
}
