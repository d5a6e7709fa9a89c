package lmshttp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// WithRetry выполняет функцию с retry логикой и экспоненциальной задержкой.
// Ошибка, обернутая в Permanent, возвращается сразу.
func WithRetry(ctx context.Context, logger *zap.Logger, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		// Проверяем контекст перед каждой попыткой
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 0 {
				logger.Debug("Request succeeded after retry",
					zap.Int("attempt", attempt+1),
					zap.Int("max_retries", config.MaxRetries))
			}
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err

		if attempt == config.MaxRetries {
			break
		}

		delay := backoff(config, attempt)

		logger.Debug("Request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", config.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	if config.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("request failed after %d attempts: %w", config.MaxRetries+1, lastErr)
}

// backoff вычисляет задержку перед следующей попыткой
func backoff(config RetryConfig, attempt int) time.Duration {
	multiplier := config.BackoffMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(multiplier, float64(attempt)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}
