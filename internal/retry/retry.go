// Package retry - экспоненциальные повторы для вызовов хранилища.
// Мутации комментариев им не пользуются автоматически, вызывающий включает его сам.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/UkralStul/fine-comments-service/internal/apperr"
)

// Config задаёт политику повторов.
type Config struct {
	// MaxAttempts - число попыток, включая первую.
	MaxAttempts int
	// BaseDelay - пауза перед первым повтором.
	BaseDelay time.Duration
	// Multiplier - во сколько раз растёт пауза.
	Multiplier float64
	// MaxDelay - потолок паузы.
	MaxDelay time.Duration
}

// DefaultConfig: 3 попытки, 1s, x2, не больше 30s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

// ErrInvalidConfig возвращается для бессмысленной конфигурации.
var ErrInvalidConfig = errors.New("invalid retry config")

// Validate проверяет конфигурацию.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 || c.BaseDelay <= 0 || c.Multiplier < 1 || c.MaxDelay < c.BaseDelay {
		return ErrInvalidConfig
	}
	return nil
}

// Do выполняет fn, повторяя её, пока ошибка повторяема по таксономии apperr
// и не исчерпаны попытки. Возвращает последнюю ошибку.
func Do[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cfg.Validate(); err != nil {
		return zero, err
	}

	expo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          cfg.Multiplier,
		MaxInterval:         cfg.MaxDelay,
	}
	expo.Reset()

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !apperr.Parse(err).Retryable {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
	)
}
