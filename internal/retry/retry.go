package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"tender-harvester/internal/config"
)

// Policy: общая политика повторов для клиентов API и загрузчика вложений
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JitterPct   int

	// Retryable решает, стоит ли повторять ошибку; nil: повторять любую
	Retryable func(error) bool
	// OnRetry вызывается перед паузой очередной попытки
	OnRetry func(attempt int, delay time.Duration, err error)

	sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError: временная ошибка не прошла за отведённое число попыток
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

func FromConfig(cfg *config.Config, retryable func(error) bool) Policy {
	return Policy{
		MaxAttempts: cfg.Backoff.MaxAttempts,
		BaseDelay:   cfg.GetBackoffMin(),
		MaxDelay:    cfg.GetBackoffMax(),
		JitterPct:   cfg.Backoff.JitterPct,
		Retryable:   retryable,
	}
}

// Do выполняет op до MaxAttempts раз. Неповторяемая ошибка возвращается сразу,
// исчерпание попыток: как *ExhaustedError.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Backoff(attempt - 1)
			if p.OnRetry != nil {
				p.OnRetry(attempt, delay, lastErr)
			}
			if err := p.wait(ctx, delay); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		lastErr = err
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

// Backoff: base * 2^(n-1), не больше MaxDelay, ±JitterPct%
func (p Policy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	minMS := float64(p.BaseDelay.Milliseconds())
	maxMS := float64(p.MaxDelay.Milliseconds())
	if maxMS < minMS {
		maxMS = minMS
	}

	exponential := minMS * math.Pow(2, float64(retry-1))
	if exponential > maxMS {
		exponential = maxMS
	}

	jitterRange := exponential * float64(p.JitterPct) / 100
	jitter := (rand.Float64() - 0.5) * 2 * jitterRange
	finalMS := exponential + jitter

	if finalMS < minMS {
		finalMS = minMS
	}

	return time.Duration(math.Max(finalMS, 0)) * time.Millisecond
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep: пауза, прерываемая контекстом
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
