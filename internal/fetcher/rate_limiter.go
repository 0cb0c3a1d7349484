package fetcher

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter: общий для всех исходящих запросов: token bucket (rps/burst)
// плюс семафор на число одновременных запросов
type RateLimiter struct {
	limiter *rate.Limiter
	sem     chan struct{}
}

func NewRateLimiter(rps float64, burst, maxConcurrent int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// Acquire ждёт слот и токен; release нужно вызвать по завершении запроса
func (rl *RateLimiter) Acquire(ctx context.Context) (release func(), err error) {
	select {
	case rl.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := rl.limiter.Wait(ctx); err != nil {
		<-rl.sem
		return nil, err
	}

	return func() { <-rl.sem }, nil
}
