// Package tenderapi: клиенты REST API тендеров: листинг, детали тендера,
// метаданные документов. Повторы временных ошибок выполняются здесь.
package tenderapi

import (
	"context"
	"net/url"
	"strings"
	"time"

	"tender-harvester/internal/config"
	"tender-harvester/internal/fetcher"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/retry"
)

// Getter: то, что клиентам нужно от fetcher.Fetcher
type Getter interface {
	Get(ctx context.Context, endpoint, ref string, params url.Values) (*fetcher.FetchResponse, error)
}

const tenderIDPlaceholder = "{tenderId}"

type client struct {
	getter  Getter
	policy  retry.Policy
	logger  *observability.Logger
	metrics *observability.Metrics
}

func newClient(cfg *config.Config, getter Getter, logger *observability.Logger, metrics *observability.Metrics) client {
	return client{
		getter:  getter,
		policy:  retry.FromConfig(cfg, fetcher.IsTransient),
		logger:  logger,
		metrics: metrics,
	}
}

// getJSON выполняет GET с повторами временных ошибок
func (c *client) getJSON(ctx context.Context, endpoint, ref string, params url.Values) ([]byte, error) {
	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("Retrying request",
			"endpoint", endpoint,
			"ref", ref,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)
		if c.metrics != nil {
			c.metrics.Retries.WithLabelValues(endpoint).Inc()
		}
	}

	var body []byte
	err := policy.Do(ctx, func(ctx context.Context) error {
		resp, err := c.getter.Get(ctx, endpoint, ref, params)
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	return body, err
}

// byTenderID подставляет ID в шаблон эндпоинта или передаёт его query-параметром
func byTenderID(endpoint, param, tenderID string) (string, url.Values) {
	if strings.Contains(endpoint, tenderIDPlaceholder) {
		return strings.ReplaceAll(endpoint, tenderIDPlaceholder, url.PathEscape(tenderID)), nil
	}
	return endpoint, url.Values{param: {tenderID}}
}
