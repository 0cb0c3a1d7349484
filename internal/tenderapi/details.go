package tenderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"tender-harvester/internal/config"
	"tender-harvester/internal/fetcher"
	"tender-harvester/internal/observability"
)

type DetailClient struct {
	client
	cfg *config.Config
}

func NewDetailClient(cfg *config.Config, getter Getter, logger *observability.Logger, metrics *observability.Metrics) *DetailClient {
	return &DetailClient{
		client: newClient(cfg, getter, logger, metrics),
		cfg:    cfg,
	}
}

// FetchTender возвращает полный payload тендера. Ответ должен быть JSON-объектом.
func (dc *DetailClient) FetchTender(ctx context.Context, tenderID string) (json.RawMessage, error) {
	ref, params := byTenderID(dc.cfg.API.Endpoints.TenderDetails, dc.cfg.API.Endpoints.TenderDetailsParam, tenderID)

	body, err := dc.getJSON(ctx, "details", ref, params)
	if err != nil {
		return nil, fmt.Errorf("tender %s: %w", tenderID, err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, fetcher.Permanent(fmt.Errorf("tender %s: unexpected detail response: %s", tenderID, preview(trimmed)))
	}
	return json.RawMessage(trimmed), nil
}
