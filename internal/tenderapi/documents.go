package tenderapi

import (
	"context"
	"fmt"

	"tender-harvester/internal/config"
	"tender-harvester/internal/models"
	"tender-harvester/internal/observability"
)

type DocumentClient struct {
	client
	cfg *config.Config
}

func NewDocumentClient(cfg *config.Config, getter Getter, logger *observability.Logger, metrics *observability.Metrics) *DocumentClient {
	return &DocumentClient{
		client: newClient(cfg, getter, logger, metrics),
		cfg:    cfg,
	}
}

// FetchDocuments возвращает дескрипторы документов тендера. Пустой список: не ошибка.
func (dc *DocumentClient) FetchDocuments(ctx context.Context, tenderID string) ([]models.Document, error) {
	ref, params := byTenderID(dc.cfg.API.Endpoints.Documents, dc.cfg.API.Endpoints.DocumentsParam, tenderID)

	body, err := dc.getJSON(ctx, "documents", ref, params)
	if err != nil {
		return nil, fmt.Errorf("tender %s documents: %w", tenderID, err)
	}

	env, err := decodeEnvelope(body, documentKeys)
	if err != nil {
		return nil, fmt.Errorf("tender %s documents: %w", tenderID, err)
	}

	docs := make([]models.Document, 0, len(env.Items))
	for i, raw := range env.Items {
		fields, err := decodeObject(raw)
		if err != nil {
			dc.logger.Warn("Skipping document descriptor",
				"tender_id", tenderID,
				"index", i,
				"error", err.Error(),
			)
			continue
		}

		docs = append(docs, models.Document{
			TenderID:   tenderID,
			DocumentID: firstString(fields, docIDFields...),
			FileName:   firstString(fields, fileNameFields...),
			URL:        firstString(fields, urlFields...),
			Size:       firstInt64(fields, sizeFields...),
			Checksum:   firstString(fields, checksumFields...),
			Raw:        append([]byte(nil), raw...),
		})
	}

	dc.logger.Debug("Fetched document descriptors", "tender_id", tenderID, "count", len(docs))
	return docs, nil
}
