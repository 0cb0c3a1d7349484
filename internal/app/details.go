package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tender-harvester/internal/config"
	"tender-harvester/internal/models"
	"tender-harvester/internal/normalize"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
	"tender-harvester/internal/tenderapi"
)

// TenderFetcher: источник полного payload тендера (tenderapi.DetailClient)
type TenderFetcher interface {
	FetchTender(ctx context.Context, tenderID string) (json.RawMessage, error)
}

type DetailOptions struct {
	IDs       []string
	Overwrite bool
}

type DetailResult struct {
	TenderID string `json:"tenderId"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type DetailSummary struct {
	Saved     int            `json:"saved"`
	Unchanged int            `json:"unchanged"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Results   []DetailResult `json:"results"`
}

func (s *DetailSummary) Counts() RunCounts {
	return RunCounts{
		Processed: len(s.Results),
		Succeeded: s.Saved,
		Skipped:   s.Skipped + s.Unchanged,
		Failed:    s.Failed,
	}
}

// DetailService загружает тендеры по ID напрямую, минуя листинг
type DetailService struct {
	cfg        *config.Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	fetcher    TenderFetcher
	store      storage.TenderStore
	dateParser *tenderapi.DateParser
}

func NewDetailService(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, fetcher TenderFetcher, store storage.TenderStore) *DetailService {
	return &DetailService{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		fetcher:    fetcher,
		store:      store,
		dateParser: tenderapi.NewDateParser(nil),
	}
}

func (s *DetailService) Run(ctx context.Context, opts DetailOptions) (*DetailSummary, error) {
	summary := &DetailSummary{}

	for _, id := range opts.IDs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		res, err := s.fetchOne(ctx, id, opts.Overwrite)
		summary.Results = append(summary.Results, res)
		switch res.Status {
		case string(storage.Created), string(storage.Updated):
			summary.Saved++
		case string(storage.Unchanged):
			summary.Unchanged++
		case "skipped":
			summary.Skipped++
		default:
			summary.Failed++
		}
		if s.metrics != nil {
			s.metrics.Tenders.WithLabelValues(res.Status).Inc()
		}
		if IsFatal(err) {
			return summary, err
		}
	}

	s.logger.Info("Tender details finished",
		"saved", summary.Saved,
		"unchanged", summary.Unchanged,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (s *DetailService) fetchOne(ctx context.Context, id string, overwrite bool) (DetailResult, error) {
	res := DetailResult{TenderID: id, Status: "failed"}

	id, err := normalize.TenderID(id)
	if err != nil {
		res.Error = err.Error()
		return res, nil
	}
	res.TenderID = id

	existing, err := s.store.Read(id)
	switch {
	case err == nil:
		if !overwrite {
			res.Status = "skipped"
			return res, nil
		}
	case errors.Is(err, storage.ErrNotFound):
		existing = nil
	case storage.IsLocalIO(err):
		res.Error = err.Error()
		return res, err
	default:
		existing = nil
	}

	payload, err := s.fetcher.FetchTender(ctx, id)
	if err != nil {
		res.Error = err.Error()
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		s.logger.Warn("Failed to fetch tender details", "tender_id", id, "error", err.Error())
		return res, nil
	}

	rec := &models.Record{ID: id, Payload: payload}
	if existing != nil {
		rec.Province = existing.Province
		rec.InitiationDate = existing.InitiationDate
	}
	if date := s.initiationDate(payload); date != nil {
		rec.InitiationDate = date
	}

	result, err := s.store.Upsert(id, rec)
	if err != nil {
		res.Error = err.Error()
		if storage.IsLocalIO(err) {
			return res, err
		}
		return res, nil
	}

	res.Status = string(result)
	s.logger.Debug("Tender details stored", "tender_id", id, "result", res.Status)
	return res, nil
}

func (s *DetailService) initiationDate(payload json.RawMessage) *time.Time {
	if s.cfg.Harvest.DateField == "" {
		return nil
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	raw, ok := fields[s.cfg.Harvest.DateField].(string)
	if !ok {
		return nil
	}
	t, err := s.dateParser.Parse(raw)
	if err != nil {
		return nil
	}
	return &t
}
