package tenderapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"tender-harvester/internal/config"
	"tender-harvester/internal/models"
	"tender-harvester/internal/observability"
)

// PageQuery: параметры запроса одной страницы листинга
type PageQuery struct {
	Province      models.Province
	Page          int
	PageSize      int
	SortColumn    string
	SortDirection string
	// Extra: дополнительные query-параметры (filters.query_params)
	Extra map[string]string
}

type PageResult struct {
	Items []models.Summary
	// Total: общее число записей, -1 если API его не вернул
	Total   int
	HasMore bool
	// Dropped: элементы без ID или не-объекты
	Dropped int
}

type ListingClient struct {
	client
	cfg        *config.Config
	dateParser *DateParser
}

func NewListingClient(cfg *config.Config, getter Getter, logger *observability.Logger, metrics *observability.Metrics) *ListingClient {
	return &ListingClient{
		client:     newClient(cfg, getter, logger, metrics),
		cfg:        cfg,
		dateParser: NewDateParser(nil),
	}
}

// FetchPage загружает одну страницу листинга провинции
func (lc *ListingClient) FetchPage(ctx context.Context, q PageQuery) (*PageResult, error) {
	if q.PageSize <= 0 {
		q.PageSize = lc.cfg.Harvest.PageSize
	}
	if q.SortColumn == "" {
		q.SortColumn = lc.cfg.Harvest.SortingColumn
	}
	if q.SortDirection == "" {
		q.SortDirection = lc.cfg.Harvest.SortingDirection
	}

	params := url.Values{}
	for k, v := range q.Extra {
		params.Set(k, v)
	}
	params.Set(lc.cfg.Harvest.ProvinceParam, q.Province.QueryValue())
	params.Set("PageNumber", strconv.Itoa(q.Page))
	params.Set("PageSize", strconv.Itoa(q.PageSize))
	params.Set("SortingColumnName", q.SortColumn)
	params.Set("SortingDirection", q.SortDirection)

	body, err := lc.getJSON(ctx, "listing", lc.cfg.API.Endpoints.SearchTenders, params)
	if err != nil {
		return nil, fmt.Errorf("province %s page %d: %w", q.Province.Name, q.Page, err)
	}

	env, err := decodeEnvelope(body, listingKeys)
	if err != nil {
		return nil, fmt.Errorf("province %s page %d: %w", q.Province.Name, q.Page, err)
	}

	result := &PageResult{
		Items: make([]models.Summary, 0, len(env.Items)),
		Total: env.Total,
	}
	for i, raw := range env.Items {
		summary, err := lc.toSummary(raw, q.Province.Name)
		if err != nil {
			result.Dropped++
			lc.logger.Warn("Skipping listing item",
				"province", q.Province.Name,
				"page", q.Page,
				"index", i,
				"error", err.Error(),
			)
			continue
		}
		result.Items = append(result.Items, *summary)
	}

	result.HasMore = hasMore(q.Page, q.PageSize, len(env.Items), env.Total)
	return result, nil
}

// hasMore: при известном total: page*pageSize < total, иначе полная страница.
// Пустая страница всегда конец.
func hasMore(page, pageSize, count, total int) bool {
	if count == 0 {
		return false
	}
	if total >= 0 {
		return page*pageSize < total
	}
	return count >= pageSize
}

func (lc *ListingClient) toSummary(raw []byte, province string) (*models.Summary, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}

	id := firstString(fields, lc.cfg.Harvest.IDFields...)
	if id == "" {
		return nil, fmt.Errorf("item has no id (fields %v)", lc.cfg.Harvest.IDFields)
	}

	summary := &models.Summary{
		ID:       id,
		Province: province,
		Fields:   fields,
		Payload:  append([]byte(nil), raw...),
	}
	if lc.cfg.Harvest.DateField != "" {
		if s := asString(fields[lc.cfg.Harvest.DateField]); s != "" {
			if t, err := lc.dateParser.Parse(s); err == nil {
				summary.InitiationDate = t
			} else {
				lc.logger.Debug("Unparseable initiation date", "tender_id", id, "value", s)
			}
		}
	}
	return summary, nil
}
