package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"tender-harvester/internal/config"
	"tender-harvester/internal/models"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/retry"
	"tender-harvester/internal/storage"
	"tender-harvester/internal/storage/fsstore"
	"tender-harvester/internal/tenderapi"
)

// PageFetcher: источник страниц листинга (tenderapi.ListingClient)
type PageFetcher interface {
	FetchPage(ctx context.Context, q tenderapi.PageQuery) (*tenderapi.PageResult, error)
}

type ProvinceState string

const (
	StatePending  ProvinceState = "PENDING"
	StateFetching ProvinceState = "FETCHING"
	StateDone     ProvinceState = "DONE"
	StateFailed   ProvinceState = "FAILED"
)

// RunOptions: параметры запуска harvest; нулевые значения берутся из конфига
type RunOptions struct {
	Provinces    []string
	MaxProvinces int
	StartPage    int
	EndPage      int
	PageSize     int
	// Delay: пауза между страницами; nil: harvest.delay_ms
	Delay      *time.Duration
	GetAll     bool
	UseFilters bool
	// RawDir: каталог для jsonl-дампов; "": paths.raw_dumps_dir
	RawDir string
}

type ProvinceResult struct {
	Province      string        `json:"province"`
	State         ProvinceState `json:"state"`
	PagesFetched  int           `json:"pagesFetched"`
	PagesFailed   int           `json:"pagesFailed"`
	Created       int           `json:"created"`
	Updated       int           `json:"updated"`
	Unchanged     int           `json:"unchanged"`
	Rejected      int           `json:"rejected"`
	Dropped       int           `json:"dropped"`
	StoreFailed   int           `json:"storeFailed"`
	LastPage      int           `json:"lastPage"`
	RawDump       string        `json:"rawDump,omitempty"`
	StoppedReason string        `json:"stoppedReason"`
}

// Stored: записи, которые есть в хранилище после страницы (новые, обновлённые, без изменений)
func (r *ProvinceResult) Stored() int {
	return r.Created + r.Updated + r.Unchanged
}

type HarvestSummary struct {
	Provinces []ProvinceResult `json:"provinces"`
}

func (s *HarvestSummary) Counts() RunCounts {
	var c RunCounts
	for i := range s.Provinces {
		p := &s.Provinces[i]
		c.Processed += p.Stored() + p.Rejected + p.StoreFailed
		c.Succeeded += p.Created + p.Updated
		c.Skipped += p.Unchanged + p.Rejected
		c.Failed += p.StoreFailed + p.PagesFailed
	}
	return c
}

func (s *HarvestSummary) ByState(state ProvinceState) int {
	n := 0
	for _, p := range s.Provinces {
		if p.State == state {
			n++
		}
	}
	return n
}

type Orchestrator struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	pages   PageFetcher
	store   storage.TenderStore
	now     func() time.Time
}

func NewOrchestrator(
	cfg *config.Config,
	logger *observability.Logger,
	metrics *observability.Metrics,
	pages PageFetcher,
	store storage.TenderStore,
) *Orchestrator {
	return &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		pages:   pages,
		store:   store,
		now:     time.Now,
	}
}

// Run обходит провинции последовательно. Ошибка возвращается только при
// отмене контекста или локальном сбое записи; сводка при этом частичная.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*HarvestSummary, error) {
	provinces, err := o.cfg.SelectProvinces(opts.Provinces, opts.MaxProvinces)
	if err != nil {
		return nil, err
	}
	opts = o.withDefaults(opts)

	var predicates *Predicates
	if opts.UseFilters {
		if predicates, err = NewPredicates(o.cfg); err != nil {
			return nil, err
		}
	}

	summary := &HarvestSummary{Provinces: make([]ProvinceResult, 0, len(provinces))}
	for i, province := range provinces {
		if i > 0 {
			if err := retry.Sleep(ctx, o.cfg.GetProvincePause()); err != nil {
				return summary, err
			}
		}

		res, err := o.harvestProvince(ctx, province, opts, predicates)
		summary.Provinces = append(summary.Provinces, *res)
		if err != nil {
			return summary, err
		}
	}

	return summary, nil
}

func (o *Orchestrator) withDefaults(opts RunOptions) RunOptions {
	if opts.StartPage <= 0 {
		opts.StartPage = o.cfg.Harvest.StartPage
	}
	if opts.EndPage <= 0 {
		opts.EndPage = o.cfg.Harvest.EndPage
	}
	if opts.PageSize <= 0 {
		opts.PageSize = o.cfg.Harvest.PageSize
	}
	if opts.Delay == nil {
		d := o.cfg.GetPageDelay()
		opts.Delay = &d
	}
	if opts.RawDir == "" {
		opts.RawDir = o.cfg.Paths.RawDumpsDir
	}
	if !opts.GetAll {
		opts.GetAll = o.cfg.Harvest.GetAll
	}
	return opts
}

// harvestProvince: машина состояний PENDING → FETCHING(n) → DONE | FAILED
func (o *Orchestrator) harvestProvince(ctx context.Context, province models.Province, opts RunOptions, predicates *Predicates) (*ProvinceResult, error) {
	res := &ProvinceResult{Province: province.Name, State: StatePending}

	o.logger.Info("Starting pagination",
		"province", province.Name,
		"start_page", opts.StartPage,
		"end_page", opts.EndPage,
		"page_size", opts.PageSize,
		"get_all", opts.GetAll,
		"use_filters", opts.UseFilters,
	)

	dump := newRawDump(opts.RawDir, province.Name, o.now())
	defer dump.abort()

	var extra map[string]string
	if opts.UseFilters {
		extra = o.cfg.Harvest.Filters.QueryParams
	}

	res.State = StateFetching
	consecutiveFailures := 0
	page := opts.StartPage

	for {
		o.logger.Debug("Processing page", "province", province.Name, "page", page)
		res.LastPage = page

		result, err := o.pages.FetchPage(ctx, tenderapi.PageQuery{
			Province:      province,
			Page:          page,
			PageSize:      opts.PageSize,
			SortColumn:    o.cfg.Harvest.SortingColumn,
			SortDirection: o.cfg.Harvest.SortingDirection,
			Extra:         extra,
		})

		switch {
		case err != nil && ctx.Err() != nil:
			res.StoppedReason = fmt.Sprintf("interrupted at page %d", page)
			return res, ctx.Err()

		case err != nil && retry.IsExhausted(err):
			res.PagesFailed++
			o.countPage(province.Name, "failed")
			o.logger.Error("Retries exhausted, province failed",
				"province", province.Name,
				"page", page,
				"error", err.Error(),
			)
			res.State = StateFailed
			res.StoppedReason = fmt.Sprintf("retries exhausted at page %d", page)
			return res, o.finishDump(dump, res)

		case err != nil:
			res.PagesFailed++
			consecutiveFailures++
			o.countPage(province.Name, "failed")
			o.logger.Warn("Page failed, skipping",
				"province", province.Name,
				"page", page,
				"consecutive_failures", consecutiveFailures,
				"error", err.Error(),
			)
			if consecutiveFailures >= o.cfg.Harvest.MaxConsecutivePageFailures {
				res.State = StateFailed
				res.StoppedReason = fmt.Sprintf("%d consecutive page failures at page %d", consecutiveFailures, page)
				return res, o.finishDump(dump, res)
			}

		default:
			consecutiveFailures = 0
			res.PagesFetched++
			res.Dropped += result.Dropped
			o.countPage(province.Name, "ok")

			if err := o.storePage(result.Items, res, predicates, dump); err != nil {
				res.StoppedReason = fmt.Sprintf("local storage failure at page %d", page)
				return res, err
			}

			o.logger.Info("Page analysis",
				"province", province.Name,
				"page", page,
				"items", len(result.Items),
				"total", result.Total,
				"has_more", result.HasMore,
			)

			if !result.HasMore {
				res.State = StateDone
				res.StoppedReason = fmt.Sprintf("no more pages after page %d", page)
				return res, o.finishDump(dump, res)
			}
		}

		if !opts.GetAll && opts.EndPage > 0 && page >= opts.EndPage {
			res.State = StateDone
			res.StoppedReason = fmt.Sprintf("end page %d reached", opts.EndPage)
			return res, o.finishDump(dump, res)
		}

		page++
		// пауза между страницами соблюдается и после ошибки
		if err := retry.Sleep(ctx, *opts.Delay); err != nil {
			res.StoppedReason = fmt.Sprintf("interrupted before page %d", page)
			return res, err
		}
	}
}

// storePage применяет фильтры и сохраняет записи. Возвращает ошибку только
// при локальном сбое файловой системы.
func (o *Orchestrator) storePage(items []models.Summary, res *ProvinceResult, predicates *Predicates, dump *rawDump) error {
	for i := range items {
		s := &items[i]

		if predicates != nil {
			if ok, reason := predicates.Accept(s); !ok {
				res.Rejected++
				o.countTender("rejected")
				o.logger.Debug("Tender rejected by filters", "tender_id", s.ID, "reason", reason)
				continue
			}
		}

		result, err := o.store.Upsert(s.ID, models.NewRecord(s))
		if err != nil {
			if storage.IsLocalIO(err) {
				return err
			}
			res.StoreFailed++
			o.countTender("failed")
			o.logger.Warn("Failed to store tender", "tender_id", s.ID, "error", err.Error())
			continue
		}

		switch result {
		case storage.Created:
			res.Created++
		case storage.Updated:
			res.Updated++
		case storage.Unchanged:
			res.Unchanged++
		}
		o.countTender(string(result))

		if err := dump.write(s.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) finishDump(dump *rawDump, res *ProvinceResult) error {
	path, err := dump.commit()
	if err != nil {
		return err
	}
	res.RawDump = path

	o.logger.Info("Province finished",
		"province", res.Province,
		"state", string(res.State),
		"pages_fetched", res.PagesFetched,
		"pages_failed", res.PagesFailed,
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"rejected", res.Rejected,
		"stopped_reason", res.StoppedReason,
	)
	return nil
}

func (o *Orchestrator) countPage(province, outcome string) {
	if o.metrics != nil {
		o.metrics.Pages.WithLabelValues(province, outcome).Inc()
	}
}

func (o *Orchestrator) countTender(result string) {
	if o.metrics != nil {
		o.metrics.Tenders.WithLabelValues(result).Inc()
	}
}

// rawDump пишет принятые элементы листинга провинции в jsonl вне хранилища.
// Файл создаётся при первой записи; без каталога всё no-op.
type rawDump struct {
	path string
	file *fsstore.AtomicFile
}

func newRawDump(dir, province string, now time.Time) *rawDump {
	if dir == "" {
		return &rawDump{}
	}
	name := fmt.Sprintf("tenders_%s_%s.jsonl", province, now.UTC().Format("20060102T150405Z"))
	return &rawDump{path: filepath.Join(dir, name)}
}

func (d *rawDump) write(payload json.RawMessage) error {
	if d.path == "" {
		return nil
	}
	if d.file == nil {
		f, err := fsstore.CreateAtomic(d.path)
		if err != nil {
			return err
		}
		d.file = f
	}

	var line bytes.Buffer
	if err := json.Compact(&line, payload); err != nil {
		return fmt.Errorf("raw dump: %w", err)
	}
	line.WriteByte('\n')
	_, err := d.file.Write(line.Bytes())
	return err
}

func (d *rawDump) commit() (string, error) {
	if d.file == nil {
		return "", nil
	}
	f := d.file
	d.file = nil
	if err := f.Commit(); err != nil {
		return "", err
	}
	return d.path, nil
}

func (d *rawDump) abort() {
	if d.file != nil {
		d.file.Abort()
		d.file = nil
	}
}

// IsFatal: ошибки, после которых запуск прекращается
func IsFatal(err error) bool {
	return err != nil && (storage.IsLocalIO(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
