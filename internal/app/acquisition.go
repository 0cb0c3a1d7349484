package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"tender-harvester/internal/config"
	"tender-harvester/internal/models"
	"tender-harvester/internal/normalize"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
)

// MetadataFetcher: источник дескрипторов документов (tenderapi.DocumentClient)
type MetadataFetcher interface {
	FetchDocuments(ctx context.Context, tenderID string) ([]models.Document, error)
}

type AcquisitionOptions struct {
	IDs         []string
	IDsFile     string
	Auto        bool
	GlobPattern string

	Overwrite         bool
	MetadataOnly      bool
	UseCachedMetadata bool
	// Concurrency: число тендеров в работе; 0: documents.concurrency
	Concurrency int
}

const (
	TenderDone        = "done"
	TenderPartial     = "partial"
	TenderFailed      = "failed"
	TenderSkipped     = "skipped"
	TenderNoDocuments = "no_documents"
)

type TenderOutcome struct {
	TenderID   string `json:"tenderId"`
	Status     string `json:"status"`
	Documents  int    `json:"documents"`
	Downloaded int    `json:"downloaded"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

type AcquisitionSummary struct {
	TendersProcessed        int             `json:"tendersProcessed"`
	TendersFailed           int             `json:"tendersFailed"`
	TendersSkipped          int             `json:"tendersSkipped"`
	TendersWithoutDocuments int             `json:"tendersWithoutDocuments"`
	DocumentsDownloaded     int             `json:"documentsDownloaded"`
	DocumentsSkipped        int             `json:"documentsSkipped"`
	DocumentsFailed         int             `json:"documentsFailed"`
	Results                 []TenderOutcome `json:"results"`
}

func (s *AcquisitionSummary) Counts() RunCounts {
	return RunCounts{
		Processed: s.TendersProcessed,
		Succeeded: s.DocumentsDownloaded,
		Skipped:   s.DocumentsSkipped + s.TendersSkipped,
		Failed:    s.DocumentsFailed + s.TendersFailed,
	}
}

// AcquisitionService скачивает метаданные и вложения для набора тендеров
type AcquisitionService struct {
	cfg        *config.Config
	logger     *observability.Logger
	metadata   MetadataFetcher
	downloader *Downloader
	store      storage.TenderStore
}

func NewAcquisitionService(cfg *config.Config, logger *observability.Logger, metadata MetadataFetcher, downloader *Downloader, store storage.TenderStore) *AcquisitionService {
	return &AcquisitionService{
		cfg:        cfg,
		logger:     logger,
		metadata:   metadata,
		downloader: downloader,
		store:      store,
	}
}

// Run обрабатывает тендеры в ограниченном пуле. Сбой одного документа или
// тендера не останавливает остальные. Локальный сбой ФС и отмена прерывают весь запуск.
func (s *AcquisitionService) Run(ctx context.Context, opts AcquisitionOptions) (*AcquisitionSummary, error) {
	ids, err := s.ResolveIDs(opts)
	if err != nil {
		return nil, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = s.cfg.Documents.Concurrency
	}

	s.logger.Info("Starting document acquisition",
		"tenders", len(ids),
		"concurrency", concurrency,
		"metadata_only", opts.MetadataOnly,
		"use_cached_metadata", opts.UseCachedMetadata,
		"overwrite", opts.Overwrite,
	)

	outcomes := make([]TenderOutcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		i, id := i, id
		g.Go(func() error {
			out, err := s.processTender(gctx, id, opts)
			outcomes[i] = *out
			if IsFatal(err) {
				return err
			}
			return nil
		})
	}
	runErr := g.Wait()
	if runErr == nil {
		runErr = ctx.Err()
	}

	summary := &AcquisitionSummary{}
	for _, out := range outcomes {
		if out.TenderID == "" {
			continue
		}
		summary.Results = append(summary.Results, out)
		summary.DocumentsDownloaded += out.Downloaded
		summary.DocumentsSkipped += out.Skipped
		summary.DocumentsFailed += out.Failed
		switch out.Status {
		case TenderFailed:
			summary.TendersFailed++
		case TenderSkipped:
			summary.TendersSkipped++
			continue
		case TenderNoDocuments:
			summary.TendersWithoutDocuments++
		}
		summary.TendersProcessed++
	}

	s.logger.Info("Document acquisition finished",
		"tenders_processed", summary.TendersProcessed,
		"tenders_failed", summary.TendersFailed,
		"tenders_skipped", summary.TendersSkipped,
		"tenders_without_documents", summary.TendersWithoutDocuments,
		"documents_downloaded", summary.DocumentsDownloaded,
		"documents_skipped", summary.DocumentsSkipped,
		"documents_failed", summary.DocumentsFailed,
	)
	return summary, runErr
}

// ResolveIDs собирает ID из флагов, файла и хранилища; дубликаты убираются
// с сохранением порядка.
func (s *AcquisitionService) ResolveIDs(opts AcquisitionOptions) ([]string, error) {
	var ids []string
	for _, v := range opts.IDs {
		ids = append(ids, strings.Split(v, ",")...)
	}

	if opts.IDsFile != "" {
		fromFile, err := readIDsFile(opts.IDsFile)
		if err != nil {
			return nil, err
		}
		ids = append(ids, fromFile...)
	}

	if opts.Auto {
		known, err := s.store.ListKnownIDs(opts.GlobPattern)
		if err != nil {
			return nil, err
		}
		ids = append(ids, known...)
	}

	if len(ids) == 0 && !opts.Auto {
		return nil, fmt.Errorf("no tender ids given: use --tender-id, --tender-ids-file or --auto")
	}
	return dedupIDs(ids), nil
}

func readIDsFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tender ids file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			ids = append(ids, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tender ids file: %w", err)
	}
	return ids, nil
}

func dedupIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *AcquisitionService) processTender(ctx context.Context, id string, opts AcquisitionOptions) (*TenderOutcome, error) {
	out := &TenderOutcome{TenderID: id, Status: TenderFailed}

	if _, err := normalize.TenderID(id); err != nil {
		out.Error = err.Error()
		return out, nil
	}

	if opts.MetadataOnly && !opts.Overwrite {
		has, err := s.store.HasDocuments(id)
		if err != nil {
			out.Error = err.Error()
			return out, err
		}
		if has {
			out.Status = TenderSkipped
			return out, nil
		}
	}

	docs, err := s.loadDescriptors(ctx, id, opts.UseCachedMetadata)
	if err != nil {
		out.Error = err.Error()
		if IsFatal(err) || ctx.Err() != nil {
			return out, errors.Join(err, ctx.Err())
		}
		s.logger.Warn("Failed to fetch document metadata", "tender_id", id, "error", err.Error())
		return out, nil
	}

	docs = dedupDocuments(docs)
	out.Documents = len(docs)

	if len(docs) == 0 {
		if err := s.store.SaveDocuments(id, docs); err != nil {
			out.Error = err.Error()
			return out, err
		}
		if err := s.store.MarkNoAttachments(id); err != nil {
			out.Error = err.Error()
			return out, err
		}
		out.Status = TenderNoDocuments
		s.logger.Info("Tender has no documents", "tender_id", id)
		return out, nil
	}

	if err := s.store.SaveDocuments(id, docs); err != nil {
		out.Error = err.Error()
		return out, err
	}
	if opts.MetadataOnly {
		out.Status = TenderDone
		return out, nil
	}

	names := normalize.AssignFileNames(docs)
	for i := range docs {
		if err := ctx.Err(); err != nil {
			return out, s.saveProgress(id, docs, out, err)
		}

		res, err := s.downloader.Download(ctx, id, docs[i], names[i], opts.Overwrite)
		if err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				out.Failed++
				return out, s.saveProgress(id, docs, out, errors.Join(err, ctx.Err()))
			}
			out.Failed++
			s.logger.Warn("Failed to download document",
				"tender_id", id,
				"document_id", docs[i].DocumentID,
				"file", names[i],
				"error", err.Error(),
			)
			continue
		}

		docs[i].LocalPath = res.RelPath
		if res.Skipped {
			out.Skipped++
		} else {
			out.Downloaded++
		}
	}

	if err := s.store.SaveDocuments(id, docs); err != nil {
		out.Error = err.Error()
		return out, err
	}

	switch {
	case out.Failed == 0:
		out.Status = TenderDone
	case out.Downloaded+out.Skipped > 0:
		out.Status = TenderPartial
	default:
		out.Status = TenderFailed
		out.Error = "all downloads failed"
	}
	return out, nil
}

// saveProgress сохраняет уже проставленные localPath перед выходом по ошибке
func (s *AcquisitionService) saveProgress(id string, docs []models.Document, out *TenderOutcome, cause error) error {
	out.Status = TenderPartial
	out.Error = cause.Error()
	if storage.IsLocalIO(cause) {
		return cause
	}
	if err := s.store.SaveDocuments(id, docs); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *AcquisitionService) loadDescriptors(ctx context.Context, id string, useCached bool) ([]models.Document, error) {
	if useCached {
		docs, err := s.store.LoadDocuments(id)
		switch {
		case err == nil:
			return docs, nil
		case storage.IsLocalIO(err):
			return nil, err
		case errors.Is(err, storage.ErrNotFound):
		default:
			s.logger.Warn("Cached documents.json unreadable, refetching", "tender_id", id, "error", err.Error())
		}
	}
	return s.metadata.FetchDocuments(ctx, id)
}

// dedupDocuments убирает повторы по (tenderId, documentId); у документов без
// ID ключом служит пара (имя файла, URL)
func dedupDocuments(docs []models.Document) []models.Document {
	seen := make(map[string]struct{}, len(docs))
	out := docs[:0:0]
	for _, doc := range docs {
		key := "id:" + doc.DocumentID
		if doc.DocumentID == "" {
			key = "file:" + doc.FileName + "\x00" + doc.URL
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, doc)
	}
	return out
}
