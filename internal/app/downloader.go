package app

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tender-harvester/internal/checksum"
	"tender-harvester/internal/config"
	"tender-harvester/internal/fetcher"
	"tender-harvester/internal/models"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/retry"
	"tender-harvester/internal/storage"
	"tender-harvester/internal/storage/fsstore"
)

// Streamer: потоковая загрузка тела ответа (fetcher.Fetcher)
type Streamer interface {
	Stream(ctx context.Context, endpoint, ref string, w io.Writer) (written, contentLength int64, err error)
}

type DownloadResult struct {
	// Path: абсолютный путь файла, RelPath: относительно корня хранилища
	Path     string
	RelPath  string
	Bytes    int64
	Skipped  bool
	Attempts int
}

// Downloader скачивает вложения в attachments/ тендера: временный файл,
// fsync, проверка размера и контрольной суммы, rename.
type Downloader struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	streamer Streamer
	store    storage.TenderStore
	policy   retry.Policy
	checksum *checksum.Generator
}

func NewDownloader(cfg *config.Config, logger *observability.Logger, metrics *observability.Metrics, streamer Streamer, store storage.TenderStore) *Downloader {
	return &Downloader{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		streamer: streamer,
		store:    store,
		policy:   retry.FromConfig(cfg, fetcher.IsTransient),
		checksum: checksum.NewGenerator(),
	}
}

// Download сохраняет документ под именем fileName. Уже скачанный файл,
// совпадающий по заявленным размеру и хешу, пропускается (кроме overwrite).
func (d *Downloader) Download(ctx context.Context, tenderID string, doc models.Document, fileName string, overwrite bool) (*DownloadResult, error) {
	dir, err := d.store.AttachmentsDir(tenderID)
	if err != nil {
		return nil, err
	}
	dest := filepath.Join(dir, fileName)
	rel, err := filepath.Rel(d.store.Root(), dest)
	if err != nil {
		return nil, storage.WrapIO("rel", dest, err)
	}
	res := &DownloadResult{Path: dest, RelPath: filepath.ToSlash(rel)}

	if !overwrite {
		ok, err := d.alreadyPresent(dest, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			res.Skipped = true
			d.count("skipped")
			d.logger.Debug("Attachment already present", "tender_id", tenderID, "file", fileName)
			return res, nil
		}
	}

	source, err := d.sourceURL(tenderID, doc, fileName)
	if err != nil {
		d.count("failed")
		return nil, err
	}

	policy := d.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		d.logger.Warn("Retrying download",
			"tender_id", tenderID,
			"file", fileName,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)
		if d.metrics != nil {
			d.metrics.Retries.WithLabelValues("download").Inc()
		}
	}

	err = policy.Do(ctx, func(ctx context.Context) error {
		res.Attempts++
		n, err := d.fetchTo(ctx, source, dest, doc)
		if err != nil {
			return err
		}
		res.Bytes = n
		return nil
	})
	if err != nil {
		d.count("failed")
		return nil, fmt.Errorf("download %s/%s: %w", tenderID, fileName, err)
	}

	d.count("downloaded")
	if d.metrics != nil {
		d.metrics.Bytes.Add(float64(res.Bytes))
	}
	d.logger.Debug("Attachment downloaded",
		"tender_id", tenderID,
		"file", fileName,
		"bytes", res.Bytes,
		"attempts", res.Attempts,
	)
	return res, nil
}

// fetchTo: одна попытка: поток во временный файл, проверки, rename
func (d *Downloader) fetchTo(ctx context.Context, source, dest string, doc models.Document) (int64, error) {
	file, err := fsstore.CreateAtomic(dest)
	if err != nil {
		return 0, err
	}
	defer file.Abort()

	var w io.Writer = file
	hash := d.checksum.NewHash(doc.Checksum)
	if hash != nil {
		w = io.MultiWriter(file, hash)
	}

	written, contentLength, err := d.streamer.Stream(ctx, "download", source, w)
	if err != nil {
		return 0, err
	}
	if contentLength >= 0 && written != contentLength {
		return 0, fetcher.Transient(fmt.Errorf("truncated body: got %d of %d bytes", written, contentLength))
	}
	if doc.Size > 0 && written != doc.Size {
		return 0, fetcher.Transient(fmt.Errorf("size mismatch: got %d, declared %d", written, doc.Size))
	}
	if hash != nil && !d.checksum.Matches(hash, doc.Checksum) {
		return 0, fetcher.Transient(fmt.Errorf("checksum mismatch"))
	}

	if err := file.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

func (d *Downloader) alreadyPresent(dest string, doc models.Document) (bool, error) {
	info, err := os.Stat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, storage.WrapIO("stat", dest, err)
	}
	if info.IsDir() {
		return false, nil
	}
	if doc.Size > 0 && info.Size() != doc.Size {
		return false, nil
	}
	ok, err := d.checksum.VerifyFile(dest, doc.Checksum)
	if err != nil {
		return false, storage.WrapIO("read", dest, err)
	}
	return ok, nil
}

// sourceURL: шаблон endpoints.download, иначе URL из дескриптора
func (d *Downloader) sourceURL(tenderID string, doc models.Document, fileName string) (string, error) {
	if tpl := d.cfg.API.Endpoints.Download; tpl != "" {
		if strings.Contains(tpl, "{documentId}") && doc.DocumentID == "" {
			return "", fetcher.Permanent(fmt.Errorf("document %q has no id for download template", doc.FileName))
		}
		return strings.NewReplacer(
			"{tenderId}", url.PathEscape(tenderID),
			"{documentId}", url.PathEscape(doc.DocumentID),
			"{fileName}", url.PathEscape(fileName),
		).Replace(tpl), nil
	}
	if doc.URL == "" {
		return "", fetcher.Permanent(fmt.Errorf("document %q has no download url", doc.FileName))
	}
	return doc.URL, nil
}

func (d *Downloader) count(result string) {
	if d.metrics != nil {
		d.metrics.Documents.WithLabelValues(result).Inc()
	}
}
