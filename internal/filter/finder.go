// Package filter отбирает документы по имени файла (регулярка из конфига)
// и пишет список относительных путей в плоский файл.
package filter

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"tender-harvester/internal/config"
	"tender-harvester/internal/normalize"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
	"tender-harvester/internal/storage/fsstore"
)

type FilterResult struct {
	Pattern          string   `json:"pattern"`
	OutputPath       string   `json:"outputPath"`
	TendersScanned   int      `json:"tendersScanned"`
	TendersSkipped   int      `json:"tendersSkipped"`
	DocumentsScanned int      `json:"documentsScanned"`
	Matches          []string `json:"matches"`
}

// Finder работает только на чтение по хранилищу; пишет лишь выходной файл
type Finder struct {
	cfg    *config.Config
	store  storage.TenderStore
	logger *observability.Logger
}

func NewFinder(cfg *config.Config, store storage.TenderStore, logger *observability.Logger) *Finder {
	return &Finder{cfg: cfg, store: store, logger: logger}
}

// OutputPath: путь выходного файла по умолчанию
func (f *Finder) OutputPath() string {
	if filepath.IsAbs(f.cfg.Filter.OutputFile) {
		return f.cfg.Filter.OutputFile
	}
	return filepath.Join(f.cfg.Paths.OutputDir, f.cfg.Filter.OutputFile)
}

// Filter проходит по всем тендерам и пишет совпавшие пути (отсортированные,
// без повторов) в output, перезаписывая файл атомарно. Пустой patternName:
// шаблон по умолчанию, пустой output: OutputPath().
func (f *Finder) Filter(ctx context.Context, patternName, output string) (*FilterResult, error) {
	if patternName == "" {
		patternName = f.cfg.Filter.DefaultPattern
	}
	pattern, re, err := f.cfg.Pattern(patternName)
	if err != nil {
		return nil, err
	}
	if output == "" {
		output = f.OutputPath()
	}

	ids, err := f.store.ListKnownIDs("*")
	if err != nil {
		return nil, err
	}

	res := &FilterResult{Pattern: pattern.Name, OutputPath: output}
	matched := make(map[string]struct{})

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		docs, err := f.store.LoadDocuments(id)
		if err != nil {
			switch {
			case errors.Is(err, storage.ErrNotFound):
				f.logger.Debug("No documents.json, skipping", "tender_id", id)
			case storage.IsLocalIO(err):
				f.logger.Warn("Cannot read documents.json, skipping", "tender_id", id, "error", err.Error())
			default:
				f.logger.Warn("Malformed documents.json, skipping", "tender_id", id, "error", err.Error())
			}
			res.TendersSkipped++
			continue
		}
		res.TendersScanned++

		names := normalize.AssignFileNames(docs)
		for i, doc := range docs {
			res.DocumentsScanned++

			rel := doc.LocalPath
			if rel == "" {
				rel = path.Join(id, f.cfg.Documents.AttachmentsSubdir, names[i])
			}

			target := doc.FileName
			if pattern.MatchFullPath || target == "" {
				target = rel
			}
			if re.MatchString(target) {
				matched[rel] = struct{}{}
			}
		}
	}

	res.Matches = make([]string, 0, len(matched))
	for rel := range matched {
		res.Matches = append(res.Matches, rel)
	}
	sort.Strings(res.Matches)

	var content string
	if len(res.Matches) > 0 {
		content = strings.Join(res.Matches, "\n") + "\n"
	}
	if err := fsstore.WriteFileAtomic(output, []byte(content)); err != nil {
		return res, err
	}

	f.logger.Info("Filter finished",
		"pattern", pattern.Name,
		"tenders_scanned", res.TendersScanned,
		"tenders_skipped", res.TendersSkipped,
		"documents_scanned", res.DocumentsScanned,
		"matches", len(res.Matches),
		"output", output,
	)
	return res, nil
}
