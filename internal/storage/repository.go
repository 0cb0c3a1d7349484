package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tender-harvester/internal/models"
)

// ErrNotFound: tender.json для ID отсутствует
var ErrNotFound = errors.New("tender not found")

// UpsertResult: что сделал Upsert с записью
type UpsertResult string

const (
	Created   UpsertResult = "created"
	Updated   UpsertResult = "updated"
	Unchanged UpsertResult = "unchanged"
)

// TenderStore: локальное иерархическое хранилище тендеров:
// <root>/<tenderId>/{tender.json, documents.json, attachments/, no_attachments}
type TenderStore interface {
	// Exists проверяет наличие tender.json
	Exists(id string) (bool, error)

	// Upsert заменяет payload; documents.json и attachments/ не трогает
	Upsert(id string, rec *models.Record) (UpsertResult, error)

	Read(id string) (*models.Record, error)

	// ListKnownIDs возвращает отсортированные ID папок, подходящих под glob
	ListKnownIDs(pattern string) ([]string, error)

	SaveDocuments(id string, docs []models.Document) error
	LoadDocuments(id string) ([]models.Document, error)
	HasDocuments(id string) (bool, error)

	// AttachmentsDir создаёт (если нужно) и возвращает каталог вложений
	AttachmentsDir(id string) (string, error)
	MarkNoAttachments(id string) error

	Root() string
}

// LocalIOError: сбой локальной файловой системы. Такие ошибки не
// повторяются и останавливают запуск.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local io: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

func IsLocalIO(err error) bool {
	var le *LocalIOError
	return errors.As(err, &le)
}

// WrapIO заворачивает ошибку файловой системы в *LocalIOError; nil остаётся nil
func WrapIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if IsLocalIO(err) {
		return err
	}
	return &LocalIOError{Op: op, Path: path, Err: err}
}

// RunRecord: строка журнала запусков
type RunRecord struct {
	ID         string
	Command    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
	Processed  int
	Succeeded  int
	Skipped    int
	Failed     int
	Details    json.RawMessage
}

// RunHistory: журнал запусков (sqlite или mssql)
type RunHistory interface {
	// SaveRun сохраняет или обновляет запись по ID
	SaveRun(ctx context.Context, run *RunRecord) error

	// RecentRuns возвращает последние запуски, новые первыми
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	Close() error
}
