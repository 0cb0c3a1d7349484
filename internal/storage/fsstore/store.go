package fsstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tender-harvester/internal/checksum"
	"tender-harvester/internal/models"
	"tender-harvester/internal/normalize"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
)

const (
	tenderFile       = "tender.json"
	documentsFile    = "documents.json"
	noAttachmentsTag = "no_attachments"
)

// Store: файловая реализация storage.TenderStore
type Store struct {
	root           string
	attachmentsDir string
	checksum       *checksum.Generator
	logger         *observability.Logger
	now            func() time.Time
}

var _ storage.TenderStore = (*Store)(nil)

func New(root, attachmentsSubdir string, logger *observability.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, storage.WrapIO("mkdir", root, err)
	}
	if attachmentsSubdir == "" {
		attachmentsSubdir = "attachments"
	}

	return &Store{
		root:           root,
		attachmentsDir: attachmentsSubdir,
		checksum:       checksum.NewGenerator(),
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) Exists(id string) (bool, error) {
	dir, err := s.dir(id)
	if err != nil {
		return false, err
	}
	return fileExists(filepath.Join(dir, tenderFile))
}

// Upsert сохраняет запись. Если payload (по хешу) и провинция не изменились,
// файл не переписывается и updatedAt остаётся прежним.
func (s *Store) Upsert(id string, rec *models.Record) (storage.UpsertResult, error) {
	dir, err := s.dir(id)
	if err != nil {
		return "", err
	}

	var payload bytes.Buffer
	if err := json.Compact(&payload, rec.Payload); err != nil {
		return "", fmt.Errorf("tender %s: invalid payload: %w", id, err)
	}
	hash, err := s.checksum.PayloadHash(payload.Bytes())
	if err != nil {
		return "", fmt.Errorf("tender %s: %w", id, err)
	}

	result := storage.Created
	existing, err := s.Read(id)
	switch {
	case err == nil:
		if existing.PayloadHash == hash && existing.Province == rec.Province {
			return storage.Unchanged, nil
		}
		result = storage.Updated
	case errors.Is(err, storage.ErrNotFound):
	case storage.IsLocalIO(err):
		return "", err
	default:
		// битый tender.json перезаписываем
		s.logger.Warn("Overwriting unreadable tender.json", "tender_id", id, "error", err.Error())
		result = storage.Updated
	}

	out := *rec
	out.ID = id
	out.Payload = payload.Bytes()
	out.PayloadHash = hash
	out.UpdatedAt = s.now()

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("tender %s: marshal: %w", id, err)
	}
	if err := WriteFileAtomic(filepath.Join(dir, tenderFile), append(data, '\n')); err != nil {
		return "", err
	}

	return result, nil
}

func (s *Store) Read(id string) (*models.Record, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, tenderFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("tender %s: %w", id, storage.ErrNotFound)
		}
		return nil, storage.WrapIO("read", path, err)
	}

	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("tender %s: decode %s: %w", id, tenderFile, err)
	}
	return &rec, nil
}

// ListKnownIDs ищет папки тендеров по glob-шаблону ("" == "*").
// Папка без tender.json тоже считается известной.
func (s *Store) ListKnownIDs(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, storage.WrapIO("readdir", s.root, err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			ids = append(ids, name)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveDocuments атомарно переписывает documents.json
func (s *Store) SaveDocuments(id string, docs []models.Document) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	if docs == nil {
		docs = []models.Document{}
	}

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("tender %s: marshal documents: %w", id, err)
	}
	if err := WriteFileAtomic(filepath.Join(dir, documentsFile), append(data, '\n')); err != nil {
		return err
	}

	if len(docs) > 0 {
		marker := filepath.Join(dir, noAttachmentsTag)
		if err := os.Remove(marker); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return storage.WrapIO("remove", marker, err)
		}
	}
	return nil
}

// LoadDocuments читает documents.json; отсутствие файла: storage.ErrNotFound
func (s *Store) LoadDocuments(id string) ([]models.Document, error) {
	dir, err := s.dir(id)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, documentsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("tender %s documents: %w", id, storage.ErrNotFound)
		}
		return nil, storage.WrapIO("read", path, err)
	}

	var docs []models.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("tender %s: decode %s: %w", id, documentsFile, err)
	}
	return docs, nil
}

func (s *Store) HasDocuments(id string) (bool, error) {
	dir, err := s.dir(id)
	if err != nil {
		return false, err
	}
	return fileExists(filepath.Join(dir, documentsFile))
}

func (s *Store) AttachmentsDir(id string) (string, error) {
	dir, err := s.dir(id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, s.attachmentsDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", storage.WrapIO("mkdir", path, err)
	}
	return path, nil
}

// MarkNoAttachments оставляет маркер "документов нет"
func (s *Store) MarkNoAttachments(id string) error {
	dir, err := s.dir(id)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, noAttachmentsTag)
	if ok, err := fileExists(path); err != nil || ok {
		return err
	}
	return WriteFileAtomic(path, nil)
}

// RelPath: путь относительно корня хранилища, со слешами
func (s *Store) RelPath(path string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (s *Store) dir(id string) (string, error) {
	clean, err := normalize.TenderID(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, clean), nil
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storage.WrapIO("stat", path, err)
	}
	return !info.IsDir(), nil
}
