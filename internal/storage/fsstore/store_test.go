package fsstore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tender-harvester/internal/models"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "tenders"), "attachments", observability.NewNopLogger())
	require.NoError(t, err)
	return s
}

func record(id, payload string) *models.Record {
	return &models.Record{ID: id, Province: "mazowieckie", Payload: json.RawMessage(payload)}
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	clock := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }

	res, err := s.Upsert("T1", record("T1", `{"objectId":"T1","title":"Remont"}`))
	require.NoError(t, err)
	require.Equal(t, storage.Created, res)

	path := filepath.Join(s.Root(), "T1", "tender.json")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// тот же payload в другом форматировании, время ушло вперёд
	clock = clock.Add(time.Hour)
	res, err = s.Upsert("T1", record("T1", "{ \"objectId\": \"T1\",\n \"title\": \"Remont\" }"))
	require.NoError(t, err)
	require.Equal(t, storage.Unchanged, res)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)

	res, err = s.Upsert("T1", record("T1", `{"objectId":"T1","title":"Remont mostu"}`))
	require.NoError(t, err)
	require.Equal(t, storage.Updated, res)

	rec, err := s.Read("T1")
	require.NoError(t, err)
	require.True(t, clock.Equal(rec.UpdatedAt))
	require.JSONEq(t, `{"objectId":"T1","title":"Remont mostu"}`, string(rec.Payload))
}

func TestUpsertKeepsDocumentsAndAttachments(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Upsert("T2", record("T2", `{"v":1}`))
	require.NoError(t, err)
	require.NoError(t, s.SaveDocuments("T2", []models.Document{{TenderID: "T2", DocumentID: "1", FileName: "a.pdf"}}))
	dir, err := s.AttachmentsDir("T2")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("pdf"), 0o644))

	_, err = s.Upsert("T2", record("T2", `{"v":2}`))
	require.NoError(t, err)

	docs, err := s.LoadDocuments("T2")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.FileExists(t, filepath.Join(dir, "a.pdf"))
}

func TestReadMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read("nope")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.LoadDocuments("nope")
	require.ErrorIs(t, err, storage.ErrNotFound)

	ok, err := s.Exists("nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInvalidTenderID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Upsert("../escape", record("x", `{}`))
	require.Error(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(s.Root()), "escape"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestListKnownIDs(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"ocds-b", "ocds-a", "other"} {
		_, err := s.Upsert(id, record(id, `{}`))
		require.NoError(t, err)
	}
	// папка без tender.json тоже известна
	_, err := s.AttachmentsDir("ocds-c")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), ".hidden"), 0o755))

	ids, err := s.ListKnownIDs("")
	require.NoError(t, err)
	require.Equal(t, []string{"ocds-a", "ocds-b", "ocds-c", "other"}, ids)

	ids, err = s.ListKnownIDs("ocds-*")
	require.NoError(t, err)
	require.Equal(t, []string{"ocds-a", "ocds-b", "ocds-c"}, ids)

	_, err = s.ListKnownIDs("[")
	require.Error(t, err)

	exists, err := s.Exists("ocds-c")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestNoAttachmentsMarker(t *testing.T) {
	s := newTestStore(t)
	marker := filepath.Join(s.Root(), "T3", "no_attachments")

	require.NoError(t, s.SaveDocuments("T3", nil))
	require.NoError(t, s.MarkNoAttachments("T3"))
	require.NoError(t, s.MarkNoAttachments("T3"))
	require.FileExists(t, marker)

	data, err := os.ReadFile(filepath.Join(s.Root(), "T3", "documents.json"))
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(data))

	// документы появились: маркер снимается
	require.NoError(t, s.SaveDocuments("T3", []models.Document{{TenderID: "T3", DocumentID: "1", FileName: "x.pdf"}}))
	require.NoFileExists(t, marker)
}

func TestConcurrentWritesDifferentIDs(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := "T" + strings.Repeat("x", n+1)
			if _, err := s.Upsert(id, record(id, `{"n":1}`)); err != nil {
				t.Errorf("upsert %s: %v", id, err)
			}
			if err := s.SaveDocuments(id, []models.Document{{TenderID: id, DocumentID: "1"}}); err != nil {
				t.Errorf("save documents %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	ids, err := s.ListKnownIDs("*")
	require.NoError(t, err)
	require.Len(t, ids, 16)

	// временных файлов не осталось
	for _, id := range ids {
		entries, err := os.ReadDir(filepath.Join(s.Root(), id))
		require.NoError(t, err)
		for _, e := range entries {
			require.False(t, strings.HasPrefix(e.Name(), "."), "leftover temp file %s", e.Name())
		}
	}
}

func TestAtomicFileAbort(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o644))

	af, err := CreateAtomic(target)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(filepath.Base(af.TempPath()), ".out.txt.part-"))
	_, err = af.Write([]byte("new"))
	require.NoError(t, err)
	af.Abort()

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "old", string(data))
	require.NoFileExists(t, af.TempPath())

	require.NoError(t, WriteFileAtomic(target, []byte("new")))
	data, err = os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))
}
