package filter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"tender-harvester/internal/config"
	"tender-harvester/internal/models"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage/fsstore"
)

func setup(t *testing.T) (*config.Config, *fsstore.Store) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Paths.TendersDir = filepath.Join(dir, "tenders")
	cfg.Paths.OutputDir = filepath.Join(dir, "out")
	cfg.Filter.Patterns = []models.FilterPattern{
		config.DefaultPattern,
		{Name: "swz", Regex: `\bswz\b`},
		{Name: "by-path", Regex: `^T2/`, MatchFullPath: true},
	}
	cfg.Filter.DefaultPattern = ""
	cfg.API.BaseURL = "https://example.org"
	cfg.Harvest.Provinces = []models.Province{{Name: "mazowieckie"}}
	require.NoError(t, cfg.Validate())

	store, err := fsstore.New(cfg.Paths.TendersDir, cfg.Documents.AttachmentsSubdir, observability.NewNopLogger())
	require.NoError(t, err)
	return cfg, store
}

func TestFilterKosztorys(t *testing.T) {
	cfg, store := setup(t)

	require.NoError(t, store.SaveDocuments("T1", []models.Document{
		{TenderID: "T1", DocumentID: "1", FileName: "Kosztorys_ofertowy.pdf", LocalPath: "T1/attachments/Kosztorys_ofertowy.pdf"},
		{TenderID: "T1", DocumentID: "2", FileName: "SWZ.pdf"},
	}))
	require.NoError(t, store.SaveDocuments("T2", []models.Document{
		{TenderID: "T2", DocumentID: "5", FileName: "KOSZTORYSY inwestorskie.xlsx"},
		{TenderID: "T2", DocumentID: "6", FileName: "kosztorys.pdf"},
		{TenderID: "T2", DocumentID: "7", FileName: "kosztorys.pdf"},
	}))
	// тендер без documents.json и с битым файлом пропускаются
	_, err := store.AttachmentsDir("T3")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), "T4"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "T4", "documents.json"), []byte("{oops"), 0o644))

	finder := NewFinder(cfg, store, observability.NewNopLogger())
	res, err := finder.Filter(context.Background(), "", "")
	require.NoError(t, err)

	require.Equal(t, "kosztorys", res.Pattern)
	require.Equal(t, 2, res.TendersScanned)
	require.Equal(t, 2, res.TendersSkipped)
	require.Equal(t, []string{
		"T1/attachments/Kosztorys_ofertowy.pdf",
		"T2/attachments/KOSZTORYSY inwestorskie.xlsx",
		"T2/attachments/kosztorys_6.pdf",
		"T2/attachments/kosztorys_7.pdf",
	}, res.Matches)

	data, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, cfg.Filter.OutputFile))
	require.NoError(t, err)
	require.Equal(t, "T1/attachments/Kosztorys_ofertowy.pdf\n"+
		"T2/attachments/KOSZTORYSY inwestorskie.xlsx\n"+
		"T2/attachments/kosztorys_6.pdf\n"+
		"T2/attachments/kosztorys_7.pdf\n", string(data))

	// повторный запуск даёт тот же файл
	again, err := finder.Filter(context.Background(), "kosztorys", "")
	require.NoError(t, err)
	require.Equal(t, res.Matches, again.Matches)
}

func TestFilterFullPathAndEmptyResult(t *testing.T) {
	cfg, store := setup(t)

	require.NoError(t, store.SaveDocuments("T1", []models.Document{{TenderID: "T1", DocumentID: "1", FileName: "a.pdf"}}))
	require.NoError(t, store.SaveDocuments("T2", []models.Document{{TenderID: "T2", DocumentID: "2", FileName: "b.pdf"}}))

	finder := NewFinder(cfg, store, observability.NewNopLogger())
	output := filepath.Join(t.TempDir(), "paths.txt")

	res, err := finder.Filter(context.Background(), "by-path", output)
	require.NoError(t, err)
	require.Equal(t, []string{"T2/attachments/b.pdf"}, res.Matches)

	res, err = finder.Filter(context.Background(), "swz", output)
	require.NoError(t, err)
	require.Empty(t, res.Matches)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestFilterUnknownPattern(t *testing.T) {
	cfg, store := setup(t)
	finder := NewFinder(cfg, store, observability.NewNopLogger())

	_, err := finder.Filter(context.Background(), "missing", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "by-path, kosztorys, swz")
}
