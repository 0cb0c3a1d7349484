package tenderapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tender-harvester/internal/config"
	"tender-harvester/internal/fetcher"
	"tender-harvester/internal/models"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/retry"
)

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.API.BaseURL = baseURL
	cfg.RateLimit.RPS = 1000
	cfg.RateLimit.Burst = 100
	cfg.Backoff.MaxAttempts = 3
	cfg.Backoff.MinMS = 1
	cfg.Backoff.MaxMS = 5
	cfg.Harvest.PageSize = 2
	return cfg
}

func newGetter(t *testing.T, cfg *config.Config) *fetcher.Fetcher {
	t.Helper()
	f, err := fetcher.NewFetcher(cfg, observability.NewNopLogger(), observability.NewMetrics())
	require.NoError(t, err)
	return f
}

var mazowieckie = models.Province{Name: "mazowieckie", Value: "PL14"}

func TestFetchPageParamsAndShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "/api/Search/SearchTenders", r.URL.Path)
		require.Equal(t, "PL14", q.Get("organizationProvince"))
		require.Equal(t, "2", q.Get("PageSize"))
		require.Equal(t, "InitiationDate", q.Get("SortingColumnName"))
		require.Equal(t, "DESC", q.Get("SortingDirection"))
		require.Equal(t, "Budowlane", q.Get("orderType"))

		switch q.Get("PageNumber") {
		case "1":
			_, _ = w.Write([]byte(`{"data":[{"objectId":"A","initiationDate":"2024-03-01T10:00:00Z"},{"id":17}],"totalCount":3}`))
		case "2":
			_, _ = w.Write([]byte(`{"tenders":[{"objectId":"C"},{"title":"no id"}],"totalCount":3}`))
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	lc := NewListingClient(cfg, newGetter(t, cfg), observability.NewNopLogger(), nil)

	page, err := lc.FetchPage(context.Background(), PageQuery{Province: mazowieckie, Page: 1, Extra: map[string]string{"orderType": "Budowlane"}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.Equal(t, "A", page.Items[0].ID)
	require.Equal(t, "17", page.Items[1].ID)
	require.Equal(t, "mazowieckie", page.Items[0].Province)
	require.True(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Equal(page.Items[0].InitiationDate))
	require.True(t, page.Items[1].InitiationDate.IsZero())
	require.Equal(t, 3, page.Total)
	require.True(t, page.HasMore)

	page, err = lc.FetchPage(context.Background(), PageQuery{Province: mazowieckie, Page: 2, Extra: map[string]string{"orderType": "Budowlane"}})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, 1, page.Dropped)
	require.False(t, page.HasMore)
}

func TestHasMore(t *testing.T) {
	tests := []struct {
		name                         string
		page, pageSize, count, total int
		want                         bool
	}{
		{"empty page", 1, 50, 0, -1, false},
		{"empty page with total", 1, 50, 0, 500, false},
		{"full page no total", 1, 50, 50, -1, true},
		{"short page no total", 3, 50, 12, -1, false},
		{"total says more", 1, 50, 50, 120, true},
		{"total reached", 3, 50, 20, 120, false},
		{"exact boundary", 2, 50, 50, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, hasMore(tt.page, tt.pageSize, tt.count, tt.total))
		})
	}
}

func TestFetchPageRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"objectId":"A"}]`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	metrics := observability.NewMetrics()
	lc := NewListingClient(cfg, newGetter(t, cfg), observability.NewNopLogger(), metrics)

	page, err := lc.FetchPage(context.Background(), PageQuery{Province: mazowieckie, Page: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, int32(3), calls.Load())
	require.False(t, page.HasMore)
}

func TestFetchPageExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	lc := NewListingClient(cfg, newGetter(t, cfg), observability.NewNopLogger(), nil)

	_, err := lc.FetchPage(context.Background(), PageQuery{Province: mazowieckie, Page: 1})
	require.Error(t, err)
	require.True(t, retry.IsExhausted(err))
	require.Equal(t, int32(3), calls.Load())
}

func TestFetchPagePermanent(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }},
		{"html body", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`<html>maintenance</html>`)) }},
		{"broken json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"data":[`)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			cfg := testConfig(srv.URL)
			lc := NewListingClient(cfg, newGetter(t, cfg), observability.NewNopLogger(), nil)

			_, err := lc.FetchPage(context.Background(), PageQuery{Province: mazowieckie, Page: 1})
			require.Error(t, err)
			require.True(t, fetcher.IsPermanent(err))
			require.False(t, retry.IsExhausted(err))
			require.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestFetchDocuments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tenders/T1/documents":
			_, _ = w.Write([]byte(`{"documents":[
				{"objectId":"d1","fileName":"Kosztorys.pdf","downloadUrl":"/files/d1","fileSize":"1024","sha256":"ab"},
				{"id":2,"name":"SWZ.docx","url":"https://cdn.example.org/swz.docx"},
				"garbage"
			]}`))
		case "/api/tenders/T2/documents":
			_, _ = w.Write([]byte(`{"data":null}`))
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	dc := NewDocumentClient(cfg, newGetter(t, cfg), observability.NewNopLogger(), nil)

	docs, err := dc.FetchDocuments(context.Background(), "T1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, models.Document{
		TenderID:   "T1",
		DocumentID: "d1",
		FileName:   "Kosztorys.pdf",
		URL:        "/files/d1",
		Size:       1024,
		Checksum:   "ab",
		Raw:        docs[0].Raw,
	}, docs[0])
	require.Equal(t, "2", docs[1].DocumentID)
	require.Equal(t, "SWZ.docx", docs[1].FileName)

	docs, err = dc.FetchDocuments(context.Background(), "T2")
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestFetchDocumentsQueryParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/Documents", r.URL.Path)
		require.Equal(t, "T9", r.URL.Query().Get("tenderId"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.API.Endpoints.Documents = "/api/Documents"
	dc := NewDocumentClient(cfg, newGetter(t, cfg), observability.NewNopLogger(), nil)

	docs, err := dc.FetchDocuments(context.Background(), "T9")
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestFetchTender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("tenderId") {
		case "T1":
			_, _ = w.Write([]byte(` {"objectId":"T1","title":"Remont"} `))
		case "T2":
			_, _ = w.Write([]byte(`[1,2]`))
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	dc := NewDetailClient(cfg, newGetter(t, cfg), observability.NewNopLogger(), nil)

	payload, err := dc.FetchTender(context.Background(), "T1")
	require.NoError(t, err)
	require.JSONEq(t, `{"objectId":"T1","title":"Remont"}`, string(payload))

	_, err = dc.FetchTender(context.Background(), "T2")
	require.True(t, fetcher.IsPermanent(err))
}

func TestDateParser(t *testing.T) {
	parser := NewDateParser(nil)

	tests := []struct {
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"2024-10-18T09:30:00Z", time.Date(2024, 10, 18, 9, 30, 0, 0, time.UTC), false},
		{"2024-10-18T09:30:00.123", time.Date(2024, 10, 18, 9, 30, 0, 123000000, time.UTC), false},
		{"2024-10-18T11:30:00+02:00", time.Date(2024, 10, 18, 9, 30, 0, 0, time.UTC), false},
		{"2024-10-18", time.Date(2024, 10, 18, 0, 0, 0, 0, time.UTC), false},
		{"18.10.2024", time.Date(2024, 10, 18, 0, 0, 0, 0, time.UTC), false},
		{"yesterday", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		result, err := parser.Parse(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if err == nil && !result.Equal(tt.expected) {
			t.Errorf("Parse(%q) = %v, want %v", tt.input, result, tt.expected)
		}
	}
}
