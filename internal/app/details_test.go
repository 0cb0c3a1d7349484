package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tender-harvester/internal/fetcher"
	"tender-harvester/internal/models"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
)

type fakeTenders struct {
	payloads map[string]string
	calls    []string
}

func (f *fakeTenders) FetchTender(ctx context.Context, tenderID string) (json.RawMessage, error) {
	f.calls = append(f.calls, tenderID)
	payload, ok := f.payloads[tenderID]
	if !ok {
		return nil, fetcher.Permanent(errors.New("not found"))
	}
	return json.RawMessage(payload), nil
}

func TestDetailServiceRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.Harvest.DateField = "initiationDate"
	store := newStore(t, cfg)

	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	_, err := store.Upsert("T1", &models.Record{ID: "T1", Province: "mazowieckie", InitiationDate: &date, Payload: json.RawMessage(`{"v":1}`)})
	require.NoError(t, err)

	tenders := &fakeTenders{payloads: map[string]string{
		"T1": `{"v":2}`,
		"T2": `{"v":1, "initiationDate": "2024-02-03T10:00:00Z"}`,
	}}
	svc := NewDetailService(cfg, observability.NewNopLogger(), observability.NewMetrics(), tenders, store)

	res, err := svc.Run(context.Background(), DetailOptions{IDs: []string{"T1", "T2", "T3", "../x"}})
	require.NoError(t, err)
	require.Equal(t, 1, res.Saved)
	require.Equal(t, 1, res.Skipped)
	require.Equal(t, 2, res.Failed)
	require.Equal(t, []string{"T2", "T3"}, tenders.calls)

	rec, err := store.Read("T2")
	require.NoError(t, err)
	require.NotNil(t, rec.InitiationDate)
	require.True(t, rec.InitiationDate.Equal(time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC)))

	// overwrite: payload обновлён, провинция и дата из листинга сохранены
	res, err = svc.Run(context.Background(), DetailOptions{IDs: []string{"T1"}, Overwrite: true})
	require.NoError(t, err)
	require.Equal(t, string(storage.Updated), res.Results[0].Status)

	rec, err = store.Read("T1")
	require.NoError(t, err)
	require.Equal(t, "mazowieckie", rec.Province)
	require.True(t, rec.InitiationDate.Equal(date))
	require.JSONEq(t, `{"v":2}`, string(rec.Payload))

	res, err = svc.Run(context.Background(), DetailOptions{IDs: []string{"T1"}, Overwrite: true})
	require.NoError(t, err)
	require.Equal(t, 1, res.Unchanged)
}

func TestDetailServiceCancelled(t *testing.T) {
	cfg := testConfig(t)
	store := newStore(t, cfg)
	tenders := &fakeTenders{payloads: map[string]string{"T1": `{}`}}
	svc := NewDetailService(cfg, observability.NewNopLogger(), nil, tenders, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, DetailOptions{IDs: []string{"T1"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, tenders.calls)
}

type memoryHistory struct {
	runs []storage.RunRecord
	err  error
}

func (m *memoryHistory) SaveRun(ctx context.Context, run *storage.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memoryHistory) RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	return m.runs, nil
}

func (m *memoryHistory) Close() error { return nil }

func TestRunRecorder(t *testing.T) {
	history := &memoryHistory{}
	recorder := NewRunRecorder(history, observability.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	run := recorder.Start(ctx, "harvest")
	require.NotEmpty(t, run.ID)
	require.Equal(t, RunRunning, run.Status)

	cancel()
	summary := &DetailSummary{Saved: 2, Failed: 1, Results: make([]DetailResult, 3)}
	recorder.Finish(ctx, run, summary, context.Canceled)

	require.Len(t, history.runs, 2)
	last := history.runs[1]
	require.Equal(t, RunInterrupted, last.Status)
	require.Equal(t, 3, last.Processed)
	require.Equal(t, 2, last.Succeeded)
	require.Equal(t, 1, last.Failed)
	require.False(t, last.FinishedAt.IsZero())
	require.Contains(t, string(last.Details), `"saved":2`)

	// ошибки журнала не пробрасываются
	broken := NewRunRecorder(&memoryHistory{err: errors.New("db down")}, observability.NewNopLogger())
	run = broken.Start(context.Background(), "documents")
	broken.Finish(context.Background(), run, nil, errors.New("boom"))
	require.Equal(t, RunFailed, run.Status)

	NewRunRecorder(nil, observability.NewNopLogger()).Finish(context.Background(), run, nil, nil)
	require.Equal(t, RunCompleted, run.Status)
}
