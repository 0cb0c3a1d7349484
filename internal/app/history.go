package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
)

// RunCounts: агрегаты запуска для журнала
type RunCounts struct {
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
}

// Countable: сводка команды, которую можно записать в журнал
type Countable interface {
	Counts() RunCounts
}

const (
	RunRunning     = "running"
	RunCompleted   = "completed"
	RunInterrupted = "interrupted"
	RunFailed      = "failed"
)

// RunRecorder пишет запуски в журнал. Журнал вспомогательный: его ошибки
// только логируются. nil history: журнал отключён.
type RunRecorder struct {
	history storage.RunHistory
	logger  *observability.Logger
	now     func() time.Time
}

func NewRunRecorder(history storage.RunHistory, logger *observability.Logger) *RunRecorder {
	return &RunRecorder{
		history: history,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *RunRecorder) Start(ctx context.Context, command string) *storage.RunRecord {
	run := &storage.RunRecord{
		ID:        uuid.NewString(),
		Command:   command,
		StartedAt: r.now(),
		Status:    RunRunning,
	}
	r.save(ctx, run)
	return run
}

// Finish фиксирует итог запуска; summary может быть nil
func (r *RunRecorder) Finish(ctx context.Context, run *storage.RunRecord, summary Countable, runErr error) {
	run.FinishedAt = r.now()
	switch {
	case runErr == nil:
		run.Status = RunCompleted
	case errors.Is(runErr, context.Canceled):
		run.Status = RunInterrupted
	default:
		run.Status = RunFailed
	}

	if summary != nil {
		c := summary.Counts()
		run.Processed = c.Processed
		run.Succeeded = c.Succeeded
		run.Skipped = c.Skipped
		run.Failed = c.Failed
		if details, err := json.Marshal(summary); err == nil {
			run.Details = details
		}
	}

	// контекст запуска мог быть отменён сигналом, итог всё равно пишем
	r.save(context.WithoutCancel(ctx), run)
}

func (r *RunRecorder) save(ctx context.Context, run *storage.RunRecord) {
	if r.history == nil {
		return
	}
	if err := r.history.SaveRun(ctx, run); err != nil {
		r.logger.Warn("Failed to save run history",
			"run_id", run.ID,
			"command", run.Command,
			"error", err.Error(),
		)
	}
}
