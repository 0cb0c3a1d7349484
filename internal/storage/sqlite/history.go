// Package sqlite хранит журнал запусков в SQLite через GORM (pure Go драйвер).
package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
)

// runRow: строка таблицы runs
type runRow struct {
	ID         string    `gorm:"primaryKey;size:36"`
	Command    string    `gorm:"size:32;index"`
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
	Status     string `gorm:"size:32"`
	Processed  int
	Succeeded  int
	Skipped    int
	Failed     int
	Details    string
}

func (runRow) TableName() string { return "runs" }

type History struct {
	db             *gorm.DB
	commandTimeout time.Duration
	logger         *observability.Logger
}

var _ storage.RunHistory = (*History)(nil)

// OpenSQLite открывает (или создаёт) базу и применяет PRAGMA
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		// запись идёт из одного процесса, одного соединения достаточно
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	return db, nil
}

func NewHistory(path string, commandTimeout time.Duration, log *observability.Logger) (*History, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.AutoMigrate(&runRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}

	return &History{db: db, commandTimeout: commandTimeout, logger: log}, nil
}

// SaveRun: upsert по ID запуска
func (h *History) SaveRun(ctx context.Context, run *storage.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, h.commandTimeout)
	defer cancel()

	row := runRow{
		ID:         run.ID,
		Command:    run.Command,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		Status:     run.Status,
		Processed:  run.Processed,
		Succeeded:  run.Succeeded,
		Skipped:    run.Skipped,
		Failed:     run.Failed,
		Details:    string(run.Details),
	}

	err := h.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (h *History) RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, h.commandTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	var rows []runRow
	err := h.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	runs := make([]storage.RunRecord, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, storage.RunRecord{
			ID:         r.ID,
			Command:    r.Command,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
			Status:     r.Status,
			Processed:  r.Processed,
			Succeeded:  r.Succeeded,
			Skipped:    r.Skipped,
			Failed:     r.Failed,
			Details:    []byte(r.Details),
		})
	}
	return runs, nil
}

func (h *History) Close() error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
