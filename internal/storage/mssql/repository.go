package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
)

// Repository: журнал запусков в MS SQL (таблица TblHarvestRuns)
type Repository struct {
	db             *sql.DB
	commandTimeout time.Duration
	logger         *observability.Logger
}

var _ storage.RunHistory = (*Repository)(nil)

const createTableQuery = `
	IF OBJECT_ID(N'dbo.TblHarvestRuns', N'U') IS NULL
	CREATE TABLE dbo.TblHarvestRuns (
		[RunID]      NVARCHAR(36)  NOT NULL PRIMARY KEY,
		[Command]    NVARCHAR(32)  NOT NULL,
		[StartedAt]  DATETIME2     NOT NULL,
		[FinishedAt] DATETIME2     NULL,
		[Status]     NVARCHAR(32)  NOT NULL,
		[Processed]  INT           NOT NULL,
		[Succeeded]  INT           NOT NULL,
		[Skipped]    INT           NOT NULL,
		[Failed]     INT           NOT NULL,
		[Details]    NVARCHAR(MAX) NULL
	);
`

func NewRepository(dsn string, commandTimeout time.Duration, logger *observability.Logger) (*Repository, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Тестируем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableQuery); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure runs table: %w", err)
	}

	return &Repository{
		db:             db,
		commandTimeout: commandTimeout,
		logger:         logger,
	}, nil
}

// SaveRun сохраняет или обновляет запись о запуске
func (r *Repository) SaveRun(ctx context.Context, run *storage.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	// MERGE statement для MS SQL
	query := `
		MERGE INTO dbo.TblHarvestRuns AS target
		USING (SELECT @RunID AS RunID) AS source
		ON target.[RunID] = source.RunID
		WHEN MATCHED THEN
			UPDATE SET
				[FinishedAt] = @FinishedAt,
				[Status] = @Status,
				[Processed] = @Processed,
				[Succeeded] = @Succeeded,
				[Skipped] = @Skipped,
				[Failed] = @Failed,
				[Details] = @Details
		WHEN NOT MATCHED THEN
			INSERT ([RunID], [Command], [StartedAt], [FinishedAt], [Status], [Processed], [Succeeded], [Skipped], [Failed], [Details])
			VALUES (@RunID, @Command, @StartedAt, @FinishedAt, @Status, @Processed, @Succeeded, @Skipped, @Failed, @Details);
	`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			r.logger.Error("Failed to close statement", "error", err.Error())
		}
	}()

	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	var details sql.NullString
	if len(run.Details) > 0 {
		details = sql.NullString{String: string(run.Details), Valid: true}
	}

	_, err = stmt.ExecContext(ctx,
		sql.Named("RunID", run.ID),
		sql.Named("Command", run.Command),
		sql.Named("StartedAt", run.StartedAt.UTC()),
		sql.Named("FinishedAt", finishedAt),
		sql.Named("Status", run.Status),
		sql.Named("Processed", run.Processed),
		sql.Named("Succeeded", run.Succeeded),
		sql.Named("Skipped", run.Skipped),
		sql.Named("Failed", run.Failed),
		sql.Named("Details", details),
	)
	if err != nil {
		return fmt.Errorf("failed to execute upsert: %w", err)
	}

	return nil
}

// RecentRuns возвращает последние запуски, новые первыми
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT TOP (@Limit) [RunID], [Command], [StartedAt], [FinishedAt], [Status],
			[Processed], [Succeeded], [Skipped], [Failed], [Details]
		FROM dbo.TblHarvestRuns
		ORDER BY [StartedAt] DESC
	`

	rows, err := r.db.QueryContext(ctx, query, sql.Named("Limit", limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "error", err.Error())
		}
	}()

	var runs []storage.RunRecord
	for rows.Next() {
		var (
			run        storage.RunRecord
			finishedAt sql.NullTime
			details    sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Command, &run.StartedAt, &finishedAt, &run.Status,
			&run.Processed, &run.Succeeded, &run.Skipped, &run.Failed, &details); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finishedAt.Valid {
			run.FinishedAt = finishedAt.Time
		}
		if details.Valid {
			run.Details = []byte(details.String)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// Close закрывает соединение с БД
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
