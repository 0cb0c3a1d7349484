package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"tender-harvester/internal/app"
	"tender-harvester/internal/config"
	"tender-harvester/internal/fetcher"
	"tender-harvester/internal/observability"
	"tender-harvester/internal/storage"
	"tender-harvester/internal/storage/fsstore"
	"tender-harvester/internal/storage/mssql"
	"tender-harvester/internal/storage/sqlite"
)

// runtime: всё, что собирается из конфига перед запуском команды
type runtime struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	fetcher  *fetcher.Fetcher
	store    *fsstore.Store
	history  storage.RunHistory
	recorder *app.RunRecorder
}

func setup(opts *rootOptions) (*runtime, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Observability.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger, err := observability.NewLogger(cfg.Observability.LogPath, level, cfg.Observability.Console)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	metrics := observability.NewMetrics()

	f, err := fetcher.NewFetcher(cfg, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to init fetcher: %w", err)
	}

	store, err := fsstore.New(cfg.Paths.TendersDir, cfg.Documents.AttachmentsSubdir, logger)
	if err != nil {
		return nil, err
	}

	history, err := openHistory(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		fetcher:  f,
		store:    store,
		history:  history,
		recorder: app.NewRunRecorder(history, logger),
	}, nil
}

func openHistory(cfg *config.Config, logger *observability.Logger) (storage.RunHistory, error) {
	switch cfg.History.Driver {
	case "sqlite":
		h, err := sqlite.NewHistory(cfg.History.DSN, cfg.GetCommandTimeout(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		return h, nil
	case "mssql":
		r, err := mssql.NewRepository(cfg.History.DSN, cfg.GetCommandTimeout(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		return r, nil
	default:
		return nil, nil
	}
}

// run оборачивает команду: сигналы, журнал запусков, метрики, вывод сводки
func (rt *runtime) run(command string, fn func(ctx context.Context) (app.Countable, error)) error {
	defer rt.close()

	ctx, cancel := app.GracefulShutdown(rt.logger)
	defer cancel()

	record := rt.recorder.Start(ctx, command)
	summary, err := fn(ctx)
	rt.recorder.Finish(ctx, record, summary, err)

	if mErr := rt.metrics.WriteTextfile(rt.cfg.Observability.MetricsPath); mErr != nil {
		rt.logger.Warn("Failed to write metrics", "error", mErr.Error())
	}

	if summary != nil {
		printJSON(summary)
	}
	if err != nil {
		rt.logger.Error("Command stopped", "command", command, "run_id", record.ID, "error", err.Error())
		return err
	}
	rt.logger.Info("Command completed", "command", command, "run_id", record.ID)
	return nil
}

func (rt *runtime) close() {
	if rt.history == nil {
		return
	}
	if err := rt.history.Close(); err != nil {
		rt.logger.Warn("Failed to close run history", "error", err.Error())
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
