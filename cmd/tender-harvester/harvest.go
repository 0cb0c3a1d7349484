package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"tender-harvester/internal/app"
	"tender-harvester/internal/tenderapi"
)

func harvestCmd(root *rootOptions) *cobra.Command {
	var (
		opts    app.RunOptions
		delayMS int
	)

	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Page through the tender listing per province and store tender records",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(root)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("delay") {
				d := time.Duration(delayMS) * time.Millisecond
				opts.Delay = &d
			}

			listing := tenderapi.NewListingClient(rt.cfg, rt.fetcher, rt.logger, rt.metrics)
			orchestrator := app.NewOrchestrator(rt.cfg, rt.logger, rt.metrics, listing, rt.store)

			return rt.run("harvest", func(ctx context.Context) (app.Countable, error) {
				summary, err := orchestrator.Run(ctx, opts)
				if summary == nil {
					return nil, err
				}
				rt.logger.Info("Harvest finished",
					"provinces", len(summary.Provinces),
					"done", summary.ByState(app.StateDone),
					"failed", summary.ByState(app.StateFailed),
				)
				return summary, err
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Provinces, "province", nil, "Province name (repeatable); default all configured")
	cmd.Flags().IntVar(&opts.MaxProvinces, "max-provinces", 0, "Process at most N provinces")
	cmd.Flags().IntVar(&opts.StartPage, "start-page", 0, "First page (default harvest.start_page)")
	cmd.Flags().IntVar(&opts.EndPage, "end-page", 0, "Last page, inclusive (default harvest.end_page)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "Items per page (default harvest.page_size)")
	cmd.Flags().IntVar(&delayMS, "delay", 0, "Delay between pages in ms (default harvest.delay_ms)")
	cmd.Flags().BoolVar(&opts.GetAll, "get-all", false, "Ignore end page and fetch until exhausted")
	cmd.Flags().BoolVar(&opts.UseFilters, "use-filters", false, "Apply harvest.filters inclusion predicates")
	cmd.Flags().StringVar(&opts.RawDir, "raw-dir", "", "Write per-province JSONL dumps of accepted items")

	return cmd
}
