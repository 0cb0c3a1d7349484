package main

import (
	"context"

	"github.com/spf13/cobra"

	"tender-harvester/internal/app"
	"tender-harvester/internal/filter"
)

// filterRun: сводка фильтра в терминах журнала запусков
type filterRun struct {
	*filter.FilterResult
}

func (r filterRun) Counts() app.RunCounts {
	return app.RunCounts{
		Processed: r.DocumentsScanned,
		Succeeded: len(r.Matches),
		Skipped:   r.TendersSkipped,
	}
}

func filterCmd(root *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "filter [pattern]",
		Short: "List stored documents whose file name matches a configured pattern",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(root)
			if err != nil {
				return err
			}

			var pattern string
			if len(args) == 1 {
				pattern = args[0]
			}
			finder := filter.NewFinder(rt.cfg, rt.store, rt.logger)

			return rt.run("filter", func(ctx context.Context) (app.Countable, error) {
				res, err := finder.Filter(ctx, pattern, output)
				if res == nil {
					return nil, err
				}
				return filterRun{res}, err
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default paths.output_dir/filter.output_file)")

	return cmd
}
