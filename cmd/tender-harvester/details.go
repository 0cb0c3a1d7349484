package main

import (
	"context"

	"github.com/spf13/cobra"

	"tender-harvester/internal/app"
	"tender-harvester/internal/tenderapi"
)

func detailsCmd(root *rootOptions) *cobra.Command {
	var (
		ids       []string
		idsFile   string
		overwrite bool
	)

	cmd := &cobra.Command{
		Use:   "details",
		Short: "Fetch full tender records by id, bypassing the listing",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(root)
			if err != nil {
				return err
			}

			// тот же разбор ID, что и у documents
			resolver := app.NewAcquisitionService(rt.cfg, rt.logger, nil, nil, rt.store)
			tenderIDs, err := resolver.ResolveIDs(app.AcquisitionOptions{IDs: ids, IDsFile: idsFile})
			if err != nil {
				rt.close()
				return err
			}

			client := tenderapi.NewDetailClient(rt.cfg, rt.fetcher, rt.logger, rt.metrics)
			svc := app.NewDetailService(rt.cfg, rt.logger, rt.metrics, client, rt.store)

			return rt.run("details", func(ctx context.Context) (app.Countable, error) {
				summary, err := svc.Run(ctx, app.DetailOptions{IDs: tenderIDs, Overwrite: overwrite})
				if summary == nil {
					return nil, err
				}
				return summary, err
			})
		},
	}

	cmd.Flags().StringSliceVar(&ids, "tender-id", nil, "Tender id (repeatable or comma-separated)")
	cmd.Flags().StringVar(&idsFile, "tender-ids-file", "", "File with one tender id per line")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Refetch tenders that already have tender.json")

	return cmd
}
