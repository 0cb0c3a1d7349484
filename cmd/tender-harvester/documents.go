package main

import (
	"context"

	"github.com/spf13/cobra"

	"tender-harvester/internal/app"
	"tender-harvester/internal/tenderapi"
)

func documentsCmd(root *rootOptions) *cobra.Command {
	var opts app.AcquisitionOptions

	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Fetch document metadata and download attachments for tenders",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(root)
			if err != nil {
				return err
			}

			metadata := tenderapi.NewDocumentClient(rt.cfg, rt.fetcher, rt.logger, rt.metrics)
			downloader := app.NewDownloader(rt.cfg, rt.logger, rt.metrics, rt.fetcher, rt.store)
			svc := app.NewAcquisitionService(rt.cfg, rt.logger, metadata, downloader, rt.store)

			// ошибку в наборе ID отдаём до старта запуска
			if _, err := svc.ResolveIDs(opts); err != nil {
				rt.close()
				return err
			}

			return rt.run("documents", func(ctx context.Context) (app.Countable, error) {
				summary, err := svc.Run(ctx, opts)
				if summary == nil {
					return nil, err
				}
				return summary, err
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.IDs, "tender-id", nil, "Tender id (repeatable or comma-separated)")
	cmd.Flags().StringVar(&opts.IDsFile, "tender-ids-file", "", "File with one tender id per line")
	cmd.Flags().BoolVar(&opts.Auto, "auto", false, "Process every tender folder in the store")
	cmd.Flags().StringVar(&opts.GlobPattern, "glob-pattern", "*", "Folder name pattern for --auto")
	cmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "Download even if a verified file exists")
	cmd.Flags().BoolVar(&opts.MetadataOnly, "metadata-only", false, "Save documents.json without downloading files")
	cmd.Flags().BoolVar(&opts.UseCachedMetadata, "use-cached-metadata", false, "Reuse an existing documents.json instead of the API")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "Tenders processed in parallel (default documents.concurrency)")

	return cmd
}
