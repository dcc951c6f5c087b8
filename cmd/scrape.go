package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/app"
)

func newScrapeCmd() *cobra.Command {
	var flags rangeFlags
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Scrapes raw vacancies without extracting skills or persisting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			req, err := flags.request()
			if err != nil {
				return err
			}
			if req.Region == "" {
				req.Region = rt.cfg.Pipeline.DefaultRegion
			}
			if req.Query == "" {
				req.Query = rt.cfg.Pipeline.DefaultQuery
			}

			a, err := app.Build(cmd.Context(), rt.cfg, rt.logger, app.PartScraper)
			if err != nil {
				return err
			}
			defer a.Close()

			raws, err := a.Scraper().ParseRange(cmd.Context(), req.Region, req.Query, req.PageStart, req.PageEnd)
			if err != nil {
				return fmt.Errorf("scrape: %w", err)
			}
			rt.logger.Info("scrape finished", zap.Int("vacancies", len(raws)))
			return writeJSON(cmd.OutOrStdout(), flags.output, raws)
		},
	}
	flags.bind(cmd)
	return cmd
}
