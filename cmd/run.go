package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/app"
	"github.com/JakeFAU/vacancy-ingest/internal/id/uuid"
	"github.com/JakeFAU/vacancy-ingest/internal/pipeline"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

type rangeFlags struct {
	region    string
	query     string
	pageStart int
	pageEnd   int
	output    string
}

func (f *rangeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.region, "region", "", "listing region subdomain (default pipeline.default_region)")
	cmd.Flags().StringVar(&f.query, "query", "", "search text (default pipeline.default_query)")
	cmd.Flags().IntVar(&f.pageStart, "page-start", 0, "first listing page, inclusive")
	cmd.Flags().IntVar(&f.pageEnd, "page-end", 0, "last listing page, inclusive")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "write JSON results to this file instead of stdout")
}

func (f *rangeFlags) request() (vacancy.RunRequest, error) {
	if f.pageStart < 0 || f.pageEnd < f.pageStart {
		return vacancy.RunRequest{}, fmt.Errorf("%w: [%d, %d]", vacancy.ErrInvalidRange, f.pageStart, f.pageEnd)
	}
	return vacancy.RunRequest{Region: f.region, Query: f.query, PageStart: f.pageStart, PageEnd: f.pageEnd}, nil
}

func newRunCmd() *cobra.Command {
	var flags rangeFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the ingestion pipeline over a listing page range",
		Long: `Scrapes the page range in batches, extracts and clusters skills and
persists every batch before starting the next. Interrupting the command stops it
at the next batch boundary; committed batches stay committed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			req, err := flags.request()
			if err != nil {
				return err
			}
			req.RunID, err = uuid.New().NewID()
			if err != nil {
				return fmt.Errorf("generate run id: %w", err)
			}

			a, err := app.Build(cmd.Context(), rt.cfg, rt.logger, app.PartPipeline)
			if err != nil {
				return err
			}
			defer a.Close()

			results, runErr := a.Pipeline().Run(cmd.Context(), req)
			if err := writeJSON(cmd.OutOrStdout(), flags.output, results); err != nil {
				return err
			}
			if runErr != nil {
				if pipeline.IsCanceled(runErr) {
					rt.logger.Warn("run interrupted", zap.Int("results", len(results)), zap.Error(runErr))
					return nil
				}
				return fmt.Errorf("run pipeline: %w", runErr)
			}
			rt.logger.Info("run finished", zap.String("run_id", req.RunID), zap.Int("results", len(results)))
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}
