package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/app"
	"github.com/JakeFAU/vacancy-ingest/internal/seed"
)

func newSeedCmd() *cobra.Command {
	var (
		dataset   string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Loads an id,name,skills CSV dataset into the store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if dataset == "" {
				return errors.New("--dataset is required")
			}
			f, err := os.Open(dataset)
			if err != nil {
				return fmt.Errorf("open dataset: %w", err)
			}
			defer f.Close()
			rows, err := seed.Read(f)
			if err != nil {
				return fmt.Errorf("parse dataset: %w", err)
			}

			a, err := app.Build(cmd.Context(), rt.cfg, rt.logger, app.PartStore)
			if err != nil {
				return err
			}
			defer a.Close()

			sum, err := seed.Load(cmd.Context(), a.Store(), rows, batchSize, rt.logger.Named("seed"))
			if err != nil {
				return err
			}
			rt.logger.Info("seed finished",
				zap.Int("rows", sum.Rows),
				zap.Int("inserted", sum.Inserted),
				zap.Int("existing", sum.Existing),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "path to the CSV dataset")
	cmd.Flags().IntVar(&batchSize, "batch-size", seed.DefaultBatchSize, "rows per store transaction")
	return cmd
}
