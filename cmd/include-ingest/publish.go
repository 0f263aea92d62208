package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/include/ingest/internal/pipeline"
)

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload transformed study tables to the blob store",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, _ := cmd.Flags().GetStringArray("dataset")
			out, _ := cmd.Flags().GetString("out")
			if len(paths) == 0 {
				return fmt.Errorf("at least one --dataset is required")
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if out != "" {
				cfg.OutputDir = out
			}
			datasets, err := loadDatasets(paths)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openBlobStore(ctx, cfg)
			if err != nil {
				return err
			}

			runner := pipeline.NewRunner(pipeline.Options{OutputDir: cfg.OutputDir, Logger: logger})
			for _, ds := range datasets {
				infos, err := runner.Publish(ctx, store, ds)
				if err != nil {
					return err
				}
				for _, info := range infos {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", info.Key, info.Size)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringArrayP("dataset", "d", nil, "Dataset YAML file (repeatable)")
	cmd.Flags().StringP("out", "o", "", "Output directory (default OUTPUT_DIR)")
	return cmd
}
