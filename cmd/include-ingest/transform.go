package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/pipeline"
)

func transformCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform one or more studies into the loader tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			datasets, _ := cmd.Flags().GetStringArray("dataset")
			out, _ := cmd.Flags().GetString("out")
			snapshot, _ := cmd.Flags().GetBool("snapshot")
			if len(datasets) == 0 {
				return fmt.Errorf("at least one --dataset is required")
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if out != "" {
				cfg.OutputDir = out
			}

			ctx := cmd.Context()
			store, pool, err := openChangeLog(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			if pool != nil {
				defer pool.Close()
			}

			opts := pipeline.Options{
				OutputDir: cfg.OutputDir,
				ChangeLog: store,
				Logger:    logger,
			}
			if snapshot {
				if pool == nil {
					return fmt.Errorf("--snapshot requires CHANGELOG_DRIVER=postgres")
				}
				opts.Snapshots = terminology.NewService(terminology.NewSnapshotRepoPG(pool))
			}

			results, err := pipeline.NewRunner(opts).RunFiles(ctx, datasets)
			for _, r := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d participants\t%d defects\n",
					r.Study, r.Dir, r.Counts["participant"], r.Defects)
			}
			return err
		},
	}
	cmd.Flags().StringArrayP("dataset", "d", nil, "Dataset YAML file (repeatable)")
	cmd.Flags().StringP("out", "o", "", "Output directory (default OUTPUT_DIR)")
	cmd.Flags().Bool("snapshot", false, "Save the terminology registry to postgres")
	return cmd
}
