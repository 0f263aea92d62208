package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/include/ingest/internal/config"
	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/emit"
	"github.com/include/ingest/internal/pipeline"
	"github.com/include/ingest/internal/platform/db"
)

func crosswalkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crosswalk",
		Short: "Build and inspect a study's variable crosswalk",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write cde_map.csv and pheno.fsh for a study",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("dataset")
			out, _ := cmd.Flags().GetString("out")

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if out != "" {
				cfg.OutputDir = out
			}
			ds, err := config.LoadDataset(path)
			if err != nil {
				return err
			}

			cw, err := pipeline.NewRunner(pipeline.Options{OutputDir: cfg.OutputDir, Logger: logger}).BuildCrosswalk(ds)
			if err != nil {
				return err
			}
			cde, err := emit.WriteCrosswalk(ds.StudyDir(cfg.OutputDir), cw)
			if err != nil {
				return err
			}
			fsh, err := emit.WriteTerminology(ds.StudyDir(cfg.OutputDir), cw.Registry())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cde)
			fmt.Fprintln(cmd.OutOrStdout(), fsh)
			return nil
		},
	}
	exportCmd.Flags().StringP("dataset", "d", "", "Dataset YAML file")
	exportCmd.Flags().StringP("out", "o", "", "Output directory (default OUTPUT_DIR)")
	_ = exportCmd.MarkFlagRequired("dataset")
	cmd.AddCommand(exportCmd)

	lookupCmd := &cobra.Command{
		Use:   "lookup LABEL...",
		Short: "Print the ontology matches of dataset variable labels",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("dataset")

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ds, err := config.LoadDataset(path)
			if err != nil {
				return err
			}
			cw, err := pipeline.NewRunner(pipeline.Options{OutputDir: cfg.OutputDir, Logger: logger}).BuildCrosswalk(ds)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LABEL\tCODE\tSYSTEM\tNAME")
			for _, label := range args {
				matches := cw.GetMatches(label)
				if len(matches) == 0 {
					fmt.Fprintf(w, "%s\t-\t-\t-\n", label)
					continue
				}
				for _, m := range matches {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", label, m.Code, m.SystemURI, m.Label)
				}
			}
			return w.Flush()
		},
	}
	lookupCmd.Flags().StringP("dataset", "d", "", "Dataset YAML file")
	_ = lookupCmd.MarkFlagRequired("dataset")
	cmd.AddCommand(lookupCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print the terminology snapshot of a study saved in postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			study, _ := cmd.Flags().GetString("study")
			if study == "" {
				return fmt.Errorf("--study is required")
			}

			cfg, _, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			reg, err := terminology.NewService(terminology.NewSnapshotRepoPG(pool)).Restore(ctx, study)
			if err != nil {
				return err
			}
			return reg.WriteFSH(cmd.OutOrStdout())
		},
	}
	snapshotCmd.Flags().String("study", "", "Study name, as written to the output directory")
	cmd.AddCommand(snapshotCmd)

	return cmd
}
