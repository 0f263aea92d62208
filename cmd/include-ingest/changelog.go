package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/include/ingest/internal/config"
	"github.com/include/ingest/internal/platform/db"
	"github.com/include/ingest/migrations"
)

func changelogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "Manage the run change log",
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			status, _ := cmd.Flags().GetBool("status")

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrations.FS)
			if status {
				statuses, err := migrator.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
				for _, s := range statuses {
					state, at := "pending", ""
					if s.Applied {
						state = "applied"
						at = s.AppliedAt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, state, at)
				}
				return w.Flush()
			}

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info().Str("schema", schema).Int("applied", count).Msg("migrations applied")
			return nil
		},
	}
	migrateCmd.Flags().String("schema", "public", "Target schema for migrations")
	migrateCmd.Flags().Bool("status", false, "Show migration status instead of applying")
	cmd.AddCommand(migrateCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List the recorded runs of a study",
		RunE: func(cmd *cobra.Command, args []string) error {
			study, _ := cmd.Flags().GetString("study")
			path, _ := cmd.Flags().GetString("dataset")
			if study == "" && path != "" {
				ds, err := config.LoadDataset(path)
				if err != nil {
					return err
				}
				study = ds.Study()
			}
			if study == "" {
				return fmt.Errorf("--study or --dataset is required")
			}

			cfg, _, err := setup()
			if err != nil {
				return err
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

			runs, err := store.Runs(ctx, study)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSTATUS\tSTARTED\tPARTICIPANTS\tDEFECTS\tERROR")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.Status,
					r.StartedAt.Format(time.RFC3339), r.Counts["participant"], len(r.Defects), r.Error)
			}
			return w.Flush()
		},
	}
	runsCmd.Flags().String("study", "", "Study name, as written to the output directory")
	runsCmd.Flags().StringP("dataset", "d", "", "Dataset YAML file to take the study name from")
	cmd.AddCommand(runsCmd)

	return cmd
}
