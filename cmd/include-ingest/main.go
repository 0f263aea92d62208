package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/include/ingest/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "include-ingest",
		Short:         "Phenotype extract transform for INCLUDE studies",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(transformCmd())
	rootCmd.AddCommand(crosswalkCmd())
	rootCmd.AddCommand(changelogCmd())
	rootCmd.AddCommand(publishCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		logger := zerolog.New(os.Stderr)
		logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// setup loads and validates the process config and builds the logger.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, newLogger(cfg), nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, _ := cfg.Level()
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return logger.Level(level)
}

func loadDatasets(paths []string) ([]*config.Dataset, error) {
	out := make([]*config.Dataset, 0, len(paths))
	for _, p := range paths {
		ds, err := config.LoadDataset(p)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}
