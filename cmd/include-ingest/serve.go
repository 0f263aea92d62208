package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/include/ingest/internal/config"
	"github.com/include/ingest/internal/domain/crosswalk"
	"github.com/include/ingest/internal/domain/terminology"
	"github.com/include/ingest/internal/pipeline"
	"github.com/include/ingest/internal/platform/auth"
	"github.com/include/ingest/internal/platform/middleware"
	"github.com/include/ingest/internal/platform/telemetry"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve read-only crosswalk lookups for a study",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("dataset")
			mapPath, _ := cmd.Flags().GetString("map")
			if (path == "") == (mapPath == "") {
				return fmt.Errorf("exactly one of --dataset or --map is required")
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			metrics := telemetry.New()
			runner := pipeline.NewRunner(pipeline.Options{OutputDir: cfg.OutputDir, Metrics: metrics, Logger: logger})
			var cw *crosswalk.Crosswalk
			if mapPath != "" {
				cw, err = runner.LoadCrosswalk(mapPath)
			} else {
				var ds *config.Dataset
				if ds, err = config.LoadDataset(path); err == nil {
					cw, err = runner.BuildCrosswalk(ds)
				}
			}
			if err != nil {
				return err
			}
			return runServer(cfg, newServer(cfg, cw, metrics, logger), logger)
		},
	}
	cmd.Flags().StringP("dataset", "d", "", "Dataset YAML file to build the crosswalk from")
	cmd.Flags().String("map", "", "Previously exported cde_map.csv to serve instead")
	return cmd
}

// newServer wires the lookup routes. Bearer tokens are required when
// AUTH_SIGNING_KEY is set; /health and /metrics stay public.
func newServer(cfg *config.Config, cw *crosswalk.Crosswalk, metrics *telemetry.Metrics, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.MetricsMiddleware())
	if cfg.AuthSigningKey != "" {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"variables": cw.Len(),
		})
	})
	e.GET("/metrics", metrics.PrometheusHandler())

	api := e.Group("/api/v1")
	crosswalk.NewHandler(cw).RegisterRoutes(api)
	terminology.NewHandler(cw.Registry()).RegisterRoutes(api)
	return e
}

func runServer(cfg *config.Config, e *echo.Echo, logger zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
