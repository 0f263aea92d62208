package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/include/ingest/internal/config"
	"github.com/include/ingest/internal/platform/blobstore"
	"github.com/include/ingest/internal/platform/changelog"
	"github.com/include/ingest/internal/platform/db"
)

// changelogPath defaults the sqlite file into the output directory.
func changelogPath(cfg *config.Config) string {
	if cfg.ChangelogPath != "" {
		return cfg.ChangelogPath
	}
	return filepath.Join(cfg.OutputDir, "changelog.db")
}

// openChangeLog returns the configured change log store. The pool is nil
// unless the postgres driver is selected; callers close both.
func openChangeLog(ctx context.Context, cfg *config.Config) (changelog.Store, *pgxpool.Pool, error) {
	switch cfg.ChangelogDriver {
	case config.DriverNone:
		return changelog.NopStore{}, nil, nil
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return changelog.NewPGStore(pool), pool, nil
	}
	s, err := changelog.OpenSQLite(changelogPath(cfg))
	if err != nil {
		return nil, nil, err
	}
	return s, nil, nil
}

func openBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.BlobDriver {
	case config.DriverFS:
		return blobstore.NewFSStore(cfg.BlobFSRoot)
	case config.DriverS3:
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Region:    cfg.BlobS3Region,
			Bucket:    cfg.BlobS3Bucket,
			Endpoint:  cfg.BlobS3Endpoint,
			PathStyle: cfg.BlobS3PathStyle,
		})
	}
	return nil, fmt.Errorf("BLOB_DRIVER is %q; set it to %q or %q to publish", cfg.BlobDriver, config.DriverFS, config.DriverS3)
}
