package pipeline

import (
	"context"
	"fmt"
	"path"

	"github.com/include/ingest/internal/config"
	"github.com/include/ingest/internal/platform/blobstore"
)

// Publish uploads the transformed tables of ds to store under
// <study>/transformed/<file>.
func (r *Runner) Publish(ctx context.Context, store blobstore.Store, ds *config.Dataset) ([]blobstore.Info, error) {
	study := ds.Study()
	infos, err := blobstore.PublishDir(ctx, store, path.Join(study, "transformed"), ds.TransformedDir(r.out))
	r.metrics.PublishedObjects.Add(float64(len(infos)))
	if err != nil {
		return infos, fmt.Errorf("publish %s: %w", study, err)
	}
	r.logger.Info().Str("study", study).Int("objects", len(infos)).Msg("outputs published")
	return infos, nil
}
