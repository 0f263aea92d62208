package terminology

import "context"

// SnapshotRepository persists the registered entries of a study run so the
// loading stage can resolve codes without rebuilding the crosswalk.
type SnapshotRepository interface {
	Replace(ctx context.Context, study string, entries []CodeEntry) error
	ListByStudy(ctx context.Context, study string) ([]CodeEntry, error)
}
