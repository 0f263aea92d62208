package terminology

import (
	"context"
	"fmt"
)

// Service persists and restores registry snapshots.
type Service struct {
	repo SnapshotRepository
}

// NewService creates a new terminology snapshot service.
func NewService(repo SnapshotRepository) *Service {
	return &Service{repo: repo}
}

// Save replaces the stored snapshot of study with the contents of reg, in
// AllSystems order.
func (s *Service) Save(ctx context.Context, study string, reg *Registry) (int, error) {
	if study == "" {
		return 0, fmt.Errorf("study is required")
	}
	var entries []CodeEntry
	for _, sys := range reg.Systems() {
		entries = append(entries, reg.Dump(sys)...)
	}
	if err := s.repo.Replace(ctx, study, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Restore rebuilds a registry from the stored snapshot of study. Stored
// entries that no longer satisfy registration rules are reported, not
// silently dropped.
func (s *Service) Restore(ctx context.Context, study string) (*Registry, error) {
	if study == "" {
		return nil, fmt.Errorf("study is required")
	}
	entries, err := s.repo.ListByStudy(ctx, study)
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	for _, e := range entries {
		if r := reg.Register(e.System, e.Code, e.Label); !r.OK() {
			return nil, fmt.Errorf("restore %s snapshot: %w", study, r.Err())
		}
	}
	return reg, nil
}
