package changelog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/include/ingest/internal/platform/db"
)

// PGStore keeps runs in the changelog_run table created by the migrations.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store on pool. The pool stays owned by the caller.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *PGStore) Purge(ctx context.Context, study string) (int, error) {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM changelog_run WHERE study = $1`, study)
	if err != nil {
		return 0, fmt.Errorf("purge runs of %s: %w", study, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) Start(ctx context.Context, run Run) error {
	counts, defects, err := encodeDetails(run)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).Exec(ctx, `INSERT INTO changelog_run
		(id, study, started_at, status, error, counts, defects)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID, run.Study, run.StartedAt, string(run.Status), run.Error, counts, defects)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *PGStore) Finish(ctx context.Context, run Run) error {
	counts, defects, err := encodeDetails(run)
	if err != nil {
		return err
	}
	tag, err := s.conn(ctx).Exec(ctx, `UPDATE changelog_run
		SET finished_at = $1, status = $2, error = $3, counts = $4, defects = $5
		WHERE id = $6`,
		run.FinishedAt, string(run.Status), run.Error, counts, defects, run.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish %s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

func (s *PGStore) Runs(ctx context.Context, study string) ([]Run, error) {
	rows, err := s.conn(ctx).Query(ctx, `SELECT id, study, started_at, finished_at, status, error, counts, defects
		FROM changelog_run WHERE study = $1 ORDER BY started_at DESC`, study)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var (
			r               Run
			status          string
			counts, defects []byte
		)
		if err := row.Scan(&r.ID, &r.Study, &r.StartedAt, &r.FinishedAt, &status, &r.Error, &counts, &defects); err != nil {
			return Run{}, err
		}
		r.Status = Status(status)
		return r, decodeDetails(&r, counts, defects)
	})
}

// Close is a no-op; the pool is closed by its owner.
func (s *PGStore) Close() error { return nil }

var (
	_ Store = (*PGStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = NopStore{}
)
