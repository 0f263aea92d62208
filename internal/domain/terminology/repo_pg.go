package terminology

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/include/ingest/internal/platform/db"
)

type snapshotRepoPG struct{ pool *pgxpool.Pool }

// NewSnapshotRepoPG returns a SnapshotRepository backed by the
// terminology_entry table.
func NewSnapshotRepoPG(pool *pgxpool.Pool) SnapshotRepository { return &snapshotRepoPG{pool: pool} }

func (r *snapshotRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *snapshotRepoPG) Replace(ctx context.Context, study string, entries []CodeEntry) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM terminology_entry WHERE study = $1`, study); err != nil {
			return fmt.Errorf("terminology snapshot clear: %w", err)
		}
		for i, e := range entries {
			if _, err := q.Exec(ctx,
				`INSERT INTO terminology_entry (study, system, code, label, position)
				 VALUES ($1, $2, $3, $4, $5)`,
				study, string(e.System), e.Code, e.Label, i); err != nil {
				return fmt.Errorf("terminology snapshot insert %s %s: %w", e.System, e.Code, err)
			}
		}
		return nil
	})
}

func (r *snapshotRepoPG) ListByStudy(ctx context.Context, study string) ([]CodeEntry, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT system, code, COALESCE(label,'')
		 FROM terminology_entry WHERE study = $1
		 ORDER BY position`, study)
	if err != nil {
		return nil, fmt.Errorf("terminology snapshot list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CodeEntry, error) {
		var e CodeEntry
		var system string
		if err := row.Scan(&system, &e.Code, &e.Label); err != nil {
			return e, err
		}
		e.System = System(system)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("terminology snapshot scan: %w", err)
	}
	return entries, nil
}
