package changelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS changelog_run (
	id TEXT PRIMARY KEY,
	study TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	counts TEXT NOT NULL DEFAULT '{}',
	defects TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS changelog_run_study ON changelog_run (study, started_at)`

// SQLiteStore keeps runs in a local SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the change log at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite change log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create changelog table: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Purge(ctx context.Context, study string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM changelog_run WHERE study = ?`, study)
	if err != nil {
		return 0, fmt.Errorf("purge runs of %s: %w", study, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Start(ctx context.Context, run Run) error {
	counts, defects, err := encodeDetails(run)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO changelog_run
		(id, study, started_at, status, error, counts, defects)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Study, formatTime(run.StartedAt), string(run.Status), run.Error, string(counts), string(defects))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Finish(ctx context.Context, run Run) error {
	counts, defects, err := encodeDetails(run)
	if err != nil {
		return err
	}
	var finished any
	if run.FinishedAt != nil {
		finished = formatTime(*run.FinishedAt)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE changelog_run
		SET finished_at = ?, status = ?, error = ?, counts = ?, defects = ?
		WHERE id = ?`,
		finished, string(run.Status), run.Error, string(counts), string(defects), run.ID.String())
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish %s: %w", run.ID, ErrRunNotFound)
	}
	return nil
}

func (s *SQLiteStore) Runs(ctx context.Context, study string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, study, started_at, finished_at, status, error, counts, defects
		FROM changelog_run WHERE study = ? ORDER BY started_at DESC`, study)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var (
			id, started, status, errText, counts, defects string
			finished                                      sql.NullString
			r                                             Run
		)
		if err := rows.Scan(&id, &r.Study, &started, &finished, &status, &errText, &counts, &defects); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if finished.Valid {
			t, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			r.FinishedAt = &t
		}
		r.Status = Status(status)
		r.Error = errText
		if err := decodeDetails(&r, []byte(counts), []byte(defects)); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func encodeDetails(run Run) (counts, defects []byte, err error) {
	if run.Counts == nil {
		run.Counts = map[string]int{}
	}
	if run.Defects == nil {
		run.Defects = []Defect{}
	}
	if counts, err = json.Marshal(run.Counts); err != nil {
		return nil, nil, fmt.Errorf("encode counts: %w", err)
	}
	if defects, err = json.Marshal(run.Defects); err != nil {
		return nil, nil, fmt.Errorf("encode defects: %w", err)
	}
	return counts, defects, nil
}

func decodeDetails(r *Run, counts, defects []byte) error {
	if err := json.Unmarshal(counts, &r.Counts); err != nil {
		return fmt.Errorf("decode counts: %w", err)
	}
	if err := json.Unmarshal(defects, &r.Defects); err != nil {
		return fmt.Errorf("decode defects: %w", err)
	}
	return nil
}
