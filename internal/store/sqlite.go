package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geobatch/pkg/geocode"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY,
	job_id              TEXT NOT NULL UNIQUE,
	mode                TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'in_progress',
	started_at          DATETIME NOT NULL,
	ended_at            DATETIME,
	total_rows          INTEGER NOT NULL DEFAULT 0,
	success_count       INTEGER NOT NULL DEFAULT 0,
	failed_count        INTEGER NOT NULL DEFAULT 0,
	improved_count      INTEGER NOT NULL DEFAULT 0,
	precision_histogram TEXT,
	api_histogram       TEXT,
	details             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS results (
	id                  TEXT PRIMARY KEY,
	job_id              TEXT NOT NULL REFERENCES jobs(job_id),
	row_index           INTEGER NOT NULL,
	status              TEXT NOT NULL,
	latitude            REAL,
	longitude           REAL,
	formatted_address   TEXT NOT NULL DEFAULT '',
	precision_level     TEXT NOT NULL DEFAULT '',
	precision_level_raw TEXT NOT NULL DEFAULT '',
	api_used            TEXT NOT NULL DEFAULT '',
	error_message       TEXT NOT NULL DEFAULT '',
	ts                  DATETIME NOT NULL,
	variant_kind        TEXT NOT NULL DEFAULT '',
	improved            INTEGER NOT NULL DEFAULT 0,
	UNIQUE (job_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at);
CREATE INDEX IF NOT EXISTS idx_results_job_id ON results(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveJob inserts or replaces the record keyed by its job_id.
func (s *SQLiteStore) SaveJob(ctx context.Context, rec *geocode.JobRecord) error {
	precJSON, apiJSON, err := marshalHistograms(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal histograms")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, job_id, mode, status, started_at, ended_at, total_rows,
		                   success_count, failed_count, improved_count,
		                   precision_histogram, api_histogram, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id) DO UPDATE SET
		   mode = excluded.mode, status = excluded.status,
		   started_at = excluded.started_at, ended_at = excluded.ended_at,
		   total_rows = excluded.total_rows, success_count = excluded.success_count,
		   failed_count = excluded.failed_count, improved_count = excluded.improved_count,
		   precision_histogram = excluded.precision_histogram,
		   api_histogram = excluded.api_histogram, details = excluded.details`,
		uuid.New().String(), rec.JobID, string(rec.Mode), string(rec.Status),
		rec.StartedAt, nullableTime(rec.EndedAt), rec.TotalRows,
		rec.SuccessCount, rec.FailedCount, rec.ImprovedCount,
		precJSON, apiJSON, rec.Details,
	)
	return eris.Wrapf(err, "sqlite: save job %s", rec.JobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*geocode.JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, mode, status, started_at, ended_at, total_rows,
		        success_count, failed_count, improved_count,
		        precision_histogram, api_histogram, details
		 FROM jobs WHERE job_id = ?`,
		jobID,
	)
	rec, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return rec, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]geocode.JobRecord, error) {
	query := `SELECT job_id, mode, status, started_at, ended_at, total_rows,
	                 success_count, failed_count, improved_count,
	                 precision_histogram, api_histogram, details
	          FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var records []geocode.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// SaveResults writes all rows of a job in one transaction, replacing any
// previous result for the same (job_id, row_index).
func (s *SQLiteStore) SaveResults(ctx context.Context, jobID string, results []geocode.Result) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO results
		 (id, job_id, row_index, status, latitude, longitude, formatted_address,
		  precision_level, precision_level_raw, api_used, error_message, ts,
		  variant_kind, improved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert result")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), jobID, r.RowIndex, string(r.Status),
			nullableFloat(r.Latitude), nullableFloat(r.Longitude),
			r.FormattedAddress, string(r.Precision), r.PrecisionRaw,
			r.APIUsed, r.ErrorMessage, r.Timestamp.UTC(),
			string(r.VariantKind), r.Improved,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert result %d of %s", r.RowIndex, jobID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit results")
}

func (s *SQLiteStore) GetResults(ctx context.Context, jobID string) ([]geocode.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, status, latitude, longitude, formatted_address,
		        precision_level, precision_level_raw, api_used, error_message,
		        ts, variant_kind, improved
		 FROM results WHERE job_id = ? ORDER BY row_index`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get results %s", jobID)
	}
	defer rows.Close()

	var results []geocode.Result
	for rows.Next() {
		var r geocode.Result
		var status, precision, variant string
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&r.RowIndex, &status, &lat, &lng, &r.FormattedAddress,
			&precision, &r.PrecisionRaw, &r.APIUsed, &r.ErrorMessage,
			&r.Timestamp, &variant, &r.Improved); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		r.Status = geocode.Status(status)
		r.Precision = geocode.Precision(precision)
		r.VariantKind = geocode.VariantKind(variant)
		if lat.Valid {
			r.Latitude = &lat.Float64
		}
		if lng.Valid {
			r.Longitude = &lng.Float64
		}
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "sqlite: get results iterate")
}

// helpers

func marshalHistograms(rec *geocode.JobRecord) (string, string, error) {
	precJSON, err := json.Marshal(rec.PrecisionHistogram)
	if err != nil {
		return "", "", err
	}
	apiJSON, err := json.Marshal(rec.APIHistogram)
	if err != nil {
		return "", "", err
	}
	return string(precJSON), string(apiJSON), nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*geocode.JobRecord, error) {
	var rec geocode.JobRecord
	var mode, status string
	var ended sql.NullTime
	var precJSON, apiJSON sql.NullString

	err := row.Scan(&rec.JobID, &mode, &status, &rec.StartedAt, &ended,
		&rec.TotalRows, &rec.SuccessCount, &rec.FailedCount, &rec.ImprovedCount,
		&precJSON, &apiJSON, &rec.Details)
	if err != nil {
		return nil, err
	}

	rec.Mode = geocode.RunMode(mode)
	rec.Status = geocode.JobStatus(status)
	if ended.Valid {
		t := ended.Time.UTC()
		rec.EndedAt = &t
	}
	if precJSON.Valid && precJSON.String != "" {
		if err := json.Unmarshal([]byte(precJSON.String), &rec.PrecisionHistogram); err != nil {
			return nil, eris.Wrap(err, "unmarshal precision histogram")
		}
	}
	if apiJSON.Valid && apiJSON.String != "" {
		if err := json.Unmarshal([]byte(apiJSON.String), &rec.APIHistogram); err != nil {
			return nil, eris.Wrap(err, "unmarshal api histogram")
		}
	}
	return &rec, nil
}
