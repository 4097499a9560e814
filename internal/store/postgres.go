package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/internal/db"
	"github.com/sells-group/geobatch/pkg/geocode"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_job": `SELECT job_id, mode, status, started_at, ended_at, total_rows,
	            success_count, failed_count, improved_count,
	            precision_histogram, api_histogram, details
	            FROM jobs WHERE job_id = $1`,
	"get_results": `SELECT row_index, status, latitude, longitude, formatted_address,
	                precision_level, precision_level_raw, api_used, error_message,
	                ts, variant_kind, improved
	                FROM results WHERE job_id = $1 ORDER BY row_index`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id              TEXT NOT NULL UNIQUE,
	mode                TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'in_progress',
	started_at          TIMESTAMPTZ NOT NULL,
	ended_at            TIMESTAMPTZ,
	total_rows          INTEGER NOT NULL DEFAULT 0,
	success_count       INTEGER NOT NULL DEFAULT 0,
	failed_count        INTEGER NOT NULL DEFAULT 0,
	improved_count      INTEGER NOT NULL DEFAULT 0,
	precision_histogram JSONB,
	api_histogram       JSONB,
	details             TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS results (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job_id              TEXT NOT NULL REFERENCES jobs(job_id),
	row_index           INTEGER NOT NULL,
	status              TEXT NOT NULL,
	latitude            DOUBLE PRECISION,
	longitude           DOUBLE PRECISION,
	formatted_address   TEXT NOT NULL DEFAULT '',
	precision_level     TEXT NOT NULL DEFAULT '',
	precision_level_raw TEXT NOT NULL DEFAULT '',
	api_used            TEXT NOT NULL DEFAULT '',
	error_message       TEXT NOT NULL DEFAULT '',
	ts                  TIMESTAMPTZ NOT NULL,
	variant_kind        TEXT NOT NULL DEFAULT '',
	improved            BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (job_id, row_index)
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at);
CREATE INDEX IF NOT EXISTS idx_results_job_id ON results(job_id);
`

// resultColumns lists the results columns in bulk-upsert order.
var resultColumns = []string{
	"id", "job_id", "row_index", "status", "latitude", "longitude",
	"formatted_address", "precision_level", "precision_level_raw",
	"api_used", "error_message", "ts", "variant_kind", "improved",
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveJob inserts or updates the record keyed by its job_id.
func (s *PostgresStore) SaveJob(ctx context.Context, rec *geocode.JobRecord) error {
	precJSON, err := json.Marshal(rec.PrecisionHistogram)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal precision histogram")
	}
	apiJSON, err := json.Marshal(rec.APIHistogram)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal api histogram")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, job_id, mode, status, started_at, ended_at, total_rows,
		                   success_count, failed_count, improved_count,
		                   precision_histogram, api_histogram, details)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (job_id) DO UPDATE SET
		   mode = $3, status = $4, started_at = $5, ended_at = $6,
		   total_rows = $7, success_count = $8, failed_count = $9,
		   improved_count = $10, precision_histogram = $11,
		   api_histogram = $12, details = $13`,
		uuid.New().String(), rec.JobID, string(rec.Mode), string(rec.Status),
		rec.StartedAt, rec.EndedAt, rec.TotalRows,
		rec.SuccessCount, rec.FailedCount, rec.ImprovedCount,
		precJSON, apiJSON, rec.Details,
	)
	return eris.Wrapf(err, "postgres: save job %s", rec.JobID)
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*geocode.JobRecord, error) {
	var rec geocode.JobRecord
	var mode, status string
	var ended *time.Time
	var precJSON, apiJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT job_id, mode, status, started_at, ended_at, total_rows,
		        success_count, failed_count, improved_count,
		        precision_histogram, api_histogram, details
		 FROM jobs WHERE job_id = $1`,
		jobID,
	).Scan(&rec.JobID, &mode, &status, &rec.StartedAt, &ended,
		&rec.TotalRows, &rec.SuccessCount, &rec.FailedCount, &rec.ImprovedCount,
		&precJSON, &apiJSON, &rec.Details)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}

	rec.Mode = geocode.RunMode(mode)
	rec.Status = geocode.JobStatus(status)
	rec.EndedAt = ended
	if len(precJSON) > 0 {
		if err := json.Unmarshal(precJSON, &rec.PrecisionHistogram); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal precision histogram")
		}
	}
	if len(apiJSON) > 0 {
		if err := json.Unmarshal(apiJSON, &rec.APIHistogram); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal api histogram")
		}
	}
	return &rec, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]geocode.JobRecord, error) {
	query := `SELECT job_id, mode, status, started_at, ended_at, total_rows,
	                 success_count, failed_count, improved_count,
	                 precision_histogram, api_histogram, details
	          FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var records []geocode.JobRecord
	for rows.Next() {
		var rec geocode.JobRecord
		var mode, status string
		var ended *time.Time
		var precJSON, apiJSON []byte

		if err := rows.Scan(&rec.JobID, &mode, &status, &rec.StartedAt, &ended,
			&rec.TotalRows, &rec.SuccessCount, &rec.FailedCount, &rec.ImprovedCount,
			&precJSON, &apiJSON, &rec.Details); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		rec.Mode = geocode.RunMode(mode)
		rec.Status = geocode.JobStatus(status)
		rec.EndedAt = ended
		if len(precJSON) > 0 {
			if err := json.Unmarshal(precJSON, &rec.PrecisionHistogram); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal precision histogram")
			}
		}
		if len(apiJSON) > 0 {
			if err := json.Unmarshal(apiJSON, &rec.APIHistogram); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal api histogram")
			}
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

// SaveResults bulk-upserts all rows of a job via a temp table and COPY,
// keyed on (job_id, row_index).
func (s *PostgresStore) SaveResults(ctx context.Context, jobID string, results []geocode.Result) error {
	if len(results) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(results))
	for _, r := range results {
		rows = append(rows, []any{
			uuid.New().String(), jobID, r.RowIndex, string(r.Status),
			r.Latitude, r.Longitude, r.FormattedAddress,
			string(r.Precision), r.PrecisionRaw, r.APIUsed, r.ErrorMessage,
			r.Timestamp.UTC(), string(r.VariantKind), r.Improved,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "results",
		Columns:      resultColumns,
		ConflictKeys: []string{"job_id", "row_index"},
		UpdateCols: []string{
			"status", "latitude", "longitude", "formatted_address",
			"precision_level", "precision_level_raw", "api_used",
			"error_message", "ts", "variant_kind", "improved",
		},
	}, rows)
	return eris.Wrapf(err, "postgres: save results %s", jobID)
}

func (s *PostgresStore) GetResults(ctx context.Context, jobID string) ([]geocode.Result, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT row_index, status, latitude, longitude, formatted_address,
		        precision_level, precision_level_raw, api_used, error_message,
		        ts, variant_kind, improved
		 FROM results WHERE job_id = $1 ORDER BY row_index`,
		jobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get results %s", jobID)
	}
	defer rows.Close()

	var results []geocode.Result
	for rows.Next() {
		var r geocode.Result
		var status, precision, variant string
		if err := rows.Scan(&r.RowIndex, &status, &r.Latitude, &r.Longitude,
			&r.FormattedAddress, &precision, &r.PrecisionRaw, &r.APIUsed,
			&r.ErrorMessage, &r.Timestamp, &variant, &r.Improved); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		r.Status = geocode.Status(status)
		r.Precision = geocode.Precision(precision)
		r.VariantKind = geocode.VariantKind(variant)
		results = append(results, r)
	}
	return results, eris.Wrap(rows.Err(), "postgres: get results iterate")
}
