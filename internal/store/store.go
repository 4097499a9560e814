// Package store persists job records and per-row geocoding results. Two
// backends are provided: SQLite (default, zero-setup) and Postgres for
// shared deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geobatch/pkg/geocode"
)

// ErrNotFound is returned when a job id has no record.
var ErrNotFound = eris.New("job not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status geocode.JobStatus `json:"status,omitempty"`
	Since  time.Time         `json:"since,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// Store defines the persistence interface for geocoding jobs.
type Store interface {
	// Jobs
	SaveJob(ctx context.Context, rec *geocode.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*geocode.JobRecord, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]geocode.JobRecord, error)

	// Results
	SaveResults(ctx context.Context, jobID string, results []geocode.Result) error
	GetResults(ctx context.Context, jobID string) ([]geocode.Result, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
