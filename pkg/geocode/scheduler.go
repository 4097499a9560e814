package geocode

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the number of rows per scheduler batch.
	DefaultBatchSize = 100
	// DefaultWorkers bounds the per-batch worker pool.
	DefaultWorkers = 10
)

// ProgressFunc receives the number of rows completed since the last call.
type ProgressFunc func(delta int)

// BatchSummary describes one completed batch. Histogram entries only count
// rows with status OK.
type BatchSummary struct {
	Index              int               `json:"index"`
	Size               int               `json:"size"`
	SuccessCount       int               `json:"success_count"`
	PrecisionHistogram map[Precision]int `json:"precision_histogram"`
}

// Scheduler fans rows out to a bounded worker pool in contiguous batches.
// Each batch completes fully before the next starts, so progress is monotone
// per batch and batch summaries are exact. Results come back ordered by row
// index regardless of completion order.
type Scheduler struct {
	Engine    *Engine
	BatchSize int
	Workers   int

	// Progress, when set, is invoked once per completed row.
	Progress ProgressFunc
	// OnBatch, when set, is invoked with a summary after each batch.
	OnBatch func(BatchSummary)
}

// Run geocodes every row and returns one Result per row, index-aligned with
// the input. Worker panics are captured into the affected row's Result; rows
// not yet dispatched when ctx is cancelled are reported as cancelled.
func (s *Scheduler) Run(ctx context.Context, mapping FieldMapping, rows []Row) []Result {
	return s.run(ctx, len(rows), func(ctx context.Context, i int) Result {
		return s.Engine.GeocodeRow(ctx, mapping.Lookup(rows[i]), i)
	})
}

// RunRetry re-geocodes rows with their prior outcomes. priors must be
// index-aligned with rows.
func (s *Scheduler) RunRetry(ctx context.Context, mapping FieldMapping, rows []Row, priors []Prior) []Result {
	return s.run(ctx, len(rows), func(ctx context.Context, i int) Result {
		return s.Engine.RetryRow(ctx, mapping.Lookup(rows[i]), i, priors[i])
	})
}

func (s *Scheduler) run(ctx context.Context, total int, one func(context.Context, int) Result) []Result {
	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	workers := s.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]Result, total)
	for batch, start := 0, 0; start < total; batch, start = batch+1, start+batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}

		var eg errgroup.Group
		eg.SetLimit(workers)
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				results[i] = cancelledResult(i)
				s.progress(1)
				continue
			}
			eg.Go(func() error {
				results[i] = s.geocodeOne(ctx, i, one)
				s.progress(1)
				return nil
			})
		}
		_ = eg.Wait() // workers encode failures into Results, never errors

		if s.OnBatch != nil {
			s.OnBatch(summarizeBatch(batch, results[start:end]))
		}
	}
	return results
}

// geocodeOne runs one row and converts a worker panic into an ERROR Result
// so a single bad row never aborts its batch.
func (s *Scheduler) geocodeOne(ctx context.Context, i int, one func(context.Context, int) Result) (r Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r = Result{
				Status:       StatusError,
				ErrorMessage: fmt.Sprintf("panic: %v", rec),
				Timestamp:    time.Now().UTC(),
				RowIndex:     i,
			}
		}
	}()
	return one(ctx, i)
}

func (s *Scheduler) progress(delta int) {
	if s.Progress != nil {
		s.Progress(delta)
	}
}

func summarizeBatch(index int, batch []Result) BatchSummary {
	summary := BatchSummary{
		Index:              index,
		Size:               len(batch),
		PrecisionHistogram: make(map[Precision]int),
	}
	for _, r := range batch {
		if r.Status == StatusOK {
			summary.SuccessCount++
			summary.PrecisionHistogram[r.Precision]++
		}
	}
	return summary
}
