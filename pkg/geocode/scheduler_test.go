package geocode

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{"adresse": fmt.Sprintf("%d Rue de Rome, Tunis", i+1)}
	}
	return rows
}

var testMapping = FieldMapping{FullAddress: "adresse"}

func TestSchedulerPreservesRowOrder(t *testing.T) {
	here := freeTextStub("here", respondOK(PrecisionRooftop))
	s := &Scheduler{
		Engine:    newTestEngine(t, here),
		BatchSize: 10,
		Workers:   8,
	}

	results := s.Run(context.Background(), testMapping, testRows(37))
	require.Len(t, results, 37)
	for i, r := range results {
		assert.Equal(t, i, r.RowIndex, "results must be assembled by row index")
		assert.Equal(t, StatusOK, r.Status)
	}
}

func TestSchedulerProgressAndBatchSummaries(t *testing.T) {
	here := freeTextStub("here", respondOK(PrecisionRooftop))

	var progress atomic.Int64
	var summaries []BatchSummary
	s := &Scheduler{
		Engine:    newTestEngine(t, here),
		BatchSize: 10,
		Workers:   4,
		Progress:  func(delta int) { progress.Add(int64(delta)) },
		OnBatch:   func(b BatchSummary) { summaries = append(summaries, b) },
	}

	s.Run(context.Background(), testMapping, testRows(25))

	assert.Equal(t, int64(25), progress.Load())
	require.Len(t, summaries, 3)
	assert.Equal(t, []int{10, 10, 5}, []int{summaries[0].Size, summaries[1].Size, summaries[2].Size})
	assert.Equal(t, 0, summaries[0].Index)
	assert.Equal(t, 2, summaries[2].Index)
	assert.Equal(t, 5, summaries[2].SuccessCount)
	assert.Equal(t, 5, summaries[2].PrecisionHistogram[PrecisionRooftop])
}

func TestSchedulerConcurrentDuplicatesHitCacheOnce(t *testing.T) {
	here := freeTextStub("here", respondOK(PrecisionRooftop))
	s := &Scheduler{
		Engine:    newTestEngine(t, here),
		BatchSize: 100,
		Workers:   20,
	}

	rows := make([]Row, 100)
	for i := range rows {
		rows[i] = Row{"adresse": "12 Avenue Habib Bourguiba, 1000 Tunis, Tunisie"}
	}

	results := s.Run(context.Background(), testMapping, rows)
	require.Len(t, results, 100)
	assert.Equal(t, 1, here.callCount(), "identical rows must collapse onto one upstream call")

	reference := results[0]
	for i, r := range results {
		assert.Equal(t, i, r.RowIndex)
		r.RowIndex = reference.RowIndex
		assert.Equal(t, reference, r, "row %d", i)
	}
}

func TestSchedulerWorkerPanicIsIsolated(t *testing.T) {
	boom := freeTextStub("here", func(v Variant) Result {
		if v.Text == "2 Rue de Rome, Tunis" {
			panic("adapter bug")
		}
		return okWith(PrecisionRooftop)
	})
	s := &Scheduler{Engine: newTestEngine(t, boom), BatchSize: 10, Workers: 2}

	results := s.Run(context.Background(), testMapping, testRows(3))
	require.Len(t, results, 3)
	assert.Equal(t, StatusOK, results[0].Status)
	assert.Equal(t, StatusError, results[1].Status)
	assert.Contains(t, results[1].ErrorMessage, "panic")
	assert.Equal(t, 1, results[1].RowIndex)
	assert.Equal(t, StatusOK, results[2].Status)
}

func TestSchedulerCancellation(t *testing.T) {
	here := freeTextStub("here", respondOK(PrecisionRooftop))
	s := &Scheduler{Engine: newTestEngine(t, here), BatchSize: 5, Workers: 2}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := s.Run(ctx, testMapping, testRows(12))
	require.Len(t, results, 12)
	for i, r := range results {
		assert.Equal(t, StatusError, r.Status)
		assert.Equal(t, "cancelled", r.ErrorMessage)
		assert.Equal(t, i, r.RowIndex)
	}
	assert.Equal(t, 0, here.callCount())
}

func TestSchedulerDefaults(t *testing.T) {
	here := freeTextStub("here", respondOK(PrecisionRooftop))
	s := &Scheduler{Engine: newTestEngine(t, here)}

	results := s.Run(context.Background(), testMapping, testRows(3))
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, StatusOK, r.Status)
	}
}

func TestSchedulerRetry(t *testing.T) {
	google := freeTextStub("google", respondOK(PrecisionRooftop))
	s := &Scheduler{Engine: newTestEngine(t, google), BatchSize: 10, Workers: 2}

	rows := testRows(2)
	priors := []Prior{
		{APIUsed: "google", Status: StatusOK, Precision: PrecisionApproximate},
		{APIUsed: "google", Status: StatusOK, Precision: PrecisionRooftop},
	}

	results := s.RunRetry(context.Background(), testMapping, rows, priors)
	require.Len(t, results, 2)
	assert.True(t, results[0].Improved)
	assert.False(t, results[1].Improved)
}

func TestSchedulerEmptyInput(t *testing.T) {
	s := &Scheduler{Engine: newTestEngine(t, freeTextStub("here", respondOK(PrecisionRooftop)))}
	assert.Empty(t, s.Run(context.Background(), testMapping, nil))
}
