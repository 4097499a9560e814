package geocode

import "time"

// JobStatus is the lifecycle state of a job record.
type JobStatus string

const (
	JobInProgress JobStatus = "in_progress"
	JobSuccess    JobStatus = "success"
	JobFailed     JobStatus = "failed"
)

// JobRecord is the bookkeeping for one scheduler invocation. It is created
// at scheduler entry and sealed at exit; after sealing it is append-only.
type JobRecord struct {
	JobID              string            `json:"job_id"`
	Mode               RunMode           `json:"mode,omitempty"`
	Status             JobStatus         `json:"status"`
	StartedAt          time.Time         `json:"started_at"`
	EndedAt            *time.Time        `json:"ended_at,omitempty"`
	TotalRows          int               `json:"total_rows"`
	SuccessCount       int               `json:"success_count"`
	FailedCount        int               `json:"failed_count"`
	ImprovedCount      int               `json:"improved_count,omitempty"`
	PrecisionHistogram map[Precision]int `json:"precision_histogram,omitempty"`
	APIHistogram       map[string]int    `json:"api_histogram,omitempty"`
	Details            string            `json:"details,omitempty"`
}

// NewJobID returns a job identifier derived from the current time, e.g.
// JOB_20250131_154502.
func NewJobID() string {
	return "JOB_" + time.Now().Format("20060102_150405")
}

// OpenJob creates an in-progress record for a run over total rows.
func OpenJob(jobID string, mode RunMode, total int) *JobRecord {
	return &JobRecord{
		JobID:     jobID,
		Mode:      mode,
		Status:    JobInProgress,
		StartedAt: time.Now().UTC(),
		TotalRows: total,
	}
}

// FinalizeJob computes counts and histograms from results and seals the
// record as successful. Histograms only count rows with status OK, so the
// precision histogram sums to SuccessCount.
func FinalizeJob(rec *JobRecord, results []Result) {
	rec.SuccessCount = 0
	rec.FailedCount = 0
	rec.ImprovedCount = 0
	rec.PrecisionHistogram = make(map[Precision]int)
	rec.APIHistogram = make(map[string]int)

	for _, r := range results {
		if r.Improved {
			rec.ImprovedCount++
		}
		if r.Status == StatusOK {
			rec.SuccessCount++
			rec.PrecisionHistogram[r.Precision]++
			rec.APIHistogram[r.APIUsed]++
		} else {
			rec.FailedCount++
		}
	}

	now := time.Now().UTC()
	rec.EndedAt = &now
	rec.Status = JobSuccess
}

// MarkFailed seals the record as failed, keeping any counts already set.
func MarkFailed(rec *JobRecord, details string) {
	now := time.Now().UTC()
	rec.EndedAt = &now
	rec.Status = JobFailed
	rec.Details = details
}
