package geocode

import "time"

// CallRecord is one structured entry in the outbound call log. Adapters emit
// exactly one record per HTTP request, including failed ones.
type CallRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	Provider        string    `json:"provider"`
	URL             string    `json:"url"`
	Status          string    `json:"status"`
	DurationMS      int64     `json:"duration_ms"`
	Error           string    `json:"error,omitempty"`
	ResponseSummary string    `json:"response_summary,omitempty"`
}

// Sink receives call records. Implementations must be safe for concurrent
// use; workers record from many goroutines.
type Sink interface {
	Record(rec CallRecord)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(rec CallRecord)

// Record implements Sink.
func (f SinkFunc) Record(rec CallRecord) { f(rec) }

// NopSink discards all records.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(CallRecord) {}
