// Package obslog provides call-log sinks for the geocoding core: a JSONL
// file sink, a zap sink, and a fan-out combinator.
package obslog

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/pkg/geocode"
)

// JSONLSink appends one JSON object per call record to a file.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewJSONL opens (or creates) the log file in append mode.
func NewJSONL(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "obslog: open %s", path)
	}
	return &JSONLSink{f: f}, nil
}

// Record implements geocode.Sink. Marshal failures are dropped; the call log
// is advisory and must never fail a job.
func (s *JSONLSink) Record(rec geocode.CallRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.f.Write(append(line, '\n'))
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eris.Wrap(s.f.Close(), "obslog: close")
}

// ZapSink logs every call record at debug level.
type ZapSink struct {
	logger *zap.Logger
}

// NewZap creates a sink over the given logger; nil falls back to the global.
func NewZap(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.L()
	}
	return &ZapSink{logger: logger}
}

// Record implements geocode.Sink.
func (s *ZapSink) Record(rec geocode.CallRecord) {
	s.logger.Debug("geocode call",
		zap.String("provider", rec.Provider),
		zap.String("url", rec.URL),
		zap.String("status", rec.Status),
		zap.Int64("duration_ms", rec.DurationMS),
		zap.String("error", rec.Error),
		zap.String("response_summary", rec.ResponseSummary),
	)
}

// Multi fans records out to every sink.
func Multi(sinks ...geocode.Sink) geocode.Sink {
	return geocode.SinkFunc(func(rec geocode.CallRecord) {
		for _, s := range sinks {
			if s != nil {
				s.Record(rec)
			}
		}
	})
}
