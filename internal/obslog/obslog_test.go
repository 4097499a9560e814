package obslog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/pkg/geocode"
)

func sampleRecord(provider string) geocode.CallRecord {
	return geocode.CallRecord{
		Timestamp:  time.Now().UTC(),
		Provider:   provider,
		URL:        "https://example.com/geocode?q=Tunis",
		Status:     "OK",
		DurationMS: 42,
	}
}

func TestJSONLSinkWritesOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.jsonl")
	sink, err := NewJSONL(path)
	require.NoError(t, err)

	sink.Record(sampleRecord("here"))
	sink.Record(sampleRecord("osm"))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var providers []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec geocode.CallRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec), "every line must be valid JSON")
		providers = append(providers, rec.Provider)
	}
	assert.Equal(t, []string{"here", "osm"}, providers)
}

func TestJSONLSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.jsonl")

	first, err := NewJSONL(path)
	require.NoError(t, err)
	first.Record(sampleRecord("here"))
	require.NoError(t, first.Close())

	second, err := NewJSONL(path)
	require.NoError(t, err)
	second.Record(sampleRecord("google"))
	require.NoError(t, second.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "here")
	assert.Contains(t, string(data), "google")
}

func TestJSONLSinkConcurrentRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.jsonl")
	sink, err := NewJSONL(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Record(sampleRecord("here"))
		}()
	}
	wg.Wait()
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec geocode.CallRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		lines++
	}
	assert.Equal(t, 50, lines)
}

func TestZapSink(t *testing.T) {
	sink := NewZap(zap.NewNop())
	assert.NotPanics(t, func() { sink.Record(sampleRecord("here")) })

	// nil falls back to the global logger.
	assert.NotPanics(t, func() { NewZap(nil).Record(sampleRecord("osm")) })
}

func TestMultiFansOut(t *testing.T) {
	var got []string
	a := geocode.SinkFunc(func(rec geocode.CallRecord) { got = append(got, "a:"+rec.Provider) })
	b := geocode.SinkFunc(func(rec geocode.CallRecord) { got = append(got, "b:"+rec.Provider) })

	Multi(a, nil, b).Record(sampleRecord("here"))
	assert.Equal(t, []string{"a:here", "b:here"}, got)
}
