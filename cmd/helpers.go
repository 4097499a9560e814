package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/export"
	"github.com/sells-group/geobatch/internal/ingest"
	"github.com/sells-group/geobatch/internal/monitoring"
	"github.com/sells-group/geobatch/internal/obslog"
	"github.com/sells-group/geobatch/internal/store"
	"github.com/sells-group/geobatch/pkg/geocode"
)

// signalContext cancels the command context on SIGINT/SIGTERM. The
// scheduler then reports every undispatched row as cancelled instead of
// tearing the process down mid-batch.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// initStore opens the configured persistence backend. The "none" driver
// returns a nil store; callers must tolerate it.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.SQLitePath
		if dsn == "" {
			dsn = "geobatch.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.PostgresDSN, &store.PoolConfig{
			MaxConns: cfg.Store.Postgres.MaxConns,
			MinConns: cfg.Store.Postgres.MinConns,
		})
	case "none", "":
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// iso2Codes maps the ISO3 country bias to the ISO2 form some providers
// take on the wire.
var iso2Codes = map[string]string{
	"TUN": "TN", "DZA": "DZ", "MAR": "MA", "LBY": "LY", "EGY": "EG",
	"FRA": "FR", "ITA": "IT", "ESP": "ES", "DEU": "DE", "BEL": "BE",
	"CHE": "CH", "GBR": "GB", "USA": "US", "CAN": "CA",
}

func iso2(iso3 string) string {
	return iso2Codes[strings.ToUpper(iso3)]
}

// buildSink assembles the call log sink: zap debug logging always, plus a
// JSON-lines file when a path is configured. The returned func closes the
// file sink.
func buildSink(path string) (geocode.Sink, func(), error) {
	zapSink := obslog.NewZap(zap.L())
	if path == "" {
		return zapSink, func() {}, nil
	}
	jsonl, err := obslog.NewJSONL(path)
	if err != nil {
		return nil, nil, err
	}
	return obslog.Multi(zapSink, jsonl), func() { _ = jsonl.Close() }, nil
}

// buildRegistry constructs all five provider adapters from config. country
// overrides the configured bias when non-empty.
func buildRegistry(country string, sink geocode.Sink) *geocode.Registry {
	if country == "" {
		country = cfg.Geocode.CountryBias
	}
	client := &http.Client{Timeout: time.Duration(cfg.Geocode.TimeoutSeconds) * time.Second}
	return geocode.NewRegistryFrom(geocode.BuildProviders(geocode.ProviderConfig{
		HereAPIKey:     cfg.Providers.HereAPIKey,
		GoogleAPIKey:   cfg.Providers.GoogleAPIKey,
		OSMEmail:       cfg.Providers.OSMEmail,
		OpenCageAPIKey: cfg.Providers.OpenCageAPIKey,
		GeocodeXYZKey:  cfg.Providers.GeocodeXYZAPIKey,
		CountryISO3:    strings.ToUpper(country),
		CountryISO2:    iso2(country),
		UserAgent:      cfg.Geocode.UserAgent,
	}, client, sink))
}

// newEngine assembles a job-scoped engine over an ordered provider list.
func newEngine(providers []geocode.Provider) *geocode.Engine {
	cache, _ := geocode.NewCache(cfg.Geocode.CacheCapacity) //nolint:errcheck // validated at config load
	return geocode.NewEngine(providers, cache, geocode.BuildLimiters(cfg.Geocode.OSMRatePerSec))
}

// newScheduler wires a scheduler with config defaults and batch logging.
func newScheduler(engine *geocode.Engine, workers, batchSize int) *geocode.Scheduler {
	if workers <= 0 {
		workers = cfg.Geocode.Workers
	}
	if batchSize <= 0 {
		batchSize = cfg.Geocode.BatchSize
	}
	return &geocode.Scheduler{
		Engine:    engine,
		Workers:   workers,
		BatchSize: batchSize,
		OnBatch: func(b geocode.BatchSummary) {
			zap.L().Info("batch complete",
				zap.Int("batch", b.Index),
				zap.Int("size", b.Size),
				zap.Int("ok", b.SuccessCount),
			)
		},
	}
}

// resolveMapping combines an optional mapping file with header guessing.
func resolveMapping(mappingPath string, columns []string) (geocode.FieldMapping, error) {
	var explicit geocode.FieldMapping
	if mappingPath != "" {
		m, err := ingest.LoadMapping(mappingPath)
		if err != nil {
			return geocode.FieldMapping{}, err
		}
		explicit = m
	}
	mapping := ingest.ResolveMapping(explicit, columns)
	if mapping.IsZero() {
		return geocode.FieldMapping{}, eris.New("no recognizable address columns; provide --mapping")
	}
	return mapping, nil
}

// writeOutput dispatches on the export format.
func writeOutput(format, path string, sep rune, table *ingest.Table, results []geocode.Result) error {
	opts := export.Options{Separator: sep}
	switch format {
	case "csv":
		return export.WriteCSV(path, table, results, opts)
	case "json":
		return export.WriteJSON(path, table, results, opts)
	case "ndjson":
		return export.WriteNDJSON(path, table, results, opts)
	case "xlsx":
		return export.WriteXLSX(path, table, results, opts)
	case "shp":
		return export.WriteShapefile(path, results)
	default:
		return eris.Errorf("unsupported output format: %s", format)
	}
}

// persistJob saves the record and results when a store is configured.
func persistJob(ctx context.Context, st store.Store, rec *geocode.JobRecord, results []geocode.Result) error {
	if st == nil {
		return nil
	}
	if err := st.SaveJob(ctx, rec); err != nil {
		return eris.Wrap(err, "save job")
	}
	if err := st.SaveResults(ctx, rec.JobID, results); err != nil {
		return eris.Wrap(err, "save results")
	}
	return nil
}

// notifyMonitoring evaluates alert thresholds and posts to the webhook.
// Failures are logged upstream; this never blocks the command outcome.
func notifyMonitoring(ctx context.Context, rec *geocode.JobRecord, results []geocode.Result) {
	if cfg.Monitoring.WebhookURL == "" {
		return
	}
	alerter := monitoring.NewAlerter(cfg.Monitoring)
	alerter.SendAlerts(ctx, alerter.Evaluate(rec, results))
}

// printJobSummary writes the human summary run and retry end with.
func printJobSummary(out io.Writer, rec *geocode.JobRecord, outputPath string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", rec.JobID)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", rec.Mode)
	_, _ = fmt.Fprintf(w, "Rows:\t%d\n", rec.TotalRows)
	_, _ = fmt.Fprintf(w, "OK:\t%d\n", rec.SuccessCount)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", rec.FailedCount)
	if rec.ImprovedCount > 0 {
		_, _ = fmt.Fprintf(w, "Improved:\t%d\n", rec.ImprovedCount)
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(w, "Duration:\t%s\n", rec.EndedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	}
	for _, line := range histogramLines(rec.PrecisionHistogram) {
		_, _ = fmt.Fprintf(w, "  %s\n", line)
	}
	for _, line := range apiLines(rec.APIHistogram) {
		_, _ = fmt.Fprintf(w, "  %s\n", line)
	}
	if outputPath != "" {
		_, _ = fmt.Fprintf(w, "Output:\t%s\n", outputPath)
	}
	_ = w.Flush()
}

func histogramLines(h map[geocode.Precision]int) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s:\t%d", k, h[geocode.Precision(k)]))
	}
	return lines
}

func apiLines(h map[string]int) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s:\t%d", k, h[k]))
	}
	return lines
}
