package main

import (
	"net/http"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/internal/export"
	"github.com/sells-group/geobatch/internal/ingest"
	"github.com/sells-group/geobatch/internal/retry"
	"github.com/sells-group/geobatch/pkg/geocode"
)

var (
	retryInput      string
	retryOutput     string
	retryMapping    string
	retryMode       string
	retryWorkers    int
	retryBatchSize  int
	retryCountry    string
	retryFormat     string
	retrySep        string
	retrySheet      string
	retryCallLog    string
	retryNoStore    bool
	retryStatuses   string
	retryPrecisions string
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-geocode the weak rows of a previous output",
	Long:  "Reads a previous geocoding output, re-runs rows whose status or precision qualifies, and writes a merged output. The provider that produced a row's prior result is tried last, and strictly better outcomes are flagged as improved. OpenCage and Geocode.xyz join the fallback chain when credentials exist.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		if err := cfg.Validate("retry"); err != nil {
			return err
		}
		if _, err := geocode.ParseRunMode(retryMode); err != nil {
			return err
		}

		sink, closeSink, err := buildSink(pickCallLog(retryCallLog))
		if err != nil {
			return err
		}
		defer closeSink()

		opener := &ingest.Opener{Client: &http.Client{Timeout: 60 * time.Second}}
		table, err := ingest.ReadTable(ctx, opener, retryInput, ingest.Options{
			Separator: sepRune(retrySep),
			SheetName: retrySheet,
		})
		if err != nil {
			return err
		}
		mapping, err := resolveMapping(retryMapping, table.Columns)
		if err != nil {
			return err
		}

		criteria := retry.ParseCriteria(retryStatuses, retryPrecisions)
		plan := retry.BuildPlan(table.Rows, criteria)

		zap.L().Info("retry plan",
			zap.Int("rows", len(table.Rows)),
			zap.Int("retrying", len(plan.RetryRows)),
		)

		registry := buildRegistry(retryCountry, sink)
		engine := newEngine(geocode.OrderForRetry(registry.All()))
		sched := newScheduler(engine, retryWorkers, retryBatchSize)

		rec := geocode.OpenJob(geocode.NewJobID(), geocode.RunMode(retryMode), len(table.Rows))
		retried := sched.RunRetry(ctx, mapping, plan.RetryRows, plan.Priors)
		results := plan.Merge(retried)
		geocode.FinalizeJob(rec, results)

		if _, wkt := export.Extent(results); wkt != "" {
			rec.Details = "extent: " + wkt
		}

		if err := writeOutput(retryFormat, retryOutput, sepRune(retrySep), table, results); err != nil {
			return err
		}

		if !retryNoStore {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			if st != nil {
				defer st.Close() //nolint:errcheck
				if err := st.Migrate(ctx); err != nil {
					return eris.Wrap(err, "migrate store")
				}
				if err := persistJob(ctx, st, rec, results); err != nil {
					return err
				}
			}
		}

		notifyMonitoring(ctx, rec, results)

		printJobSummary(os.Stdout, rec, retryOutput)
		return nil
	},
}

func init() {
	retryCmd.Flags().StringVar(&retryInput, "input", "", "previous output to retry: file path or URL (required)")
	retryCmd.Flags().StringVar(&retryOutput, "output", "", "output file path (required)")
	retryCmd.Flags().StringVar(&retryMapping, "mapping", "", "YAML field mapping file; omitted fields are guessed from headers")
	retryCmd.Flags().StringVar(&retryMode, "mode", "multi", "run mode recorded on the job")
	retryCmd.Flags().IntVar(&retryWorkers, "workers", 0, "worker pool size (default from config)")
	retryCmd.Flags().IntVar(&retryBatchSize, "batch-size", 0, "rows per batch (default from config)")
	retryCmd.Flags().StringVar(&retryCountry, "country", "", "ISO3 country bias (default from config)")
	retryCmd.Flags().StringVar(&retryFormat, "format", "csv", "output format: csv, json, ndjson, xlsx, shp")
	retryCmd.Flags().StringVar(&retrySep, "sep", "", "CSV separator (default: sniffed on input, comma on output)")
	retryCmd.Flags().StringVar(&retrySheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	retryCmd.Flags().StringVar(&retryCallLog, "call-log", "", "append provider call records to this JSONL file")
	retryCmd.Flags().BoolVar(&retryNoStore, "no-store", false, "skip job persistence")
	retryCmd.Flags().StringVar(&retryStatuses, "statuses", "", "comma-separated statuses that qualify (default: error,zero_results,over_query_limit)")
	retryCmd.Flags().StringVar(&retryPrecisions, "precisions", "", "comma-separated OK precisions that qualify (default: approximate)")
	_ = retryCmd.MarkFlagRequired("input")
	_ = retryCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(retryCmd)
}
