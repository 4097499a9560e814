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
	"github.com/sells-group/geobatch/pkg/geocode"
)

var (
	runInput     string
	runOutput    string
	runMapping   string
	runMode      string
	runWorkers   int
	runBatchSize int
	runCountry   string
	runFormat    string
	runSep       string
	runSheet     string
	runCallLog   string
	runNoStore   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Geocode a tabular input end to end",
	Long:  "Reads an input table (file, HTTP, or FTP; CSV, TSV, or XLSX), geocodes every row through the configured providers, writes the output, and records the job.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		if err := cfg.Validate("run"); err != nil {
			return err
		}
		mode, err := geocode.ParseRunMode(runMode)
		if err != nil {
			return err
		}

		sink, closeSink, err := buildSink(pickCallLog(runCallLog))
		if err != nil {
			return err
		}
		defer closeSink()

		// Ingest
		opener := &ingest.Opener{Client: &http.Client{Timeout: 60 * time.Second}}
		table, err := ingest.ReadTable(ctx, opener, runInput, ingest.Options{
			Separator: sepRune(runSep),
			SheetName: runSheet,
		})
		if err != nil {
			return err
		}
		mapping, err := resolveMapping(runMapping, table.Columns)
		if err != nil {
			return err
		}

		zap.L().Info("input loaded",
			zap.String("source", runInput),
			zap.Int("rows", len(table.Rows)),
			zap.Strings("columns", table.Columns),
		)

		// Geocode
		registry := buildRegistry(runCountry, sink)
		engine := newEngine(geocode.OrderForMode(mode, registry.All()))
		sched := newScheduler(engine, runWorkers, runBatchSize)

		rec := geocode.OpenJob(geocode.NewJobID(), mode, len(table.Rows))
		results := sched.Run(ctx, mapping, table.Rows)
		geocode.FinalizeJob(rec, results)

		if _, wkt := export.Extent(results); wkt != "" {
			rec.Details = "extent: " + wkt
		}

		// Export
		if err := writeOutput(runFormat, runOutput, sepRune(runSep), table, results); err != nil {
			return err
		}

		// Persist
		if !runNoStore {
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

		printJobSummary(os.Stdout, rec, runOutput)
		return nil
	},
}

// pickCallLog prefers the flag over the configured path.
func pickCallLog(flag string) string {
	if flag != "" {
		return flag
	}
	return cfg.CallLog.Path
}

// sepRune converts the --sep flag to a rune; empty means sniffed/comma.
func sepRune(s string) rune {
	if s == "" {
		return 0
	}
	if s == `\t` {
		return '\t'
	}
	return []rune(s)[0]
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "input source: file path, http(s):// or ftp:// URL (required)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "output file path (required)")
	runCmd.Flags().StringVar(&runMapping, "mapping", "", "YAML field mapping file; omitted fields are guessed from headers")
	runCmd.Flags().StringVar(&runMode, "mode", "multi", "run mode: multi, here_only, google_only, osm_only")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "worker pool size (default from config)")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "rows per batch (default from config)")
	runCmd.Flags().StringVar(&runCountry, "country", "", "ISO3 country bias (default from config)")
	runCmd.Flags().StringVar(&runFormat, "format", "csv", "output format: csv, json, ndjson, xlsx, shp")
	runCmd.Flags().StringVar(&runSep, "sep", "", "CSV separator (default: sniffed on input, comma on output)")
	runCmd.Flags().StringVar(&runSheet, "sheet", "", "XLSX sheet name (default: first sheet)")
	runCmd.Flags().StringVar(&runCallLog, "call-log", "", "append provider call records to this JSONL file")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "skip job persistence")
	_ = runCmd.MarkFlagRequired("input")
	_ = runCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(runCmd)
}
