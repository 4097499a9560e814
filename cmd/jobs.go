package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geobatch/internal/store"
	"github.com/sells-group/geobatch/pkg/geocode"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect geocoding job history",
	Long:  "Commands for listing, viewing, and summarizing geocoding jobs.",
}

// openJobStore initializes the store for read commands; the "none" driver
// is an error here since there is nothing to inspect.
func openJobStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("jobs"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("no store configured (store.driver is none)")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List geocoding jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openJobStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.JobFilter{
			Status: geocode.JobStatus(status),
			Limit:  limit,
		}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openJobStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate job statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openJobStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.JobFilter{Limit: 10000}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		jobs, err := st.ListJobs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}

		formatJobStats(os.Stdout, computeJobStats(jobs))
		return nil
	},
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by job status (in_progress, success, failed)")
	jobsListCmd.Flags().Duration("since", 0, "only jobs started within this window (e.g. 72h)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")

	jobsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

// jobStats holds aggregate statistics computed from a set of jobs.
type jobStats struct {
	Total      int
	Success    int
	Failed     int
	InProgress int
	Rows       int
	RowsOK     int
	Improved   int
	AvgDurSecs float64
	PerAPI     map[string]int
}

func computeJobStats(jobs []geocode.JobRecord) jobStats {
	s := jobStats{Total: len(jobs), PerAPI: make(map[string]int)}

	var totalDur time.Duration
	var durCount int

	for _, j := range jobs {
		switch j.Status {
		case geocode.JobSuccess:
			s.Success++
		case geocode.JobFailed:
			s.Failed++
		default:
			s.InProgress++
		}
		s.Rows += j.TotalRows
		s.RowsOK += j.SuccessCount
		s.Improved += j.ImprovedCount
		for api, n := range j.APIHistogram {
			s.PerAPI[api] += n
		}
		if j.EndedAt != nil {
			totalDur += j.EndedAt.Sub(j.StartedAt)
			durCount++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatJobsList writes a tabular list of jobs to out.
func formatJobsList(out io.Writer, jobs []geocode.JobRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB_ID\tMODE\tSTATUS\tROWS\tOK\tFAILED\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "------\t----\t------\t----\t--\t------\t-------\t--------")

	for _, j := range jobs {
		dur := ""
		if j.EndedAt != nil {
			dur = j.EndedAt.Sub(j.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			j.JobID,
			j.Mode,
			j.Status,
			j.TotalRows,
			j.SuccessCount,
			j.FailedCount,
			j.StartedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatJobStats writes aggregate stats to out.
func formatJobStats(out io.Writer, s jobStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total jobs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Success:\t%d\n", s.Success)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "In progress:\t%d\n", s.InProgress)
	_, _ = fmt.Fprintf(w, "Rows geocoded:\t%d\n", s.Rows)
	if s.Rows > 0 {
		_, _ = fmt.Fprintf(w, "Row success rate:\t%.1f%%\n", float64(s.RowsOK)/float64(s.Rows)*100)
	}
	if s.Improved > 0 {
		_, _ = fmt.Fprintf(w, "Rows improved:\t%d\n", s.Improved)
	}
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	apis := make([]string, 0, len(s.PerAPI))
	for api := range s.PerAPI {
		apis = append(apis, api)
	}
	sort.Strings(apis)
	for _, api := range apis {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", api, s.PerAPI[api])
	}
	_ = w.Flush()
}
