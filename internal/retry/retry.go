// Package retry selects which rows of a previous geocoding output deserve
// another pass and reconstructs prior outcomes from the exported columns.
package retry

import (
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/geobatch/pkg/geocode"
)

// Criteria decides which prior rows qualify for a retry. A row qualifies
// when its status is in Statuses, or when its status is OK and its precision
// is in Precisions.
type Criteria struct {
	Statuses   []geocode.Status
	Precisions []geocode.Precision
}

// DefaultCriteria retries every failed row plus OK rows that only reached
// APPROXIMATE precision.
func DefaultCriteria() Criteria {
	return Criteria{
		Statuses: []geocode.Status{
			geocode.StatusError,
			geocode.StatusZeroResults,
			geocode.StatusOverQueryLimit,
		},
		Precisions: []geocode.Precision{geocode.PrecisionApproximate},
	}
}

// ParseCriteria builds criteria from comma-separated flag values. Empty
// inputs keep the corresponding default.
func ParseCriteria(statuses, precisions string) Criteria {
	c := DefaultCriteria()
	if statuses != "" {
		c.Statuses = nil
		for _, s := range strings.Split(statuses, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.Statuses = append(c.Statuses, geocode.Status(strings.ToUpper(s)))
			}
		}
	}
	if precisions != "" {
		c.Precisions = nil
		for _, p := range strings.Split(precisions, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Precisions = append(c.Precisions, geocode.Precision(strings.ToUpper(p)))
			}
		}
	}
	return c
}

// Qualifies reports whether a prior outcome should be retried.
func (c Criteria) Qualifies(status geocode.Status, precision geocode.Precision) bool {
	for _, s := range c.Statuses {
		if status == s {
			return true
		}
	}
	if status == geocode.StatusOK {
		for _, p := range c.Precisions {
			if precision == p {
				return true
			}
		}
	}
	return false
}

// PriorFromRow reads the prior outcome columns a previous export appended.
func PriorFromRow(row geocode.Row) geocode.Prior {
	return geocode.Prior{
		APIUsed:   row["api_used"],
		Status:    geocode.Status(row["status"]),
		Precision: geocode.Precision(row["precision_level"]),
	}
}

// PassthroughResult rebuilds the full prior Result from the exported
// columns so non-retried rows carry their outcome into the new output
// unchanged.
func PassthroughResult(row geocode.Row, idx int) geocode.Result {
	r := geocode.Result{
		Status:           geocode.Status(row["status"]),
		FormattedAddress: row["formatted_address"],
		Precision:        geocode.Precision(row["precision_level"]),
		PrecisionRaw:     row["precision_level_raw"],
		APIUsed:          row["api_used"],
		ErrorMessage:     row["error_message"],
		VariantKind:      geocode.VariantKind(row["variant_kind"]),
		RowIndex:         idx,
	}
	if lat, ok := parseFloat(row["latitude"]); ok {
		r.Latitude = &lat
	}
	if lng, ok := parseFloat(row["longitude"]); ok {
		r.Longitude = &lng
	}
	if ts, err := time.Parse(time.RFC3339, row["timestamp"]); err == nil {
		r.Timestamp = ts
	}
	return r
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Plan splits a prior output into rows to retry and rows to pass through.
// Results holds one entry per input row; Merge overwrites the retried slots.
type Plan struct {
	RetryRows    []geocode.Row
	RetryIndexes []int
	Priors       []geocode.Prior
	Results      []geocode.Result
}

// BuildPlan applies criteria to every row of a prior output.
func BuildPlan(rows []geocode.Row, c Criteria) Plan {
	p := Plan{Results: make([]geocode.Result, len(rows))}
	for i, row := range rows {
		prior := PriorFromRow(row)
		if c.Qualifies(prior.Status, prior.Precision) {
			p.RetryRows = append(p.RetryRows, row)
			p.RetryIndexes = append(p.RetryIndexes, i)
			p.Priors = append(p.Priors, prior)
		}
		p.Results[i] = PassthroughResult(row, i)
	}
	return p
}

// Merge folds retried results back into the full per-row slice. retried must
// be aligned with RetryRows; row indexes are restamped to the original
// positions.
func (p Plan) Merge(retried []geocode.Result) []geocode.Result {
	out := make([]geocode.Result, len(p.Results))
	copy(out, p.Results)
	for i, idx := range p.RetryIndexes {
		r := retried[i]
		r.RowIndex = idx
		out[idx] = r
	}
	return out
}
