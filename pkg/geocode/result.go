// Package geocode implements a multi-provider geocoding engine: per-row
// fallback across HERE, Google, and OSM/Nominatim (plus OpenCage and
// Geocode.xyz for retries), with per-job response caching, per-provider rate
// limiting, address rewriting, and batch scheduling over a bounded worker
// pool.
package geocode

import (
	"fmt"
	"time"
)

// Status classifies the outcome of one geocoding attempt.
type Status string

const (
	StatusOK             Status = "OK"
	StatusZeroResults    Status = "ZERO_RESULTS"
	StatusOverQueryLimit Status = "OVER_QUERY_LIMIT"
	StatusError          Status = "ERROR"
)

// Precision is the common accuracy ladder every provider result is mapped
// onto. The zero value means "absent" (no precision reported).
type Precision string

const (
	PrecisionRooftop     Precision = "ROOFTOP"
	PrecisionRange       Precision = "RANGE_INTERPOLATED"
	PrecisionCenter      Precision = "GEOMETRIC_CENTER"
	PrecisionApproximate Precision = "APPROXIMATE"
	PrecisionUnknown     Precision = "UNKNOWN"
)

// VariantKind tags which address rewrite produced a query.
type VariantKind string

const (
	VariantReformatted VariantKind = "reformatted"
	VariantNoName      VariantKind = "no_name"
	VariantOriginal    VariantKind = "original"
	VariantPlaceLookup VariantKind = "place_lookup"
	VariantStructured  VariantKind = "structured"
)

// Result is the common shape every provider adapter returns. Adapters never
// return errors; transport failures, parse failures, and provider rejections
// are all encoded into Status and ErrorMessage.
type Result struct {
	Status           Status      `json:"status"`
	Latitude         *float64    `json:"latitude,omitempty"`
	Longitude        *float64    `json:"longitude,omitempty"`
	FormattedAddress string      `json:"formatted_address,omitempty"`
	Precision        Precision   `json:"precision_level,omitempty"`
	PrecisionRaw     string      `json:"precision_level_raw,omitempty"`
	APIUsed          string      `json:"api_used,omitempty"`
	ErrorMessage     string      `json:"error_message,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
	VariantKind      VariantKind `json:"variant_kind,omitempty"`
	RowIndex         int         `json:"row_index"`
	Improved         bool        `json:"improved,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (r Result) HasCoordinates() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// okResult builds a successful Result for the given provider and variant.
func okResult(api string, v Variant, lat, lng float64, formatted string, p Precision, raw string) Result {
	return Result{
		Status:           StatusOK,
		Latitude:         &lat,
		Longitude:        &lng,
		FormattedAddress: formatted,
		Precision:        p,
		PrecisionRaw:     raw,
		APIUsed:          api,
		Timestamp:        time.Now().UTC(),
		VariantKind:      v.Kind,
	}
}

// zeroResult builds a ZERO_RESULTS Result.
func zeroResult(api string, v Variant, msg string) Result {
	return Result{
		Status:       StatusZeroResults,
		APIUsed:      api,
		ErrorMessage: msg,
		Timestamp:    time.Now().UTC(),
		VariantKind:  v.Kind,
	}
}

// quotaResult builds an OVER_QUERY_LIMIT Result.
func quotaResult(api string, v Variant, msg string) Result {
	return Result{
		Status:       StatusOverQueryLimit,
		APIUsed:      api,
		ErrorMessage: msg,
		Timestamp:    time.Now().UTC(),
		VariantKind:  v.Kind,
	}
}

// errorResult builds an ERROR Result.
func errorResult(api string, v Variant, msg string) Result {
	return Result{
		Status:       StatusError,
		APIUsed:      api,
		ErrorMessage: msg,
		Timestamp:    time.Now().UTC(),
		VariantKind:  v.Kind,
	}
}

// errorResultf builds an ERROR Result with a formatted message.
func errorResultf(api string, v Variant, format string, args ...any) Result {
	return errorResult(api, v, fmt.Sprintf(format, args...))
}

// cancelledResult is returned for rows that were skipped or aborted because
// the surrounding context was cancelled.
func cancelledResult(idx int) Result {
	return Result{
		Status:       StatusError,
		ErrorMessage: "cancelled",
		Timestamp:    time.Now().UTC(),
		RowIndex:     idx,
	}
}
