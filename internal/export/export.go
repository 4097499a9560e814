// Package export writes geocoding output in the supported formats: CSV,
// JSON, NDJSON, XLSX, and point shapefiles, plus the bounding-box extent
// recorded on job records.
package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/geobatch/internal/ingest"
	"github.com/sells-group/geobatch/pkg/geocode"
)

// Options configures tabular output.
type Options struct {
	// Separator is the CSV delimiter; zero means comma.
	Separator rune
	// SheetName names the XLSX sheet; empty means "Results".
	SheetName string
}

// resultColumns are the columns appended after the original input columns,
// in output order. "improved" is appended only when a retry result is
// present.
var resultColumns = []string{
	"status",
	"latitude",
	"longitude",
	"formatted_address",
	"precision_level",
	"precision_level_raw",
	"api_used",
	"error_message",
	"timestamp",
	"variant_kind",
}

// anyImproved reports whether at least one result carries the retry
// improvement flag.
func anyImproved(results []geocode.Result) bool {
	for _, r := range results {
		if r.Improved {
			return true
		}
	}
	return false
}

// byRowIndex arranges results by their RowIndex so output rows line up with
// input rows even if the slice arrives unordered.
func byRowIndex(results []geocode.Result) map[int]geocode.Result {
	m := make(map[int]geocode.Result, len(results))
	for _, r := range results {
		m[r.RowIndex] = r
	}
	return m
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// resultCells renders the appended cells for one result, matching
// resultColumns order.
func resultCells(r geocode.Result, withImproved bool) []string {
	cells := []string{
		string(r.Status),
		formatCoord(r.Latitude),
		formatCoord(r.Longitude),
		r.FormattedAddress,
		string(r.Precision),
		r.PrecisionRaw,
		r.APIUsed,
		r.ErrorMessage,
		r.Timestamp.UTC().Format(time.RFC3339),
		string(r.VariantKind),
	}
	if withImproved {
		cells = append(cells, strconv.FormatBool(r.Improved))
	}
	return cells
}

func outputHeader(columns []string, withImproved bool) []string {
	header := append(append([]string{}, columns...), resultColumns...)
	if withImproved {
		header = append(header, "improved")
	}
	return header
}

// WriteCSV writes the table with appended result columns as utf-8 CSV.
func WriteCSV(path string, table *ingest.Table, results []geocode.Result, opts Options) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if opts.Separator != 0 {
		w.Comma = opts.Separator
	}

	withImproved := anyImproved(results)
	if err := w.Write(outputHeader(table.Columns, withImproved)); err != nil {
		return eris.Wrap(err, "export: write header")
	}

	indexed := byRowIndex(results)
	for i, row := range table.Rows {
		record := make([]string, 0, len(table.Columns)+len(resultColumns)+1)
		for _, col := range table.Columns {
			record = append(record, row[col])
		}
		record = append(record, resultCells(indexed[i], withImproved)...)
		if err := w.Write(record); err != nil {
			return eris.Wrapf(err, "export: write row %d", i)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "export: flush")
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

// mergedObject flattens one input row and its result into a single JSON
// object. Result fields win on column-name collisions.
func mergedObject(row geocode.Row, r geocode.Result) (map[string]any, error) {
	obj := make(map[string]any, len(row)+12)
	for k, v := range row {
		obj[k] = v
	}

	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, eris.Wrap(err, "export: marshal result")
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, eris.Wrap(err, "export: flatten result")
	}
	for k, v := range fields {
		obj[k] = v
	}
	return obj, nil
}

// WriteJSON writes one JSON array of merged row+result objects.
func WriteJSON(path string, table *ingest.Table, results []geocode.Result, _ Options) error {
	indexed := byRowIndex(results)
	objects := make([]map[string]any, 0, len(table.Rows))
	for i, row := range table.Rows {
		obj, err := mergedObject(row, indexed[i])
		if err != nil {
			return err
		}
		objects = append(objects, obj)
	}

	data, err := json.MarshalIndent(objects, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: marshal")
	}
	return eris.Wrapf(os.WriteFile(path, append(data, '\n'), 0o644), "export: write %s", path)
}

// WriteNDJSON writes one merged row+result object per line.
func WriteNDJSON(path string, table *ingest.Table, results []geocode.Result, _ Options) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	indexed := byRowIndex(results)
	for i, row := range table.Rows {
		obj, err := mergedObject(row, indexed[i])
		if err != nil {
			return err
		}
		if err := enc.Encode(obj); err != nil {
			return eris.Wrapf(err, "export: encode row %d", i)
		}
	}
	return eris.Wrapf(f.Close(), "export: close %s", path)
}

// WriteXLSX writes a single-sheet workbook: header row plus merged rows.
func WriteXLSX(path string, table *ingest.Table, results []geocode.Result, opts Options) error {
	sheetName := opts.SheetName
	if sheetName == "" {
		sheetName = "Results"
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	withImproved := anyImproved(results)
	headerRow := sheet.AddRow()
	for _, col := range outputHeader(table.Columns, withImproved) {
		headerRow.AddCell().SetString(col)
	}

	indexed := byRowIndex(results)
	for i, row := range table.Rows {
		xr := sheet.AddRow()
		for _, col := range table.Columns {
			xr.AddCell().SetString(row[col])
		}
		for _, cell := range resultCells(indexed[i], withImproved) {
			xr.AddCell().SetString(cell)
		}
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}
