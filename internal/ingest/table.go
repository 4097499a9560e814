package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/sells-group/geobatch/pkg/geocode"
)

// Table is a parsed tabular input. Row order matches file order; the row
// index handed to the scheduler is the position in Rows.
type Table struct {
	Columns []string
	Rows    []geocode.Row
}

// Options configures table parsing.
type Options struct {
	// Separator forces the delimiter; zero enables sniffing.
	Separator rune
	// SheetName selects an XLSX sheet by name; empty uses the first sheet.
	SheetName string
}

// sniffCandidates are the delimiters considered by the separator sniffer.
var sniffCandidates = []rune{',', ';', '\t', '|'}

// ReadTable loads a tabular source. .xlsx files go through the workbook
// reader; everything else is treated as delimited text with separator
// sniffing and an utf-8 → windows-1252 → iso-8859-1 decoding fallback.
func ReadTable(ctx context.Context, opener *Opener, source string, opts Options) (*Table, error) {
	if opener == nil {
		opener = &Opener{}
	}

	if strings.EqualFold(filepath.Ext(stripQuery(source)), ".xlsx") {
		return readXLSX(ctx, opener, source, opts)
	}
	return readDelimited(ctx, opener, source, opts)
}

// stripQuery removes a URL query string so extension detection works on
// remote sources.
func stripQuery(source string) string {
	if i := strings.IndexByte(source, '?'); i >= 0 {
		return source[:i]
	}
	return source
}

func readDelimited(ctx context.Context, opener *Opener, source string, opts Options) (*Table, error) {
	rc, err := opener.Open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", source)
	}

	text, err := decodeBytes(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: decode %s", source)
	}

	sep := opts.Separator
	if sep == 0 {
		sep = SniffSeparator(text)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = sep
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.Errorf("ingest: %s is empty", source)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read header of %s", source)
	}
	columns := make([]string, len(header))
	for i, c := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(c, "\uFEFF"))
	}

	table := &Table{Columns: columns}
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: cancelled")
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read row %d of %s", len(table.Rows)+2, source)
		}
		if row, ok := recordToRow(columns, record); ok {
			table.Rows = append(table.Rows, row)
		}
	}
	return table, nil
}

func readXLSX(ctx context.Context, opener *Opener, source string, opts Options) (*Table, error) {
	rc, err := opener.Open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", source)
	}

	f, err := xlsx.OpenBinary(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open workbook %s", source)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: %s has no sheets", source)
	}

	sheet := f.Sheets[0]
	if opts.SheetName != "" {
		named, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found in %s", opts.SheetName, source)
		}
		sheet = named
	}
	if len(sheet.Rows) == 0 {
		return nil, eris.Errorf("ingest: sheet %q of %s is empty", sheet.Name, source)
	}

	columns := make([]string, 0, len(sheet.Rows[0].Cells))
	for _, cell := range sheet.Rows[0].Cells {
		columns = append(columns, strings.TrimSpace(cell.String()))
	}

	table := &Table{Columns: columns}
	for _, xr := range sheet.Rows[1:] {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: cancelled")
		}
		record := make([]string, len(xr.Cells))
		for i, cell := range xr.Cells {
			record[i] = cell.String()
		}
		if row, ok := recordToRow(columns, record); ok {
			table.Rows = append(table.Rows, row)
		}
	}
	return table, nil
}

// recordToRow maps a record onto the header columns, trimming cells and
// skipping fully empty rows.
func recordToRow(columns, record []string) (geocode.Row, bool) {
	row := make(geocode.Row, len(columns))
	empty := true
	for i, col := range columns {
		var val string
		if i < len(record) {
			val = strings.TrimSpace(record[i])
		}
		row[col] = val
		if val != "" {
			empty = false
		}
	}
	return row, !empty
}

// SniffSeparator picks the delimiter with the highest count on the first
// non-empty line. Comma wins ties.
func SniffSeparator(text string) rune {
	scanner := bufio.NewScanner(strings.NewReader(text))
	var line string
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			line = scanner.Text()
			break
		}
	}

	best := ','
	bestCount := strings.Count(line, ",")
	for _, cand := range sniffCandidates[1:] {
		if n := strings.Count(line, string(cand)); n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}

// decodeBytes returns raw as a utf-8 string. Invalid utf-8 decodes as
// windows-1252 first; its decoder never errors and instead emits U+FFFD for
// the five undefined bytes, so replacement runes in the output are what
// triggers the iso-8859-1 fallback, which maps every byte.
func decodeBytes(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(raw), charmap.Windows1252.NewDecoder()))
	if err == nil && !bytes.ContainsRune(decoded, utf8.RuneError) {
		return string(decoded), nil
	}
	decoded, err = io.ReadAll(transform.NewReader(bytes.NewReader(raw), charmap.ISO8859_1.NewDecoder()))
	if err != nil {
		return "", eris.Wrap(err, "decode as iso-8859-1")
	}
	return string(decoded), nil
}
