package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeTestFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestSniffSeparator(t *testing.T) {
	assert.Equal(t, ';', SniffSeparator("a;b;c\n1;2;3\n"))
	assert.Equal(t, ',', SniffSeparator("a,b,c\n1,2,3\n"))
	assert.Equal(t, '\t', SniffSeparator("a\tb\tc\n"))
	assert.Equal(t, '|', SniffSeparator("a|b|c\n"))

	// Comma wins ties, including the degenerate single-column case.
	assert.Equal(t, ',', SniffSeparator("a,b;c;d,e\n"))
	assert.Equal(t, ',', SniffSeparator("header\nrow\n"))

	// Leading blank lines are skipped before counting.
	assert.Equal(t, ';', SniffSeparator("\n\na;b;c\n"))
}

func TestReadTableCSV(t *testing.T) {
	path := writeTestFile(t, "input.csv", []byte("Nom,Rue,Ville\nPharmacie,12 Rue Habib Bourguiba,Tunis\nClinique,5 Avenue de Carthage,Sfax\n"))

	table, err := ReadTable(context.Background(), nil, path, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Nom", "Rue", "Ville"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Pharmacie", table.Rows[0]["Nom"])
	assert.Equal(t, "5 Avenue de Carthage", table.Rows[1]["Rue"])
}

func TestReadTableSemicolonSniffed(t *testing.T) {
	path := writeTestFile(t, "input.txt", []byte("Nom;Ville\nPharmacie;Tunis\n"))

	table, err := ReadTable(context.Background(), nil, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Nom", "Ville"}, table.Columns)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Tunis", table.Rows[0]["Ville"])
}

func TestReadTableForcedSeparator(t *testing.T) {
	// One pipe versus two commas: sniffing would pick comma, the forced
	// separator must win.
	path := writeTestFile(t, "input.txt", []byte("a|b,c,d\n1|2,3,4\n"))

	table, err := ReadTable(context.Background(), nil, path, Options{Separator: '|'})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b,c,d"}, table.Columns)
}

func TestReadTableWindows1252Fallback(t *testing.T) {
	// "Résidence" with é encoded as windows-1252 0xE9: invalid utf-8.
	raw := append([]byte("Nom,Rue\nKiosque,R"), 0xE9)
	raw = append(raw, []byte("sidence El Manar\n")...)
	path := writeTestFile(t, "legacy.csv", raw)

	table, err := ReadTable(context.Background(), nil, path, Options{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Résidence El Manar", table.Rows[0]["Rue"])
}

func TestReadTableTrimsAndSkipsEmptyRows(t *testing.T) {
	path := writeTestFile(t, "input.csv", []byte("Nom,Ville\n  Pharmacie  , Tunis \n,\n \n"))

	table, err := ReadTable(context.Background(), nil, path, Options{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1, "blank rows must be skipped")
	assert.Equal(t, "Pharmacie", table.Rows[0]["Nom"])
	assert.Equal(t, "Tunis", table.Rows[0]["Ville"])
}

func TestReadTableBOMHeader(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Nom,Ville\nPharmacie,Tunis\n")...)
	path := writeTestFile(t, "bom.csv", raw)

	table, err := ReadTable(context.Background(), nil, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Nom", "Ville"}, table.Columns)
}

func TestReadTableRaggedRows(t *testing.T) {
	path := writeTestFile(t, "ragged.csv", []byte("a,b,c\n1,2\n"))

	table, err := ReadTable(context.Background(), nil, path, Options{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "", table.Rows[0]["c"], "missing trailing cells read as empty")
}

func TestReadTableEmptyFile(t *testing.T) {
	path := writeTestFile(t, "empty.csv", nil)

	_, err := ReadTable(context.Background(), nil, path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadTableMissingFile(t *testing.T) {
	_, err := ReadTable(context.Background(), nil, filepath.Join(t.TempDir(), "nope.csv"), Options{})
	require.Error(t, err)
}

func TestReadTableXLSX(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {
			{"Nom", "Ville"},
			{"Pharmacie", "Tunis"},
			{"", ""},
			{"Clinique", "Sfax"},
		},
	})

	table, err := ReadTable(context.Background(), nil, path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Nom", "Ville"}, table.Columns)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Sfax", table.Rows[1]["Ville"])
}

func TestReadTableXLSXNamedSheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"First":  {{"a"}, {"1"}},
		"Second": {{"x"}, {"2"}},
	})

	table, err := ReadTable(context.Background(), nil, path, Options{SheetName: "Second"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, table.Columns)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "2", table.Rows[0]["x"])
}

func TestReadTableXLSXSheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{"Sheet1": {{"a"}}})

	_, err := ReadTable(context.Background(), nil, path, Options{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadTableHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Nom;Ville\nPharmacie;Tunis\n"))
	}))
	defer srv.Close()

	opener := &Opener{Client: srv.Client()}
	table, err := ReadTable(context.Background(), opener, srv.URL+"/export.csv?download=1", Options{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Pharmacie", table.Rows[0]["Nom"])
}

func TestReadTableHTTPNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	opener := &Opener{Client: srv.Client()}
	_, err := ReadTable(context.Background(), opener, srv.URL+"/export.csv", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestReadTableCancelled(t *testing.T) {
	path := writeTestFile(t, "input.csv", []byte("a,b\n1,2\n"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ReadTable(ctx, nil, path, Options{})
	require.Error(t, err)
}

func TestDecodeBytes(t *testing.T) {
	// Plain utf-8 passes through.
	out, err := decodeBytes([]byte("Résidence"))
	require.NoError(t, err)
	assert.Equal(t, "Résidence", out)

	// windows-1252 é (0xE9).
	out, err = decodeBytes([]byte{'R', 0xE9, 's'})
	require.NoError(t, err)
	assert.Equal(t, "Rés", out)

	// 0x81 is undefined in windows-1252; the decoder emits U+FFFD for it
	// rather than failing, so the iso-8859-1 fallback must take over and
	// map it to the C1 control U+0081.
	out, err = decodeBytes([]byte{'A', 0x81, 'B'})
	require.NoError(t, err)
	assert.Equal(t, "A\u0081B", out)
	assert.NotContains(t, out, "�")
}
