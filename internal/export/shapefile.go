package export

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geobatch/pkg/geocode"
)

// DBF character fields cap at 254 bytes; we keep addresses well under that.
const dbfAddressLen = 120

// shapefileFields are the DBF attributes written for every point. Field
// names are limited to 10 characters by the format.
var shapefileFields = []shp.Field{
	shp.NumberField("ROW_INDEX", 10),
	shp.StringField("API_USED", 20),
	shp.StringField("PRECISION", 20),
	shp.StringField("ADDRESS", dbfAddressLen),
}

// WriteShapefile writes a POINT shapefile containing the rows that geocoded
// successfully. Rows without status OK (or without coordinates) are skipped.
func WriteShapefile(path string, results []geocode.Result) error {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrapf(err, "export: create shapefile %s", path)
	}
	if err := w.SetFields(shapefileFields); err != nil {
		w.Close()
		return eris.Wrapf(err, "export: set attribute fields for %s", path)
	}

	var written, skipped int
	for _, r := range results {
		if r.Status != geocode.StatusOK || !r.HasCoordinates() {
			skipped++
			continue
		}
		row := int(w.Write(&shp.Point{X: *r.Longitude, Y: *r.Latitude}))
		attrs := []any{r.RowIndex, r.APIUsed, string(r.Precision), truncate(r.FormattedAddress, dbfAddressLen)}
		for field, val := range attrs {
			if err := w.WriteAttribute(row, field, val); err != nil {
				w.Close()
				return eris.Wrapf(err, "export: write attribute %d of point %d in %s", field, row, path)
			}
		}
		written++
	}
	w.Close()

	if err := moveAttributeFile(path); err != nil {
		return err
	}

	zap.L().Debug("export: shapefile written",
		zap.String("path", path),
		zap.Int("points", written),
		zap.Int("skipped", skipped),
	)
	return nil
}

// moveAttributeFile renames the DBF sidecar to base+".dbf". go-shp's writer
// trims the ".shp" suffix and then creates the attribute file at base+"dbf"
// (no dot), a name readers never look for.
func moveAttributeFile(path string) error {
	base := strings.TrimSuffix(path, ".shp")
	stray := base + "dbf"
	if _, err := os.Stat(stray); err != nil {
		// Already well-named or never created (no fields written).
		return nil
	}
	if err := os.Rename(stray, base+".dbf"); err != nil {
		return eris.Wrapf(err, "export: rename attribute file for %s", path)
	}
	return nil
}

// truncate clips s to at most n bytes without splitting a utf-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
