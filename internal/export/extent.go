package export

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/sells-group/geobatch/pkg/geocode"
)

// Extent computes the bounding box over every successfully geocoded result.
// It returns nil and an empty string when no result has coordinates. The WKT
// rendering of the box polygon is stored in job details.
func Extent(results []geocode.Result) (*geom.Bounds, string) {
	bounds := geom.NewBounds(geom.XY)
	var found bool
	for _, r := range results {
		if r.Status != geocode.StatusOK || !r.HasCoordinates() {
			continue
		}
		bounds.Extend(geom.NewPointFlat(geom.XY, []float64{*r.Longitude, *r.Latitude}))
		found = true
	}
	if !found {
		return nil, ""
	}

	text, err := wkt.Marshal(bounds.Polygon())
	if err != nil {
		return bounds, ""
	}
	return bounds, text
}
