package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHEREGeocode_Rooftop(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"items": [{
				"position": {"lat": 36.800, "lng": 10.180},
				"address": {"label": "12 Avenue Habib Bourguiba, 1000 Tunis, Tunisie"},
				"resultType": "houseNumber"
			}]
		}`)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	p := NewHERE("test-key", "TUN", newRewriteClient(srv.URL, hereGeocodeURL), sink)

	r := p.Geocode(context.Background(), freeText("12 Avenue Habib Bourguiba, 1000 Tunis, Tunisie"))
	assert.Equal(t, StatusOK, r.Status)
	assert.Equal(t, "here", r.APIUsed)
	assert.Equal(t, PrecisionRooftop, r.Precision)
	assert.Equal(t, "houseNumber", r.PrecisionRaw)
	require.True(t, r.HasCoordinates())
	assert.InDelta(t, 36.800, *r.Latitude, 0.0001)
	assert.InDelta(t, 10.180, *r.Longitude, 0.0001)
	assert.Equal(t, "12 Avenue Habib Bourguiba, 1000 Tunis, Tunisie", r.FormattedAddress)
	assert.Equal(t, VariantReformatted, r.VariantKind)
	assert.Equal(t, "12 Avenue Habib Bourguiba, 1000 Tunis, Tunisie", gotQuery)
	assert.Equal(t, 1, sink.count())
}

func TestHEREGeocode_CountryBias(t *testing.T) {
	var gotIn string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIn = r.URL.Query().Get("in")
		_, _ = io.WriteString(w, `{"items": []}`)
	}))
	defer srv.Close()

	p := NewHERE("test-key", "TUN", newRewriteClient(srv.URL, hereGeocodeURL), nil)
	p.Geocode(context.Background(), freeText("somewhere"))
	assert.Equal(t, "countryCode:TUN", gotIn)
}

func TestHEREGeocode_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"items": []}`)
	}))
	defer srv.Close()

	p := NewHERE("test-key", "", newRewriteClient(srv.URL, hereGeocodeURL), nil)
	r := p.Geocode(context.Background(), freeText("XYZ_NONSENSE_0000"))
	assert.Equal(t, StatusZeroResults, r.Status)
	assert.False(t, r.HasCoordinates())
}

func TestHEREGeocode_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewHERE("test-key", "", newRewriteClient(srv.URL, hereGeocodeURL), nil)
	r := p.Geocode(context.Background(), freeText("anywhere"))
	assert.Equal(t, StatusOverQueryLimit, r.Status)
}

func TestHEREGeocode_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHERE("test-key", "", newRewriteClient(srv.URL, hereGeocodeURL), nil)
	r := p.Geocode(context.Background(), freeText("anywhere"))
	assert.Equal(t, StatusError, r.Status)
	assert.Contains(t, r.ErrorMessage, "502")
}

func TestHEREGeocode_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"items": [`)
	}))
	defer srv.Close()

	p := NewHERE("test-key", "", newRewriteClient(srv.URL, hereGeocodeURL), nil)
	r := p.Geocode(context.Background(), freeText("anywhere"))
	assert.Equal(t, StatusError, r.Status)
	assert.Contains(t, r.ErrorMessage, "parse response")
}

func TestHEREGeocode_NoKey(t *testing.T) {
	p := NewHERE("", "", http.DefaultClient, nil)
	assert.False(t, p.Available())

	r := p.Geocode(context.Background(), freeText("anywhere"))
	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, "no credentials", r.ErrorMessage)
}

func TestHEREGeocode_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"items": []}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewHERE("test-key", "", newRewriteClient(srv.URL, hereGeocodeURL), nil)
	r := p.Geocode(ctx, freeText("anywhere"))
	assert.Equal(t, StatusError, r.Status)
	assert.Equal(t, "cancelled", r.ErrorMessage)
}

func TestHEREPrecisionMapping(t *testing.T) {
	cases := map[string]Precision{
		"houseNumber":        PrecisionRooftop,
		"intersection":       PrecisionRange,
		"street":             PrecisionRange,
		"postalCode":         PrecisionCenter,
		"city":               PrecisionApproximate,
		"locality":           PrecisionApproximate,
		"district":           PrecisionApproximate,
		"county":             PrecisionApproximate,
		"state":              PrecisionApproximate,
		"place":              PrecisionApproximate,
		"country":            PrecisionApproximate,
		"administrativeArea": PrecisionApproximate,
		"somethingElse":      PrecisionUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, herePrecision(raw), "resultType %s", raw)
	}
}

func TestHERERedactsAPIKeyInCallLog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"items": []}`)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	p := NewHERE("super-secret", "", newRewriteClient(srv.URL, hereGeocodeURL), sink)
	p.Geocode(context.Background(), freeText("anywhere"))

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.NotContains(t, recs[0].URL, "super-secret")
	assert.Contains(t, recs[0].URL, "REDACTED")
}
