package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const geocodeXYZURL = "https://geocode.xyz"

// GeocodeXYZProvider geocodes via the geocode.xyz API. The service works
// without an auth token but throttles anonymous callers hard, so the token
// is optional rather than a credential gate.
type GeocodeXYZProvider struct {
	providerCore
	authKey string
	region  string // ISO2 region hint, e.g. "TN"
}

// NewGeocodeXYZ creates a geocode.xyz adapter. authKey may be empty.
func NewGeocodeXYZ(authKey, region string, client *http.Client, sink Sink) *GeocodeXYZProvider {
	return &GeocodeXYZProvider{
		providerCore: newProviderCore("geocode_xyz", client, sink),
		authKey:      authKey,
		region:       region,
	}
}

// Name implements Provider.
func (p *GeocodeXYZProvider) Name() string { return "geocode_xyz" }

// Capabilities implements Provider.
func (p *GeocodeXYZProvider) Capabilities() Capabilities {
	return Capabilities{FreeText: true}
}

// Available implements Provider. The service accepts anonymous requests.
func (p *GeocodeXYZProvider) Available() bool { return true }

// CacheKey implements Provider.
func (p *GeocodeXYZProvider) CacheKey(v Variant) string { return v.Key() }

// geocodeXYZResponse is the JSON response from geocode.xyz. Coordinates and
// confidence come back as strings.
type geocodeXYZResponse struct {
	Latt     string `json:"latt"`
	Longt    string `json:"longt"`
	Standard struct {
		AddressT   string `json:"addresst"`
		City       string `json:"city"`
		Confidence string `json:"confidence"`
	} `json:"standard"`
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// Geocode implements Provider.
func (p *GeocodeXYZProvider) Geocode(ctx context.Context, v Variant) Result {
	params := url.Values{
		"locate": {v.Text},
		"json":   {"1"},
	}
	if p.authKey != "" {
		params.Set("auth", p.authKey)
	}
	if p.region != "" {
		params.Set("region", p.region)
	}
	reqURL := geocodeXYZURL + "?" + params.Encode()

	body, httpStatus, elapsed, err := p.fetch(ctx, reqURL, nil)
	if err != nil {
		msg, cancelled := cancelMessage(ctx, err)
		p.record(reqURL, string(StatusError), elapsed, msg, "")
		if cancelled {
			return errorResult(p.name, v, "cancelled")
		}
		return errorResult(p.name, v, msg)
	}
	switch {
	case httpStatus == http.StatusForbidden || httpStatus == http.StatusTooManyRequests:
		p.record(reqURL, string(StatusOverQueryLimit), elapsed, fmt.Sprintf("http %d", httpStatus), "")
		return quotaResult(p.name, v, "geocode.xyz: throttled")
	case httpStatus != http.StatusOK:
		p.record(reqURL, string(StatusError), elapsed, fmt.Sprintf("http %d", httpStatus), "")
		return errorResultf(p.name, v, "geocode.xyz: http status %d", httpStatus)
	}

	var parsed geocodeXYZResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.record(reqURL, string(StatusError), elapsed, err.Error(), truncate(string(body), 200))
		return errorResultf(p.name, v, "geocode.xyz: parse response: %v", err)
	}

	switch parsed.Error.Code {
	case "":
	case "008":
		p.record(reqURL, string(StatusOverQueryLimit), elapsed, parsed.Error.Description, "")
		return quotaResult(p.name, v, "geocode.xyz: throttled")
	case "018":
		p.record(reqURL, string(StatusZeroResults), elapsed, "", parsed.Error.Description)
		return zeroResult(p.name, v, "no results from geocode.xyz")
	default:
		p.record(reqURL, string(StatusError), elapsed, parsed.Error.Description, "code="+parsed.Error.Code)
		return errorResultf(p.name, v, "geocode.xyz: %s", parsed.Error.Description)
	}

	if parsed.Latt == "" || parsed.Longt == "" {
		p.record(reqURL, string(StatusZeroResults), elapsed, "", "empty coordinates")
		return zeroResult(p.name, v, "no results from geocode.xyz")
	}

	lat, latErr := strconv.ParseFloat(parsed.Latt, 64)
	lng, lngErr := strconv.ParseFloat(parsed.Longt, 64)
	if latErr != nil || lngErr != nil {
		p.record(reqURL, string(StatusError), elapsed, "invalid coordinates", fmt.Sprintf("latt=%q longt=%q", parsed.Latt, parsed.Longt))
		return errorResultf(p.name, v, "geocode.xyz: parse coordinates latt=%q longt=%q", parsed.Latt, parsed.Longt)
	}

	formatted := joinNonEmpty(parsed.Standard.AddressT, parsed.Standard.City)
	raw := "confidence=" + parsed.Standard.Confidence
	p.record(reqURL, string(StatusOK), elapsed, "", raw)
	return okResult(p.name, v, lat, lng, formatted,
		geocodeXYZPrecision(parsed.Standard.Confidence), raw)
}

// geocodeXYZPrecision derives a ladder tier from the reported confidence.
// The service has no precision taxonomy of its own.
func geocodeXYZPrecision(confidence string) Precision {
	c, err := strconv.ParseFloat(confidence, 64)
	if err != nil {
		return PrecisionUnknown
	}
	if c >= 0.8 {
		return PrecisionCenter
	}
	return PrecisionApproximate
}
