package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const openCageURL = "https://api.opencagedata.com/geocode/v1/json"

// OpenCageProvider geocodes via the OpenCage forward geocoding API.
type OpenCageProvider struct {
	providerCore
	apiKey  string
	country string // ISO2 country bias, lowercased on the wire
}

// NewOpenCage creates an OpenCage adapter.
func NewOpenCage(apiKey, country string, client *http.Client, sink Sink) *OpenCageProvider {
	return &OpenCageProvider{
		providerCore: newProviderCore("opencage", client, sink),
		apiKey:       apiKey,
		country:      country,
	}
}

// Name implements Provider.
func (p *OpenCageProvider) Name() string { return "opencage" }

// Capabilities implements Provider.
func (p *OpenCageProvider) Capabilities() Capabilities {
	return Capabilities{FreeText: true}
}

// Available implements Provider.
func (p *OpenCageProvider) Available() bool { return p.apiKey != "" }

// CacheKey implements Provider.
func (p *OpenCageProvider) CacheKey(v Variant) string { return v.Key() }

// openCageResponse is the JSON response from the OpenCage API.
type openCageResponse struct {
	Results []struct {
		Geometry struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"geometry"`
		Formatted  string `json:"formatted"`
		Components struct {
			Type string `json:"_type"`
		} `json:"components"`
	} `json:"results"`
	Status struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"status"`
}

// Geocode implements Provider.
func (p *OpenCageProvider) Geocode(ctx context.Context, v Variant) Result {
	if p.apiKey == "" {
		return errorResult(p.name, v, "no credentials")
	}

	params := url.Values{
		"q":        {v.Text},
		"key":      {p.apiKey},
		"language": {"fr"},
	}
	if p.country != "" {
		params.Set("countrycode", strings.ToLower(p.country))
	}
	reqURL := openCageURL + "?" + params.Encode()

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
	case httpStatus == http.StatusPaymentRequired || httpStatus == http.StatusTooManyRequests:
		p.record(reqURL, string(StatusOverQueryLimit), elapsed, fmt.Sprintf("http %d", httpStatus), "")
		return quotaResult(p.name, v, "opencage: quota exceeded")
	case httpStatus != http.StatusOK:
		p.record(reqURL, string(StatusError), elapsed, fmt.Sprintf("http %d", httpStatus), "")
		return errorResultf(p.name, v, "opencage: http status %d", httpStatus)
	}

	var parsed openCageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.record(reqURL, string(StatusError), elapsed, err.Error(), truncate(string(body), 200))
		return errorResultf(p.name, v, "opencage: parse response: %v", err)
	}
	if len(parsed.Results) == 0 {
		p.record(reqURL, string(StatusZeroResults), elapsed, "", "0 results")
		return zeroResult(p.name, v, "no results from OpenCage")
	}

	r := parsed.Results[0]
	p.record(reqURL, string(StatusOK), elapsed, "", fmt.Sprintf("%d results, _type=%s", len(parsed.Results), r.Components.Type))
	return okResult(p.name, v, r.Geometry.Lat, r.Geometry.Lng, r.Formatted,
		openCagePrecision(r.Components.Type), r.Components.Type)
}

// openCagePrecision maps an OpenCage components._type onto the common ladder.
func openCagePrecision(typ string) Precision {
	switch typ {
	case "building", "house":
		return PrecisionRooftop
	case "road", "street":
		return PrecisionRange
	case "neighbourhood", "postcode":
		return PrecisionCenter
	case "city", "town", "village", "state", "county":
		return PrecisionApproximate
	default:
		return PrecisionUnknown
	}
}
