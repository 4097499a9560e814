package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	googleGeocodeURL   = "https://maps.googleapis.com/maps/api/geocode/json"
	googleFindPlaceURL = "https://maps.googleapis.com/maps/api/place/findplacefromtext/json"
)

// GoogleProvider geocodes via the Google Geocoding API. Free-text queries
// carry component filters built from the row's fields; place lookups resolve
// a place_id through the Places findplacefromtext endpoint first.
type GoogleProvider struct {
	providerCore
	apiKey  string
	country string // ISO2 country bias, e.g. "TN"
}

// NewGoogle creates a Google adapter. country is the ISO2 code used in the
// components filter and (lowercased) as the region bias; empty disables both.
func NewGoogle(apiKey, country string, client *http.Client, sink Sink) *GoogleProvider {
	return &GoogleProvider{
		providerCore: newProviderCore("google", client, sink),
		apiKey:       apiKey,
		country:      country,
	}
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return "google" }

// Capabilities implements Provider.
func (p *GoogleProvider) Capabilities() Capabilities {
	return Capabilities{FreeText: true, PlaceLookup: true}
}

// Available implements Provider.
func (p *GoogleProvider) Available() bool { return p.apiKey != "" }

// CacheKey implements Provider. Free-text keys include the component filter
// because two identical query strings with different components are distinct
// requests.
func (p *GoogleProvider) CacheKey(v Variant) string {
	if v.Kind == VariantPlaceLookup {
		return v.Key()
	}
	return v.Key() + "|c:" + p.components(v.Fields)
}

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Status       string         `json:"status"`
	Results      []googleResult `json:"results"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// googleFindPlaceResponse is the JSON response from findplacefromtext.
type googleFindPlaceResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Candidates   []struct {
		PlaceID string `json:"place_id"`
	} `json:"candidates"`
}

// Geocode implements Provider.
func (p *GoogleProvider) Geocode(ctx context.Context, v Variant) Result {
	if p.apiKey == "" {
		return errorResult(p.name, v, "no credentials")
	}
	if v.Kind == VariantPlaceLookup {
		return p.geocodePlace(ctx, v)
	}

	params := url.Values{
		"address": {v.Text},
		"key":     {p.apiKey},
	}
	if comps := p.components(v.Fields); comps != "" {
		params.Set("components", comps)
	}
	if p.country != "" {
		params.Set("region", strings.ToLower(p.country))
	}

	return p.geocodeRequest(ctx, v, googleGeocodeURL+"?"+params.Encode())
}

// geocodePlace resolves a place_id for the query text, then geocodes it.
func (p *GoogleProvider) geocodePlace(ctx context.Context, v Variant) Result {
	params := url.Values{
		"input":     {v.Text},
		"inputtype": {"textquery"},
		"fields":    {"place_id"},
		"key":       {p.apiKey},
	}
	reqURL := googleFindPlaceURL + "?" + params.Encode()

	body, httpStatus, elapsed, err := p.fetch(ctx, reqURL, nil)
	if err != nil {
		msg, cancelled := cancelMessage(ctx, err)
		p.record(reqURL, string(StatusError), elapsed, msg, "")
		if cancelled {
			return errorResult(p.name, v, "cancelled")
		}
		return errorResult(p.name, v, msg)
	}
	if httpStatus != http.StatusOK {
		p.record(reqURL, string(StatusError), elapsed, fmt.Sprintf("http %d", httpStatus), "")
		return errorResultf(p.name, v, "google places: http status %d", httpStatus)
	}

	var parsed googleFindPlaceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.record(reqURL, string(StatusError), elapsed, err.Error(), truncate(string(body), 200))
		return errorResultf(p.name, v, "google places: parse response: %v", err)
	}

	switch {
	case parsed.Status == "OK" && len(parsed.Candidates) > 0:
		p.record(reqURL, "OK", elapsed, "", fmt.Sprintf("%d candidates", len(parsed.Candidates)))
		geoParams := url.Values{
			"place_id": {parsed.Candidates[0].PlaceID},
			"key":      {p.apiKey},
		}
		return p.geocodeRequest(ctx, v, googleGeocodeURL+"?"+geoParams.Encode())
	case parsed.Status == "OVER_QUERY_LIMIT":
		p.record(reqURL, string(StatusOverQueryLimit), elapsed, parsed.ErrorMessage, "")
		return quotaResult(p.name, v, "google places: over query limit")
	case parsed.Status == "ZERO_RESULTS" || len(parsed.Candidates) == 0:
		p.record(reqURL, string(StatusZeroResults), elapsed, "", "0 candidates")
		return zeroResult(p.name, v, "no place match")
	default:
		p.record(reqURL, string(StatusError), elapsed, parsed.ErrorMessage, "status="+parsed.Status)
		return errorResultf(p.name, v, "google places: status %s", parsed.Status)
	}
}

// geocodeRequest performs one Geocoding API call and maps the response.
func (p *GoogleProvider) geocodeRequest(ctx context.Context, v Variant, reqURL string) Result {
	body, httpStatus, elapsed, err := p.fetch(ctx, reqURL, nil)
	if err != nil {
		msg, cancelled := cancelMessage(ctx, err)
		p.record(reqURL, string(StatusError), elapsed, msg, "")
		if cancelled {
			return errorResult(p.name, v, "cancelled")
		}
		return errorResult(p.name, v, msg)
	}
	if httpStatus != http.StatusOK {
		p.record(reqURL, string(StatusError), elapsed, fmt.Sprintf("http %d", httpStatus), "")
		return errorResultf(p.name, v, "google: http status %d", httpStatus)
	}

	var parsed googleGeocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.record(reqURL, string(StatusError), elapsed, err.Error(), truncate(string(body), 200))
		return errorResultf(p.name, v, "google: parse response: %v", err)
	}

	switch parsed.Status {
	case "OK":
		if len(parsed.Results) == 0 {
			p.record(reqURL, string(StatusError), elapsed, "status OK with no results", "")
			return errorResult(p.name, v, "google: status OK with no results")
		}
		r := parsed.Results[0]
		p.record(reqURL, string(StatusOK), elapsed, "", fmt.Sprintf("%d results, location_type=%s", len(parsed.Results), r.Geometry.LocationType))
		return okResult(p.name, v, r.Geometry.Location.Lat, r.Geometry.Location.Lng,
			r.FormattedAddress, googlePrecision(r.Geometry.LocationType), r.Geometry.LocationType)
	case "ZERO_RESULTS":
		p.record(reqURL, string(StatusZeroResults), elapsed, "", "0 results")
		return zeroResult(p.name, v, "no results from Google")
	case "OVER_QUERY_LIMIT":
		p.record(reqURL, string(StatusOverQueryLimit), elapsed, parsed.ErrorMessage, "")
		return quotaResult(p.name, v, "google: over query limit")
	default:
		msg := parsed.ErrorMessage
		if msg == "" {
			msg = parsed.Status
		}
		p.record(reqURL, string(StatusError), elapsed, msg, "status="+parsed.Status)
		return errorResultf(p.name, v, "google: %s", msg)
	}
}

// components builds the component filter for a free-text query.
func (p *GoogleProvider) components(f Fields) string {
	var parts []string
	if p.country != "" {
		parts = append(parts, "country:"+p.country)
	}
	if f.PostalCode != "" {
		parts = append(parts, "postal_code:"+f.PostalCode)
	}
	if f.City != "" {
		parts = append(parts, "locality:"+f.City)
	}
	if f.Governorate != "" {
		parts = append(parts, "administrative_area_level_1:"+f.Governorate)
	}
	return strings.Join(parts, "|")
}

// googlePrecision maps location_type onto the common ladder. Google already
// uses the common tags; anything unrecognized maps to UNKNOWN.
func googlePrecision(locationType string) Precision {
	switch strings.ToUpper(locationType) {
	case "ROOFTOP":
		return PrecisionRooftop
	case "RANGE_INTERPOLATED":
		return PrecisionRange
	case "GEOMETRIC_CENTER":
		return PrecisionCenter
	case "APPROXIMATE":
		return PrecisionApproximate
	default:
		return PrecisionUnknown
	}
}
