package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const hereGeocodeURL = "https://geocode.search.hereapi.com/v1/geocode"

// HEREProvider geocodes free-text addresses via the HERE Geocode v1 API.
type HEREProvider struct {
	providerCore
	apiKey  string
	country string // ISO3 country bias, e.g. "TUN"
}

// NewHERE creates a HERE adapter. country is the ISO3 code used for the
// `in=countryCode:` bias; empty disables the bias.
func NewHERE(apiKey, country string, client *http.Client, sink Sink) *HEREProvider {
	return &HEREProvider{
		providerCore: newProviderCore("here", client, sink),
		apiKey:       apiKey,
		country:      country,
	}
}

// Name implements Provider.
func (p *HEREProvider) Name() string { return "here" }

// Capabilities implements Provider.
func (p *HEREProvider) Capabilities() Capabilities { return Capabilities{FreeText: true} }

// Available implements Provider.
func (p *HEREProvider) Available() bool { return p.apiKey != "" }

// CacheKey implements Provider.
func (p *HEREProvider) CacheKey(v Variant) string { return v.Key() }

// hereResponse is the JSON response from the HERE Geocode API.
type hereResponse struct {
	Items []hereItem `json:"items"`
}

type hereItem struct {
	Position struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"position"`
	Address struct {
		Label string `json:"label"`
	} `json:"address"`
	ResultType string `json:"resultType"`
}

// Geocode implements Provider.
func (p *HEREProvider) Geocode(ctx context.Context, v Variant) Result {
	if p.apiKey == "" {
		return errorResult(p.name, v, "no credentials")
	}

	params := url.Values{
		"q":      {v.Text},
		"apiKey": {p.apiKey},
	}
	if p.country != "" {
		params.Set("in", "countryCode:"+p.country)
	}
	reqURL := hereGeocodeURL + "?" + params.Encode()

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
	case httpStatus == http.StatusTooManyRequests:
		p.record(reqURL, string(StatusOverQueryLimit), elapsed, "", fmt.Sprintf("http %d", httpStatus))
		return quotaResult(p.name, v, "here: rate limit exceeded")
	case httpStatus != http.StatusOK:
		p.record(reqURL, string(StatusError), elapsed, fmt.Sprintf("http %d", httpStatus), "")
		return errorResultf(p.name, v, "here: http status %d", httpStatus)
	}

	var parsed hereResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		p.record(reqURL, string(StatusError), elapsed, err.Error(), truncate(string(body), 200))
		return errorResultf(p.name, v, "here: parse response: %v", err)
	}

	if len(parsed.Items) == 0 {
		p.record(reqURL, string(StatusZeroResults), elapsed, "", "0 items")
		return zeroResult(p.name, v, "no results from HERE")
	}

	item := parsed.Items[0]
	p.record(reqURL, string(StatusOK), elapsed, "", fmt.Sprintf("%d items, resultType=%s", len(parsed.Items), item.ResultType))
	return okResult(p.name, v, item.Position.Lat, item.Position.Lng, item.Address.Label,
		herePrecision(item.ResultType), item.ResultType)
}

// herePrecision maps the HERE resultType to the common precision ladder.
func herePrecision(resultType string) Precision {
	switch strings.ToLower(resultType) {
	case "housenumber":
		return PrecisionRooftop
	case "intersection", "street":
		return PrecisionRange
	case "postalcode":
		return PrecisionCenter
	case "city", "locality", "district", "county", "state", "place", "country", "administrativearea":
		return PrecisionApproximate
	default:
		return PrecisionUnknown
	}
}

// truncate shortens s to at most n bytes for response summaries.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
