package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const osmSearchURL = "https://nominatim.openstreetmap.org/search"

// OSMProvider geocodes via the Nominatim search API. It supports both
// free-text and structured queries and requires a contact email per the
// Nominatim usage policy; the email doubles as the credential.
type OSMProvider struct {
	providerCore
	email     string
	userAgent string
}

// NewOSM creates a Nominatim adapter. userAgent is the product token sent
// on every request, suffixed with the contact email.
func NewOSM(email, userAgent string, client *http.Client, sink Sink) *OSMProvider {
	if userAgent == "" {
		userAgent = "GeocoderBot/1.0"
	}
	return &OSMProvider{
		providerCore: newProviderCore("osm", client, sink),
		email:        email,
		userAgent:    userAgent,
	}
}

// Name implements Provider.
func (p *OSMProvider) Name() string { return "osm" }

// Capabilities implements Provider.
func (p *OSMProvider) Capabilities() Capabilities {
	return Capabilities{FreeText: true, Structured: true}
}

// Available implements Provider.
func (p *OSMProvider) Available() bool { return p.email != "" }

// CacheKey implements Provider.
func (p *OSMProvider) CacheKey(v Variant) string { return v.Key() }

// osmItem is one entry of the Nominatim JSON response. Coordinates come
// back as strings.
type osmItem struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Class       string `json:"class"`
	Type        string `json:"type"`
}

// Geocode implements Provider.
func (p *OSMProvider) Geocode(ctx context.Context, v Variant) Result {
	if p.email == "" {
		return errorResult(p.name, v, "no credentials")
	}

	params := url.Values{
		"format":          {"json"},
		"limit":           {"1"},
		"addressdetails":  {"1"},
		"accept-language": {"fr"},
		"email":           {p.email},
	}
	if v.Kind == VariantStructured {
		if v.Fields.Street != "" {
			params.Set("street", v.Fields.Street)
		}
		if v.Fields.City != "" {
			params.Set("city", v.Fields.City)
		}
		if v.Fields.PostalCode != "" {
			params.Set("postalcode", v.Fields.PostalCode)
		}
		if v.Fields.Country != "" {
			params.Set("country", v.Fields.Country)
		}
	} else {
		params.Set("q", v.Text)
	}
	reqURL := osmSearchURL + "?" + params.Encode()
	headers := map[string]string{
		"User-Agent": fmt.Sprintf("%s (%s)", p.userAgent, p.email),
	}

	body, httpStatus, elapsed, err := p.fetch(ctx, reqURL, headers)
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
		p.record(reqURL, string(StatusOverQueryLimit), elapsed, "http 429", "")
		return quotaResult(p.name, v, "osm: rate limit exceeded")
	case httpStatus != http.StatusOK:
		p.record(reqURL, string(StatusError), elapsed, fmt.Sprintf("http %d", httpStatus), "")
		return errorResultf(p.name, v, "osm: http status %d", httpStatus)
	}

	var items []osmItem
	if err := json.Unmarshal(body, &items); err != nil {
		p.record(reqURL, string(StatusError), elapsed, err.Error(), truncate(string(body), 200))
		return errorResultf(p.name, v, "osm: parse response: %v", err)
	}
	if len(items) == 0 {
		p.record(reqURL, string(StatusZeroResults), elapsed, "", "0 results")
		return zeroResult(p.name, v, "no results from OSM")
	}

	item := items[0]
	lat, latErr := strconv.ParseFloat(item.Lat, 64)
	lng, lngErr := strconv.ParseFloat(item.Lon, 64)
	if latErr != nil || lngErr != nil {
		p.record(reqURL, string(StatusError), elapsed, "invalid coordinates", fmt.Sprintf("lat=%q lon=%q", item.Lat, item.Lon))
		return errorResultf(p.name, v, "osm: parse coordinates lat=%q lon=%q", item.Lat, item.Lon)
	}

	raw := item.Class + "/" + item.Type
	p.record(reqURL, string(StatusOK), elapsed, "", fmt.Sprintf("%d results, %s", len(items), raw))
	return okResult(p.name, v, lat, lng, item.DisplayName, osmPrecision(item.Class, item.Type), raw)
}

// osmTagPrecision maps Nominatim tag values onto the common ladder. The
// same vocabulary shows up in both the type and class fields depending on
// the feature, so lookups consult type first, then class.
var osmTagPrecision = map[string]Precision{
	"house":       PrecisionRooftop,
	"building":    PrecisionRooftop,
	"address":     PrecisionRooftop,
	"residential": PrecisionRooftop,
	"apartments":  PrecisionRooftop,
	"shop":        PrecisionRooftop,
	"amenity":     PrecisionRooftop,
	"office":      PrecisionRooftop,

	"road":   PrecisionRange,
	"street": PrecisionRange,
	"path":   PrecisionRange,

	"neighbourhood": PrecisionCenter,
	"suburb":        PrecisionCenter,
	"quarter":       PrecisionCenter,
	"district":      PrecisionCenter,

	"city":         PrecisionApproximate,
	"town":         PrecisionApproximate,
	"village":      PrecisionApproximate,
	"municipality": PrecisionApproximate,
	"county":       PrecisionApproximate,
	"state":        PrecisionApproximate,
	"region":       PrecisionApproximate,
}

// osmPrecision maps a Nominatim class/type pair onto the common ladder.
// Tags outside the known vocabulary sit at GEOMETRIC_CENTER.
func osmPrecision(class, typ string) Precision {
	if p, ok := osmTagPrecision[typ]; ok {
		return p
	}
	if p, ok := osmTagPrecision[class]; ok {
		return p
	}
	return PrecisionCenter
}
