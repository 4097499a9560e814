package geocode

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Capabilities describes which query shapes a provider accepts.
type Capabilities struct {
	FreeText    bool
	Structured  bool
	PlaceLookup bool
}

// Accepts reports whether a variant kind is usable with these capabilities.
func (c Capabilities) Accepts(kind VariantKind) bool {
	switch kind {
	case VariantReformatted, VariantNoName, VariantOriginal:
		return c.FreeText
	case VariantPlaceLookup:
		return c.PlaceLookup
	case VariantStructured:
		return c.Structured
	default:
		return false
	}
}

// Provider is a single geocoding backend normalized to the common Result
// shape. Geocode never returns an error: every failure mode is encoded into
// the Result status.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	// CacheKey returns the canonical key for the exact query the adapter
	// would send for this variant.
	CacheKey(v Variant) string
	Geocode(ctx context.Context, v Variant) Result
	// Available reports whether the provider has the credentials it needs.
	Available() bool
}

// providerCore carries the plumbing shared by all adapters.
type providerCore struct {
	name   string
	client *http.Client
	sink   Sink
}

func newProviderCore(name string, client *http.Client, sink Sink) providerCore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if sink == nil {
		sink = NopSink{}
	}
	return providerCore{name: name, client: client, sink: sink}
}

// fetch performs one GET and returns the body, HTTP status, and elapsed time.
// The caller logs the outcome via record; fetch itself does not touch the
// sink so the caller can attach the provider-level status classification.
func (p providerCore) fetch(ctx context.Context, rawURL string, headers map[string]string) (body []byte, httpStatus int, elapsed time.Duration, err error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, time.Since(start), err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, 0, time.Since(start), err
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err = io.ReadAll(resp.Body)
	return body, resp.StatusCode, time.Since(start), err
}

// record emits one call log entry.
func (p providerCore) record(rawURL, status string, elapsed time.Duration, errMsg, summary string) {
	p.sink.Record(CallRecord{
		Timestamp:       time.Now().UTC(),
		Provider:        p.name,
		URL:             redactURL(rawURL),
		Status:          status,
		DurationMS:      elapsed.Milliseconds(),
		Error:           errMsg,
		ResponseSummary: summary,
	})
}

// secretParams are query parameters whose values are masked in call logs.
var secretParams = map[string]bool{
	"key":    true,
	"apiKey": true,
	"apikey": true,
	"auth":   true,
}

// redactURL masks credential query parameters so call logs can be shared.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	changed := false
	for name := range q {
		if secretParams[name] {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// cancelMessage distinguishes a context cancellation from other transport
// failures so the engine can stop the row instead of falling back.
func cancelMessage(ctx context.Context, err error) (string, bool) {
	if ctx.Err() != nil {
		return "cancelled", true
	}
	if err != nil {
		return err.Error(), false
	}
	return "", false
}
