package geocode

import (
	"net/http"
	"strings"
	"sync"
)

// newRewriteClient creates an HTTP client that rewrites requests to a test
// server URL. All requests matching the target prefix are redirected to the
// test server; adapters keep their production URL constants.
func newRewriteClient(testServerURL string, targetPrefixes ...string) *http.Client {
	return &http.Client{
		Transport: &rewriteTransport{
			base:           http.DefaultTransport,
			testServer:     testServerURL,
			targetPrefixes: targetPrefixes,
		},
	}
}

type rewriteTransport struct {
	base           http.RoundTripper
	testServer     string
	targetPrefixes []string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origURL := req.URL.String()
	for _, prefix := range t.targetPrefixes {
		if !strings.HasPrefix(origURL, prefix) {
			continue
		}
		suffix := origURL[len(prefix):]
		newReq := req.Clone(req.Context())
		parsed, err := req.URL.Parse(t.testServer + suffix)
		if err != nil {
			return nil, err
		}
		newReq.URL = parsed
		newReq.Host = parsed.Host
		return t.base.RoundTrip(newReq)
	}
	return t.base.RoundTrip(req)
}

// recordingSink captures call records for assertions.
type recordingSink struct {
	mu      sync.Mutex
	records []CallRecord
}

func (s *recordingSink) Record(rec CallRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) all() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// freeText builds a reformatted free-text variant for adapter tests.
func freeText(q string) Variant {
	return Variant{Kind: VariantReformatted, Text: q}
}
