package geocode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(freeTextStub("here", respondOK(PrecisionRooftop)))
	r.Register(freeTextStub("google", respondOK(PrecisionRooftop)))

	p, ok := r.Get("here")
	require.True(t, ok)
	assert.Equal(t, "here", p.Name())

	_, ok = r.Get("bing")
	assert.False(t, ok)

	assert.Equal(t, []string{"here", "google"}, r.Names())
}

func TestRegistryReplaceKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(freeTextStub("here", respondOK(PrecisionRooftop)))
	r.Register(freeTextStub("google", respondOK(PrecisionRooftop)))

	replacement := freeTextStub("here", respondStatus(StatusZeroResults))
	r.Register(replacement)

	assert.Equal(t, []string{"here", "google"}, r.Names())
	p, ok := r.Get("here")
	require.True(t, ok)
	assert.True(t, p == Provider(replacement))
}

func TestBuildProviders(t *testing.T) {
	cfg := ProviderConfig{
		HereAPIKey:   "h",
		GoogleAPIKey: "g",
		OSMEmail:     "ops@example.com",
		CountryISO3:  "TUN",
		CountryISO2:  "TN",
	}
	providers := BuildProviders(cfg, nil, nil)
	require.Len(t, providers, 5)

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	assert.Equal(t, []string{"here", "google", "osm", "opencage", "geocode_xyz"}, names)

	reg := NewRegistryFrom(providers)
	assert.Equal(t, names, reg.Names())

	here, _ := reg.Get("here")
	assert.True(t, here.Available())
	opencage, _ := reg.Get("opencage")
	assert.False(t, opencage.Available(), "no opencage key configured")
}

func TestCapabilitiesAccepts(t *testing.T) {
	free := Capabilities{FreeText: true}
	assert.True(t, free.Accepts(VariantReformatted))
	assert.True(t, free.Accepts(VariantNoName))
	assert.True(t, free.Accepts(VariantOriginal))
	assert.False(t, free.Accepts(VariantPlaceLookup))
	assert.False(t, free.Accepts(VariantStructured))

	full := Capabilities{FreeText: true, Structured: true, PlaceLookup: true}
	assert.True(t, full.Accepts(VariantPlaceLookup))
	assert.True(t, full.Accepts(VariantStructured))
}

func TestRedactURL(t *testing.T) {
	in := "https://geocode.search.hereapi.com/v1/geocode?apiKey=secret123&q=Tunis"
	out := redactURL(in)
	assert.NotContains(t, out, "secret123")
	assert.Contains(t, out, "q=Tunis")

	// URLs without secrets pass through untouched.
	plain := "https://nominatim.openstreetmap.org/search?q=Tunis&format=json"
	assert.Equal(t, plain, redactURL(plain))
}
