package geocode

import (
	"net/http"
	"sync"
)

// Registry holds named providers in registration order. It backs provider
// listings and lets callers assemble engines from a subset by name.
type Registry struct {
	mu     sync.RWMutex
	names  []string
	byName map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Provider)}
}

// Register adds a provider, replacing any existing one with the same name.
// Replacement keeps the original position in the order.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, ok := r.byName[name]; !ok {
		r.names = append(r.names, name)
	}
	r.byName[name] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// Names returns the registered provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns every registered provider in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.byName[n])
	}
	return out
}

// ProviderConfig carries the credentials and bias settings the adapters
// draw from. Empty credentials leave the corresponding provider registered
// but unavailable.
type ProviderConfig struct {
	HereAPIKey     string
	GoogleAPIKey   string
	OSMEmail       string
	OpenCageAPIKey string
	GeocodeXYZKey  string
	CountryISO3    string // HERE country filter, e.g. "TUN"
	CountryISO2    string // Google components and OpenCage bias, e.g. "TN"
	UserAgent      string // Nominatim User-Agent product token
}

// BuildProviders constructs every adapter in default preference order.
// client and sink may be nil; adapters fall back to a 10 second client and
// a no-op sink.
func BuildProviders(cfg ProviderConfig, client *http.Client, sink Sink) []Provider {
	return []Provider{
		NewHERE(cfg.HereAPIKey, cfg.CountryISO3, client, sink),
		NewGoogle(cfg.GoogleAPIKey, cfg.CountryISO2, client, sink),
		NewOSM(cfg.OSMEmail, cfg.UserAgent, client, sink),
		NewOpenCage(cfg.OpenCageAPIKey, cfg.CountryISO2, client, sink),
		NewGeocodeXYZ(cfg.GeocodeXYZKey, cfg.CountryISO2, client, sink),
	}
}

// NewRegistryFrom registers providers into a fresh registry.
func NewRegistryFrom(providers []Provider) *Registry {
	r := NewRegistry()
	for _, p := range providers {
		r.Register(p)
	}
	return r
}
