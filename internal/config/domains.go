package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulsefeed/pulsefeed/internal/scoring"
)

// DomainSettings is the tunable scoring configuration for one partition.
// The keyword lists are illustrative starting points, not ground truth;
// operators are expected to tune them per deployment.
type DomainSettings struct {
	// Keywords are the domain-specific breaking trigger keywords.
	Keywords []string `yaml:"keywords"`

	// BreakingThreshold overrides the default breaking flag threshold.
	// Zero means scoring.DefaultBreakingThreshold.
	BreakingThreshold float64 `yaml:"breaking_threshold"`

	// HalfLifeHours overrides the freshness half-life. Zero means 24h.
	HalfLifeHours float64 `yaml:"half_life_hours"`

	// RecencyCutoffHours overrides the breaking recency cutoff.
	// Zero means 6h.
	RecencyCutoffHours float64 `yaml:"recency_cutoff_hours"`
}

// HalfLife returns the configured freshness half-life as a duration.
func (d DomainSettings) HalfLife() time.Duration {
	if d.HalfLifeHours <= 0 {
		return scoring.DefaultHalfLife
	}
	return time.Duration(d.HalfLifeHours * float64(time.Hour))
}

// RecencyCutoff returns the configured breaking recency cutoff.
func (d DomainSettings) RecencyCutoff() time.Duration {
	if d.RecencyCutoffHours <= 0 {
		return scoring.DefaultRecencyCutoff
	}
	return time.Duration(d.RecencyCutoffHours * float64(time.Hour))
}

// Threshold returns the configured breaking threshold.
func (d DomainSettings) Threshold() float64 {
	if d.BreakingThreshold <= 0 {
		return scoring.DefaultBreakingThreshold
	}
	return d.BreakingThreshold
}

// Domains is the parsed domain keyword configuration file.
type Domains struct {
	// UniversalKeywords apply to every domain on top of its own set.
	UniversalKeywords []string `yaml:"universal_keywords"`

	// Domains maps partition key to its settings.
	Domains map[string]DomainSettings `yaml:"domains"`
}

// LoadDomains reads and parses the domain keyword file at path.
func LoadDomains(path string) (*Domains, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("domains: read %q: %w", path, err)
	}
	var d Domains
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("domains: parse yaml: %w", err)
	}
	if d.Domains == nil {
		d.Domains = map[string]DomainSettings{}
	}
	return &d, nil
}

// Registry holds the current domain settings and supports atomic
// replacement on hot reload. Safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	d  *Domains
}

// NewRegistry wraps an initial Domains value. A nil d yields an empty
// registry where every domain falls back to defaults.
func NewRegistry(d *Domains) *Registry {
	if d == nil {
		d = &Domains{Domains: map[string]DomainSettings{}}
	}
	return &Registry{d: d}
}

// Replace swaps in a newly loaded Domains value.
func (r *Registry) Replace(d *Domains) {
	if d == nil {
		return
	}
	r.mu.Lock()
	r.d = d
	r.mu.Unlock()
}

// Settings returns the settings for the given domain (zero value when
// the domain is unconfigured) plus the universal keyword list.
func (r *Registry) Settings(domain string) (DomainSettings, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.d.Domains[domain], r.d.UniversalKeywords
}

// DomainNames returns the configured partition keys.
func (r *Registry) DomainNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.d.Domains))
	for name := range r.d.Domains {
		names = append(names, name)
	}
	return names
}
