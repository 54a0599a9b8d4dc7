package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pulsefeed/pulsefeed/internal/scoring"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	p := writeFile(t, "config.yaml", `server:
  http_port: 8080
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.Feed.SweepInterval != DefaultSweepInterval {
		t.Errorf("sweep_interval: got %v, want %v", cfg.Server.Feed.SweepInterval, DefaultSweepInterval)
	}
	if cfg.Server.Hub.QueueSize != DefaultQueueSize {
		t.Errorf("queue_size: got %d, want %d", cfg.Server.Hub.QueueSize, DefaultQueueSize)
	}
	if cfg.Server.Storage.Backend != "memory" {
		t.Errorf("storage.backend: got %q, want memory", cfg.Server.Storage.Backend)
	}
	if cfg.Server.Triage.Parallelism != DefaultTriageParallelism {
		t.Errorf("triage.parallelism: got %d, want %d", cfg.Server.Triage.Parallelism, DefaultTriageParallelism)
	}
}

func TestLoad_Full(t *testing.T) {
	p := writeFile(t, "config.yaml", `server:
  http_port: 9091
  auth:
    mode: apikey
    key_env: PF_KEY
    header: x-pf-key
  storage:
    backend: postgres
    dsn_env: PF_DSN
  feed:
    sweep_interval: 2m
    sweep_window_hours: 72
  triage:
    provider: anthropic
    model: claude-3-haiku
    timeout: 30s
    parallelism: 8
  schedule:
    poll_interval: 45s
  hub:
    heartbeat_interval: 20s
    queue_size: 64
  domains_file: /etc/pulsefeed/domains.yaml
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Auth.EffectiveHeader() != "x-pf-key" {
		t.Errorf("header: got %q, want x-pf-key", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Server.Feed.SweepInterval != 2*time.Minute {
		t.Errorf("sweep_interval: got %v, want 2m", cfg.Server.Feed.SweepInterval)
	}
	if cfg.Server.Triage.Model != "claude-3-haiku" {
		t.Errorf("triage.model: got %q", cfg.Server.Triage.Model)
	}
	if cfg.Server.Hub.QueueSize != 64 {
		t.Errorf("queue_size: got %d, want 64", cfg.Server.Hub.QueueSize)
	}
	if cfg.Server.DomainsFile != "/etc/pulsefeed/domains.yaml" {
		t.Errorf("domains_file: got %q", cfg.Server.DomainsFile)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad port", "server:\n  http_port: 99999\n"},
		{"bad auth mode", "server:\n  auth:\n    mode: oauth\n"},
		{"bad backend", "server:\n  storage:\n    backend: dynamo\n"},
		{"negative sweep", "server:\n  feed:\n    sweep_interval: -5s\n"},
		{"zero queue", "server:\n  hub:\n    queue_size: -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, "config.yaml", tt.yaml)
			if _, err := Load(p); err == nil {
				t.Errorf("Load accepted invalid config")
			}
		})
	}
}

func TestLoadDomains_AndRegistry(t *testing.T) {
	p := writeFile(t, "domains.yaml", `universal_keywords: [breaking, urgent]
domains:
  tech:
    keywords: [breach, outage, zero-day]
    breaking_threshold: 0.4
  science:
    keywords: [discovery, retraction]
    half_life_hours: 48
`)
	d, err := LoadDomains(p)
	if err != nil {
		t.Fatalf("LoadDomains: %v", err)
	}
	reg := NewRegistry(d)

	tech, universal := reg.Settings("tech")
	if len(tech.Keywords) != 3 || tech.Threshold() != 0.4 {
		t.Errorf("tech settings: %+v", tech)
	}
	if len(universal) != 2 {
		t.Errorf("universal: got %v", universal)
	}

	sci, _ := reg.Settings("science")
	if sci.HalfLife() != 48*time.Hour {
		t.Errorf("science half-life: got %v, want 48h", sci.HalfLife())
	}
	if sci.Threshold() != scoring.DefaultBreakingThreshold {
		t.Errorf("science threshold: got %v, want default", sci.Threshold())
	}

	// Unconfigured domain falls back to defaults.
	other, _ := reg.Settings("finance")
	if other.HalfLife() != scoring.DefaultHalfLife || other.RecencyCutoff() != scoring.DefaultRecencyCutoff {
		t.Errorf("unconfigured domain did not fall back to defaults: %+v", other)
	}
}

func TestRegistry_Replace(t *testing.T) {
	reg := NewRegistry(&Domains{
		Domains: map[string]DomainSettings{"tech": {Keywords: []string{"breach"}}},
	})
	reg.Replace(&Domains{
		Domains: map[string]DomainSettings{"tech": {Keywords: []string{"breach", "outage"}}},
	})
	s, _ := reg.Settings("tech")
	if len(s.Keywords) != 2 {
		t.Errorf("replace not applied: %v", s.Keywords)
	}
}
