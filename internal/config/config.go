package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultSweepInterval     = 60 * time.Second
	DefaultSweepWindowHours  = 48
	DefaultTriageTimeout     = 15 * time.Second
	DefaultTriageParallelism = 4
	DefaultTriageInterval    = 30 * time.Second
	DefaultPollInterval      = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultQueueSize         = 256
	DefaultDomainsFile       = "domains.yaml"
)

// Config holds the server configuration parsed from the `server:`
// section of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates incoming REST and
	// WebSocket clients.
	Auth AuthConfig `yaml:"auth"`

	// Storage selects and configures the feed store backend.
	Storage StorageConfig `yaml:"storage"`

	// Feed controls the live-feed score sweep.
	Feed FeedConfig `yaml:"feed"`

	// Triage configures the pre-filter classifier boundary.
	Triage TriageConfig `yaml:"triage"`

	// Schedule controls the cron evaluation loop.
	Schedule ScheduleConfig `yaml:"schedule"`

	// Hub controls the WebSocket distribution hub.
	Hub HubConfig `yaml:"hub"`

	// DomainsFile is the path to the domain keyword configuration,
	// hot-reloaded at runtime.
	DomainsFile string `yaml:"domains_file"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StorageConfig selects the feed store backend.
type StorageConfig struct {
	// Backend is one of: postgres | memory.
	Backend string `yaml:"backend"`

	// DSNEnv names the environment variable holding the Postgres DSN.
	DSNEnv string `yaml:"dsn_env"`
}

// DSN returns the database connection string resolved from the environment.
func (s StorageConfig) DSN() string {
	if s.DSNEnv == "" {
		return ""
	}
	return os.Getenv(s.DSNEnv)
}

// FeedConfig controls the live-feed sweep loop.
type FeedConfig struct {
	// SweepInterval is how often scores are recomputed across domains.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// SweepWindowHours bounds the rolling window a sweep recomputes.
	SweepWindowHours int `yaml:"sweep_window_hours"`
}

// TriageConfig configures the external classification boundary.
type TriageConfig struct {
	// Provider is a label recorded on verdicts (openai, anthropic, ...).
	Provider string `yaml:"provider"`

	// Model is the classifier model identifier.
	Model string `yaml:"model"`

	// Endpoint is an OpenAI-compatible chat completions URL.
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the provider key.
	APIKeyEnv string `yaml:"api_key_env"`

	// Timeout bounds one classification call.
	Timeout time.Duration `yaml:"timeout"`

	// Parallelism caps concurrent classification calls in a batch.
	Parallelism int `yaml:"parallelism"`

	// Interval is how often the background runner triages pending items.
	// Zero disables the runner.
	Interval time.Duration `yaml:"interval"`
}

// APIKey returns the provider API key resolved from the environment.
func (t TriageConfig) APIKey() string {
	if t.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(t.APIKeyEnv)
}

// ScheduleConfig controls the cron evaluation loop.
type ScheduleConfig struct {
	// PollInterval is how often next-due times are checked.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// HubConfig controls the WebSocket distribution hub.
type HubConfig struct {
	// HeartbeatInterval is the expected client ping cadence. A client
	// silent for twice this interval is disconnected.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// QueueSize is the per-subscriber outbound buffer depth. A
	// subscriber whose queue overflows is evicted.
	QueueSize int `yaml:"queue_size"`
}

// Load reads and parses the config file at path. Missing fields are
// filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			Storage:  StorageConfig{Backend: "memory"},
			Feed: FeedConfig{
				SweepInterval:    DefaultSweepInterval,
				SweepWindowHours: DefaultSweepWindowHours,
			},
			Triage: TriageConfig{
				Provider:    "openai",
				Model:       "gpt-4o-mini",
				Timeout:     DefaultTriageTimeout,
				Parallelism: DefaultTriageParallelism,
				Interval:    DefaultTriageInterval,
			},
			Schedule: ScheduleConfig{PollInterval: DefaultPollInterval},
			Hub: HubConfig{
				HeartbeatInterval: DefaultHeartbeatInterval,
				QueueSize:         DefaultQueueSize,
			},
			DomainsFile: DefaultDomainsFile,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	switch s.Storage.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want postgres|memory", s.Storage.Backend)
	}
	if s.Feed.SweepInterval <= 0 {
		return fmt.Errorf("server.feed.sweep_interval must be positive")
	}
	if s.Feed.SweepWindowHours <= 0 {
		return fmt.Errorf("server.feed.sweep_window_hours must be positive")
	}
	if s.Triage.Timeout <= 0 {
		return fmt.Errorf("server.triage.timeout must be positive")
	}
	if s.Triage.Parallelism <= 0 {
		return fmt.Errorf("server.triage.parallelism must be positive")
	}
	if s.Schedule.PollInterval <= 0 {
		return fmt.Errorf("server.schedule.poll_interval must be positive")
	}
	if s.Hub.HeartbeatInterval <= 0 {
		return fmt.Errorf("server.hub.heartbeat_interval must be positive")
	}
	if s.Hub.QueueSize <= 0 {
		return fmt.Errorf("server.hub.queue_size must be positive")
	}
	return nil
}
