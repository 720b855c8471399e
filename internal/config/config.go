package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models cycleline.yml.
type Config struct {
	Policies  Policies        `yaml:"policies"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Events    EventsConfig    `yaml:"events"`
	Log       struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
}

type Policies struct {
	// AllowIndependentRecurrenceChange lets unit and repeat_every be
	// changed one at a time.
	AllowIndependentRecurrenceChange bool `yaml:"allow_independent_recurrence_change"`
}

type SchedulerConfig struct {
	Enabled    *bool  `yaml:"enabled"`
	Spec       string `yaml:"spec"`
	MaxCatchUp int    `yaml:"max_catch_up"`
}

type EventsConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
	NATS     NATSConfig      `yaml:"nats"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type NATSConfig struct {
	URL           string   `yaml:"url"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Events        []string `yaml:"events"`
}

const (
	DefaultScheduleSpec  = "@hourly"
	DefaultMaxCatchUp    = 12
	DefaultSubjectPrefix = "cycleline"
	DefaultAddr          = "127.0.0.1:8080"
	DefaultBasePath      = "/v0"
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Scheduler.Spec != "" {
		if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
			return fmt.Errorf("config.scheduler.spec %q: %w", c.Scheduler.Spec, err)
		}
	}
	if c.Scheduler.MaxCatchUp < 0 {
		return fmt.Errorf("config.scheduler.max_catch_up must be >= 0")
	}
	for i, hook := range c.Events.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.events.webhooks[%d].url is required", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.events.webhooks[%d].url must be an http(s) url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.events.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	if c.Events.NATS.URL != "" && !strings.HasPrefix(c.Events.NATS.URL, "nats://") && !strings.HasPrefix(c.Events.NATS.URL, "tls://") {
		return fmt.Errorf("config.events.nats.url must start with nats:// or tls://")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

func (c *Config) SchedulerEnabled() bool {
	if c == nil || c.Scheduler.Enabled == nil {
		return true
	}
	return *c.Scheduler.Enabled
}

func (c *Config) ScheduleSpec() string {
	if c == nil || c.Scheduler.Spec == "" {
		return DefaultScheduleSpec
	}
	return c.Scheduler.Spec
}

func (c *Config) MaxCatchUp() int {
	if c == nil || c.Scheduler.MaxCatchUp == 0 {
		return DefaultMaxCatchUp
	}
	return c.Scheduler.MaxCatchUp
}

func (c *Config) SubjectPrefix() string {
	if c == nil || c.Events.NATS.SubjectPrefix == "" {
		return DefaultSubjectPrefix
	}
	return c.Events.NATS.SubjectPrefix
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cycleline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the config produced by GenerateDefault.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `policies:
  # unit and repeat_every must change together unless this is true
  allow_independent_recurrence_change: false

scheduler:
  enabled: true
  spec: "@hourly"
  max_catch_up: 12

events:
  webhooks: []
  nats:
    url: ""
    subject_prefix: cycleline

log:
  level: info

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
