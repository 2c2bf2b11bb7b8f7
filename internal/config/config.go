package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config models khata.yml.
type Config struct {
	Business struct {
		Name           string `yaml:"name" json:"name"`
		CurrencySymbol string `yaml:"currency_symbol" json:"currency_symbol"`
		Timezone       string `yaml:"timezone" json:"timezone"`
	} `yaml:"business" json:"business"`
	Ledger struct {
		VisibleEntries int `yaml:"visible_entries" json:"visible_entries"`
	} `yaml:"ledger" json:"ledger"`
	Server struct {
		Addr           string  `yaml:"addr" json:"addr"`
		BasePath       string  `yaml:"base_path" json:"base_path"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level string `yaml:"level" json:"level"`
	} `yaml:"log" json:"log"`
	Webhooks []Webhook `yaml:"webhooks" json:"webhooks,omitempty"`
}

// Webhook receives batches of audit events whose type starts with one of Events.
type Webhook struct {
	URL    string   `yaml:"url" json:"url"`
	Events []string `yaml:"events" json:"events,omitempty"`
	Secret string   `yaml:"secret" json:"-"`
}

// Matches reports whether an event type should be delivered to the hook.
// An empty Events list subscribes to everything.
func (w Webhook) Matches(evtType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, prefix := range w.Events {
		if prefix == "*" || strings.HasPrefix(evtType, prefix) {
			return true
		}
	}
	return false
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with kh init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Business.CurrencySymbol == "" {
		return fmt.Errorf("config.business.currency_symbol is required")
	}
	if c.Business.Timezone != "" {
		if _, err := time.LoadLocation(c.Business.Timezone); err != nil {
			return fmt.Errorf("config.business.timezone: %w", err)
		}
	}
	if c.Ledger.VisibleEntries <= 0 {
		return fmt.Errorf("config.ledger.visible_entries must be positive")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		return fmt.Errorf("config.server rate limits must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Location returns the business timezone, UTC when unset.
func (c *Config) Location() *time.Location {
	if c == nil || c.Business.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Business.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "khata.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(businessName string) string {
	return fmt.Sprintf(defaultTemplate, businessName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, "My Shop"))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing fields
// fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `business:
  name: %q
  currency_symbol: "₹"
  timezone: Asia/Kolkata

ledger:
  visible_entries: 20

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  rate_limit_rps: 20
  rate_limit_burst: 40

log:
  level: info

webhooks: []
`
