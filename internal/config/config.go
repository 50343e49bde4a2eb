// Package config handles udots configuration loading.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creatiox/udots/internal/sensors"
	"github.com/creatiox/udots/internal/ubidots"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./udots.yaml, ~/.config/udots/udots.yaml,
// /etc/udots/udots.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"udots.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "udots", "udots.yaml"))
	}

	paths = append(paths, "/etc/udots/udots.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all udots configuration.
type Config struct {
	Ubidots UbidotsConfig `yaml:"ubidots"`

	// Device is the Ubidots device label readings are published to and
	// subscriptions are read from.
	Device string `yaml:"device"`

	PublishIntervalMs   int `yaml:"publish_interval_ms"`
	ReconnectIntervalMs int `yaml:"reconnect_interval_ms"`
	// ReadIntervalMs, when positive, logs local readings on its own
	// cadence between publishes.
	ReadIntervalMs int `yaml:"read_interval_ms"`
	// PollIntervalMs is the sleep between passes of the polling loop.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// Timestamps attaches the current Unix time to every reading.
	Timestamps bool `yaml:"timestamps"`
	// Display renders subscribed values as a text panel on stdout.
	Display bool `yaml:"display"`

	Variables     []VariableConfig `yaml:"variables"`
	Subscriptions []string         `yaml:"subscriptions"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// UbidotsConfig defines the MQTT connection to Ubidots.
type UbidotsConfig struct {
	Broker     string `yaml:"broker"`
	Token      string `yaml:"token"`
	ClientName string `yaml:"client_name"` // Default: host MAC address
	Debug      bool   `yaml:"debug"`
}

// Configured reports whether enough is set to open a connection.
func (c UbidotsConfig) Configured() bool {
	return c.Token != ""
}

// Client converts the section to the client's own config type.
func (c UbidotsConfig) Client() ubidots.Config {
	return ubidots.Config{
		Broker:     c.Broker,
		Token:      c.Token,
		ClientName: c.ClientName,
		Debug:      c.Debug,
	}
}

// VariableConfig defines one published variable.
type VariableConfig struct {
	Label  string  `yaml:"label"`
	Source string  `yaml:"source"` // See sensors.Names
	Value  float64 `yaml:"value"`  // static value or counter start
	// Context is a raw JSON fragment attached to every reading,
	// e.g. '"unit": "C"'.
	Context  string          `yaml:"context"`
	Location *LocationConfig `yaml:"location"`
}

// LocationConfig is a fixed position attached as reading context.
type LocationConfig struct {
	Lat float64 `yaml:"lat"`
	Lng float64 `yaml:"lng"`
}

// ContextFragment returns the context to publish with the variable:
// the location (if any) followed by the free-form context.
func (v VariableConfig) ContextFragment() string {
	var parts []string
	if v.Location != nil {
		parts = append(parts, ubidots.LocationContext(v.Location.Lat, v.Location.Lng))
	}
	if v.Context != "" {
		parts = append(parts, v.Context)
	}
	return strings.Join(parts, ", ")
}

// PublishInterval returns publish_interval_ms as a duration.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.PublishIntervalMs) * time.Millisecond
}

// ReconnectInterval returns reconnect_interval_ms as a duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMs) * time.Millisecond
}

// ReadInterval returns read_interval_ms as a duration. Zero disables
// local reading logs.
func (c *Config) ReadInterval() time.Duration {
	return time.Duration(c.ReadIntervalMs) * time.Millisecond
}

// PollInterval returns poll_interval_ms as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing so tokens can stay out of it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns the built-in configuration: publish every 10s,
// retry the broker every 3s.
func Default() *Config {
	return &Config{
		Ubidots:             UbidotsConfig{Broker: ubidots.DefaultBroker},
		Device:              ubidots.DefaultDeviceLabel,
		PublishIntervalMs:   10000,
		ReconnectIntervalMs: 3000,
		PollIntervalMs:      10,
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

// applyDefaults restores defaults for fields the file set to empty.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Ubidots.Broker == "" {
		c.Ubidots.Broker = d.Ubidots.Broker
	}
	if c.Device == "" {
		c.Device = d.Device
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = d.PollIntervalMs
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
}

// Validate checks the configuration for errors that would prevent the
// publish loop from running. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	if !c.Ubidots.Configured() {
		errs = append(errs, errors.New("ubidots.token is required"))
	}
	if u, err := url.Parse(c.Ubidots.Broker); err != nil {
		errs = append(errs, fmt.Errorf("ubidots.broker: %w", err))
	} else if !ubidots.SupportedScheme(u.Scheme) || u.Host == "" {
		errs = append(errs, fmt.Errorf("ubidots.broker %q: want mqtt, tcp, mqtts, ssl, tls, ws or wss scheme with a host", c.Ubidots.Broker))
	}

	if c.PublishIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("publish_interval_ms must be positive, got %d", c.PublishIntervalMs))
	}
	if c.ReconnectIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("reconnect_interval_ms must be positive, got %d", c.ReconnectIntervalMs))
	}
	if c.ReadIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("read_interval_ms must not be negative, got %d", c.ReadIntervalMs))
	}
	if c.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs))
	}

	if len(c.Variables) > ubidots.MaxValues {
		errs = append(errs, fmt.Errorf("%d variables configured, at most %d fit in one publish", len(c.Variables), ubidots.MaxValues))
	}
	seen := make(map[string]bool, len(c.Variables))
	for i, v := range c.Variables {
		switch {
		case v.Label == "":
			errs = append(errs, fmt.Errorf("variables[%d]: label is required", i))
		case seen[v.Label]:
			errs = append(errs, fmt.Errorf("variables[%d]: duplicate label %q", i, v.Label))
		}
		seen[v.Label] = true
		if !sensors.Known(v.Source) {
			errs = append(errs, fmt.Errorf("variables[%d] %q: unknown source %q (valid: %s)",
				i, v.Label, v.Source, strings.Join(sensors.Names(), ", ")))
		}
	}
	for i, s := range c.Subscriptions {
		if s == "" || strings.Contains(s, "/") {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: invalid variable label %q", i, s))
		}
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
