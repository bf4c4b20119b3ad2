// Package config provides YAML configuration parsing for heartbridge.
//
// This package enables running heartbridge as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	session_id: ${HYPERATE_SESSION:-}
//	log_level: info
//
//	osc:
//	  host: localhost
//	  port: 9000
//
//	formatting:
//	  text_template: "❤ {heartRate} {clock}"
//	  show_trend_arrow: true
//	  use_24_hour_clock: true
//	  channel_output: true
//
//	chatbox_cooldown: 3s
//	restart_delay: 3s
//	liveness_interval: 30s
//	watchdog_interval: 60s
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/heartbridge/internal/heartrate"
	"github.com/jpalmerr/heartbridge/internal/hyperate"
	"github.com/jpalmerr/heartbridge/internal/publisher"
	"github.com/jpalmerr/heartbridge/internal/supervisor"
)

// minInterval is the smallest liveness or watchdog interval accepted from a
// file. It keeps a typo like "30ms" from hammering the provider.
const minInterval = 1 * time.Second

// defaultPort is the control API port used when none is configured.
const defaultPort = 8080

// Config is the root configuration structure for heartbridge.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Port is the control API port. Defaults to 8080; 0 disables the
	// HTTP server.
	Port *int `yaml:"port"`

	// SessionID is monitored as soon as the bridge starts. Empty leaves the
	// bridge idle until a session is posted to the control API.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	SessionID string `yaml:"session_id"`

	// BaseURL is the widget site. Defaults to https://app.hyperate.io.
	BaseURL string `yaml:"base_url"`

	// OSC is the datagram target.
	OSC OSCConfig `yaml:"osc"`

	// Formatting controls the chat box text and the digit channels.
	Formatting FormattingConfig `yaml:"formatting"`

	// LivenessInterval is the delay between an acknowledgement and the next
	// liveness message. Defaults to 30s.
	LivenessInterval Duration `yaml:"liveness_interval"`

	// WatchdogInterval is how often a lost connection is retried.
	// Defaults to 60s.
	WatchdogInterval Duration `yaml:"watchdog_interval"`

	// ChatboxCooldown is the minimum spacing between chat box messages.
	// Defaults to 3s; an explicit 0s disables the cooldown.
	ChatboxCooldown *Duration `yaml:"chatbox_cooldown"`

	// RestartDelay separates stopping an active session from starting a
	// newly posted one. Defaults to 3s; an explicit 0s restarts immediately.
	RestartDelay *Duration `yaml:"restart_delay"`

	// ReadTimeout is how long an open channel may stay silent. Must exceed
	// LivenessInterval. Defaults to 90s, or three liveness intervals if longer.
	ReadTimeout Duration `yaml:"read_timeout"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// OSCConfig is where OSC datagrams are sent.
type OSCConfig struct {
	// Host defaults to localhost. Values support environment variable
	// substitution.
	Host string `yaml:"host"`

	// Port defaults to 9000.
	Port int `yaml:"port"`
}

// FormattingConfig mirrors the SDK formatting options.
//
// Booleans that default to true are pointers so an omitted key can be told
// apart from an explicit false.
type FormattingConfig struct {
	TextTemplate   string `yaml:"text_template"`
	ShowTrendArrow bool   `yaml:"show_trend_arrow"`
	Use24HourClock *bool  `yaml:"use_24_hour_clock"`
	ChannelOutput  *bool  `yaml:"channel_output"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// HTTPPort returns the effective control API port.
func (c *Config) HTTPPort() int {
	if c.Port == nil {
		return defaultPort
	}
	return *c.Port
}

// Cooldown returns the effective chat box cooldown.
func (c *Config) Cooldown() time.Duration {
	if c.ChatboxCooldown == nil {
		return publisher.DefaultCooldown
	}
	return c.ChatboxCooldown.Duration()
}

// Restart returns the effective restart delay.
func (c *Config) Restart() time.Duration {
	if c.RestartDelay == nil {
		return supervisor.DefaultRestartDelay
	}
	return c.RestartDelay.Duration()
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in session_id, base_url, osc.host and
// formatting.text_template. Defaults are applied for every omitted field.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// the provider only answers liveness messages, so a read timeout at or
	// below the liveness interval fails every healthy channel
	if cfg.ReadTimeout <= cfg.LivenessInterval {
		return nil, fmt.Errorf("read_timeout (%s) must exceed liveness_interval (%s)",
			cfg.ReadTimeout.Duration(), cfg.LivenessInterval.Duration())
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == nil {
		port := defaultPort
		c.Port = &port
	}
	if c.BaseURL == "" {
		c.BaseURL = hyperate.DefaultBaseURL
	}
	if c.OSC.Host == "" {
		c.OSC.Host = publisher.DefaultHost
	}
	if c.OSC.Port == 0 {
		c.OSC.Port = publisher.DefaultPort
	}

	defaults := heartrate.DefaultOptions()
	if c.Formatting.TextTemplate == "" {
		c.Formatting.TextTemplate = defaults.TextTemplate
	}
	if c.Formatting.Use24HourClock == nil {
		v := defaults.Use24HourClock
		c.Formatting.Use24HourClock = &v
	}
	if c.Formatting.ChannelOutput == nil {
		v := defaults.ChannelOutputEnabled
		c.Formatting.ChannelOutput = &v
	}

	if c.LivenessInterval == 0 {
		c.LivenessInterval = Duration(supervisor.DefaultLivenessInterval)
	}
	if c.WatchdogInterval == 0 {
		c.WatchdogInterval = Duration(supervisor.DefaultWatchdogInterval)
	}
	if c.ChatboxCooldown == nil {
		d := Duration(publisher.DefaultCooldown)
		c.ChatboxCooldown = &d
	}
	if c.RestartDelay == nil {
		d := Duration(supervisor.DefaultRestartDelay)
		c.RestartDelay = &d
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = Duration(max(hyperate.DefaultReadTimeout, 3*c.LivenessInterval.Duration()))
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	var err error

	if c.SessionID, err = expandEnvVars(c.SessionID); err != nil {
		return fmt.Errorf("session_id: %w", err)
	}
	c.SessionID = strings.TrimSpace(c.SessionID)

	if c.BaseURL, err = expandEnvVars(c.BaseURL); err != nil {
		return fmt.Errorf("base_url: %w", err)
	}
	if c.BaseURL != "" {
		parsedURL, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("base_url scheme must be http or https, got %q", parsedURL.Scheme)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("base_url must include a host, got %q", c.BaseURL)
		}
	}

	if c.Port != nil && (*c.Port < 0 || *c.Port > 65535) {
		return fmt.Errorf("port must be between 0 and 65535, got %d", *c.Port)
	}

	if c.OSC.Host, err = expandEnvVars(c.OSC.Host); err != nil {
		return fmt.Errorf("osc.host: %w", err)
	}
	if c.OSC.Port < 0 || c.OSC.Port > 65535 {
		return fmt.Errorf("osc.port must be between 1 and 65535, got %d", c.OSC.Port)
	}

	if c.Formatting.TextTemplate, err = expandEnvVars(c.Formatting.TextTemplate); err != nil {
		return fmt.Errorf("formatting.text_template: %w", err)
	}

	if c.LivenessInterval != 0 && c.LivenessInterval.Duration() < minInterval {
		return fmt.Errorf("liveness_interval must be at least %s, got %s",
			minInterval, c.LivenessInterval.Duration())
	}
	if c.WatchdogInterval != 0 && c.WatchdogInterval.Duration() < minInterval {
		return fmt.Errorf("watchdog_interval must be at least %s, got %s",
			minInterval, c.WatchdogInterval.Duration())
	}
	if c.ChatboxCooldown != nil && c.ChatboxCooldown.Duration() < 0 {
		return fmt.Errorf("chatbox_cooldown cannot be negative, got %s", c.ChatboxCooldown.Duration())
	}
	if c.RestartDelay != nil && c.RestartDelay.Duration() < 0 {
		return fmt.Errorf("restart_delay cannot be negative, got %s", c.RestartDelay.Duration())
	}
	if c.ReadTimeout != 0 && c.ReadTimeout.Duration() < time.Second {
		return fmt.Errorf("read_timeout must be at least 1s if specified, got %s", c.ReadTimeout.Duration())
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}

	return nil
}
