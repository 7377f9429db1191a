package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tickerflow/reconnect"
)

type Config struct {
	Tickerflow TickerflowConfig `yaml:"tickerflow"`
	Feed       FeedConfig       `yaml:"feed"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type TickerflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type FeedConfig struct {
	BaseWSURL        string
	BaseRESTURL      string
	Endpoints        []EndpointConfig
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadBuffer       int
	ControlRate      ControlRateConfig
}

// UnmarshalYAML decodes the feed section, parsing durations from strings like
// "10s" and leaving defaults in place for absent keys.
func (f *FeedConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		BaseWSURL        string            `yaml:"base_ws_url"`
		BaseRESTURL      string            `yaml:"base_rest_url"`
		Endpoints        []EndpointConfig  `yaml:"endpoints"`
		HandshakeTimeout string            `yaml:"handshake_timeout"`
		WriteTimeout     string            `yaml:"write_timeout"`
		ReadBuffer       int               `yaml:"read_buffer"`
		ControlRate      ControlRateConfig `yaml:"control_rate"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if raw.BaseWSURL != "" {
		f.BaseWSURL = raw.BaseWSURL
	}
	if raw.BaseRESTURL != "" {
		f.BaseRESTURL = raw.BaseRESTURL
	}
	if raw.Endpoints != nil {
		f.Endpoints = raw.Endpoints
	}
	if err := parseDuration("feed.handshake_timeout", raw.HandshakeTimeout, &f.HandshakeTimeout); err != nil {
		return err
	}
	if err := parseDuration("feed.write_timeout", raw.WriteTimeout, &f.WriteTimeout); err != nil {
		return err
	}
	if raw.ReadBuffer != 0 {
		f.ReadBuffer = raw.ReadBuffer
	}
	if raw.ControlRate != (ControlRateConfig{}) {
		f.ControlRate = raw.ControlRate
	}
	return nil
}

type EndpointConfig struct {
	ID      string   `yaml:"id"`
	Channel string   `yaml:"channel"`
	Symbols []string `yaml:"symbols"`
}

// WSURL builds the streaming address for the endpoint's feed family.
func (e EndpointConfig) WSURL(baseWSURL string) string {
	return fmt.Sprintf("%s/%s/ws", strings.TrimRight(baseWSURL, "/"), e.Channel)
}

type ControlRateConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type HeartbeatConfig struct {
	Interval  time.Duration
	Deadline  time.Duration
	MaxMisses int
}

func (h *HeartbeatConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Interval  string `yaml:"interval"`
		Deadline  string `yaml:"deadline"`
		MaxMisses int    `yaml:"max_misses"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	if err := parseDuration("heartbeat.interval", raw.Interval, &h.Interval); err != nil {
		return err
	}
	if err := parseDuration("heartbeat.deadline", raw.Deadline, &h.Deadline); err != nil {
		return err
	}
	if raw.MaxMisses != 0 {
		h.MaxMisses = raw.MaxMisses
	}
	return nil
}

type ReconnectConfig struct {
	HistoryCap int `yaml:"history_cap"`
	// Policies overrides the built-in default policy for the named failure
	// kinds; kinds not listed keep their defaults.
	Policies map[string]PolicyConfig `yaml:"policies"`
}

// PolicyOverrides converts the configured overrides to failure-kind keys.
func (r ReconnectConfig) PolicyOverrides() map[reconnect.FailureKind]reconnect.BackoffPolicy {
	if len(r.Policies) == 0 {
		return nil
	}
	out := make(map[reconnect.FailureKind]reconnect.BackoffPolicy, len(r.Policies))
	for kind, policy := range r.Policies {
		out[reconnect.FailureKind(kind)] = policy.Policy()
	}
	return out
}

// PolicyConfig is the yaml shape of a backoff policy override.
type PolicyConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterEnabled  bool
	AttemptTimeout time.Duration
}

func (p *PolicyConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		MaxAttempts    int     `yaml:"max_attempts"`
		InitialDelay   string  `yaml:"initial_delay"`
		MaxDelay       string  `yaml:"max_delay"`
		Multiplier     float64 `yaml:"multiplier"`
		JitterEnabled  bool    `yaml:"jitter_enabled"`
		AttemptTimeout string  `yaml:"attempt_timeout"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	p.MaxAttempts = raw.MaxAttempts
	p.Multiplier = raw.Multiplier
	p.JitterEnabled = raw.JitterEnabled
	if err := parseDuration("initial_delay", raw.InitialDelay, &p.InitialDelay); err != nil {
		return err
	}
	if err := parseDuration("max_delay", raw.MaxDelay, &p.MaxDelay); err != nil {
		return err
	}
	return parseDuration("attempt_timeout", raw.AttemptTimeout, &p.AttemptTimeout)
}

// Policy converts the override to the reconnect package's policy type.
func (p PolicyConfig) Policy() reconnect.BackoffPolicy {
	return reconnect.BackoffPolicy{
		MaxAttempts:    p.MaxAttempts,
		InitialDelay:   p.InitialDelay,
		MaxDelay:       p.MaxDelay,
		Multiplier:     p.Multiplier,
		JitterEnabled:  p.JitterEnabled,
		AttemptTimeout: p.AttemptTimeout,
	}
}

// parseDuration parses a yaml duration string like "30s" into dst, leaving it
// untouched when the value is absent.
func parseDuration(key, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	*dst = d
	return nil
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

type MetricsConfig struct {
	CloudWatch      bool   `yaml:"cloudwatch"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Feed: FeedConfig{
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			ReadBuffer:       1000,
			ControlRate:      ControlRateConfig{RequestsPerSecond: 5, BurstSize: 10},
		},
		Heartbeat: HeartbeatConfig{
			Interval:  30 * time.Second,
			Deadline:  10 * time.Second,
			MaxMisses: 2,
		},
		Reconnect: ReconnectConfig{HistoryCap: reconnect.DefaultHistoryCap},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override AWS settings from environment variables if available
	if config.Metrics.CloudWatch {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Metrics.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Metrics.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.Region = strings.TrimSpace(v)
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Tickerflow.Name == "" {
		return fmt.Errorf("tickerflow.name is required")
	}
	if cfg.Tickerflow.Version == "" {
		return fmt.Errorf("tickerflow.version is required")
	}
	if cfg.Feed.BaseWSURL == "" {
		return fmt.Errorf("feed.base_ws_url is required")
	}
	if len(cfg.Feed.Endpoints) == 0 {
		return fmt.Errorf("feed.endpoints must not be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Feed.Endpoints))
	for i, ep := range cfg.Feed.Endpoints {
		if ep.ID == "" {
			return fmt.Errorf("feed.endpoints[%d].id is required", i)
		}
		if ep.Channel == "" {
			return fmt.Errorf("feed.endpoints[%d].channel is required", i)
		}
		if _, dup := seen[ep.ID]; dup {
			return fmt.Errorf("feed.endpoints[%d].id '%s' is duplicated", i, ep.ID)
		}
		seen[ep.ID] = struct{}{}
	}
	if cfg.Feed.ReadBuffer <= 0 {
		return fmt.Errorf("feed.read_buffer must be greater than 0")
	}
	if cfg.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be greater than 0")
	}
	if cfg.Heartbeat.Deadline <= 0 || cfg.Heartbeat.Deadline >= cfg.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.deadline must be greater than 0 and less than heartbeat.interval")
	}
	if cfg.Heartbeat.MaxMisses <= 0 {
		return fmt.Errorf("heartbeat.max_misses must be greater than 0")
	}
	if cfg.Reconnect.HistoryCap <= 0 {
		return fmt.Errorf("reconnect.history_cap must be greater than 0")
	}
	for kind, policy := range cfg.Reconnect.Policies {
		if policy.MaxAttempts < 1 {
			return fmt.Errorf("reconnect.policies.%s.max_attempts must be >= 1", kind)
		}
		if policy.Multiplier < 1.0 {
			return fmt.Errorf("reconnect.policies.%s.multiplier must be >= 1.0", kind)
		}
	}
	return nil
}
