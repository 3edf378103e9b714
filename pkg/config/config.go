// Package config loads and validates the streamguard.yaml configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Server        ServerConfig
	LLM           LLMConfig
	Filter        FilterConfig
	Templates     TemplatesConfig
	Moderation    ModerationConfig
	Session       SessionConfig
	Notifications NotificationsConfig
	Retention     RetentionConfig
	Simulator     SimulatorConfig
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string
	Port int
}

// LLMConfig holds upstream model settings. The API key is read from the
// environment variable named by APIKeyEnv, never from YAML.
type LLMConfig struct {
	Endpoint    string
	Model       string
	APIKeyEnv   string
	ModelStyle  string
	Timeout     time.Duration
	MaxRetries  int
	Concurrency int64
	Temperature float64
	MaxTokens   int

	CircuitFailureRatio float64
	CircuitMinSamples   int
	CircuitCooldown     time.Duration
	CircuitProbeMax     int
}

// APIKey resolves the bearer token from the environment.
func (c LLMConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// FilterConfig holds lightweight-filter settings.
type FilterConfig struct {
	Enabled         bool
	PatternsFile    string // optional; built-in rules apply when empty
	RateLimitWindow time.Duration
	RateLimitMax    int
	RedisURL        string // optional; in-memory limiter when empty
}

// TemplatesConfig holds prompt-template settings.
type TemplatesConfig struct {
	File      string
	Allowlist []string
	Default   string
}

// ModerationConfig holds pipeline settings.
type ModerationConfig struct {
	ProcessTimeout time.Duration
	DedupTTL       time.Duration
}

// SessionConfig holds WebSocket session settings.
type SessionConfig struct {
	PingInterval   time.Duration
	QueueSize      int
	AllowedOrigins []string
}

// NotificationsConfig holds moderator webhook settings.
type NotificationsConfig struct {
	Enabled    bool
	WebhookURL string
	Timeout    time.Duration
}

// RetentionConfig controls violation-history cleanup.
type RetentionConfig struct {
	Enabled  bool
	Interval time.Duration
	MaxAge   time.Duration
}

// SimulatorConfig controls the synthetic traffic generator.
type SimulatorConfig struct {
	Interval time.Duration
	Users    int
}

// defaults returns the built-in configuration; user YAML overrides it.
func defaults() *yamlConfig {
	enabled := true
	return &yamlConfig{
		Server: yamlServer{Host: "0.0.0.0", Port: 8080},
		LLM: yamlLLM{
			Model:       "mistral-7b-instruct",
			APIKeyEnv:   "LLM_API_KEY",
			ModelStyle:  "standard",
			Timeout:     "30s",
			MaxRetries:  intPtr(3),
			Concurrency: 8,
			Temperature: floatPtr(0.1),
			MaxTokens:   512,

			CircuitFailureRatio: floatPtr(0.5),
			CircuitMinSamples:   20,
			CircuitCooldown:     "15s",
			CircuitProbeMax:     3,
		},
		Filter: yamlFilter{
			Enabled:         &enabled,
			RateLimitWindow: "60s",
			RateLimitMax:    10,
		},
		Templates: yamlTemplates{
			File:    "templates.yaml",
			Default: "chat_moderation",
		},
		Moderation: yamlModeration{
			ProcessTimeout: "15s",
			DedupTTL:       "5m",
		},
		Session: yamlSession{
			PingInterval: "30s",
			QueueSize:    64,
		},
		Notifications: yamlNotifications{
			Timeout: "5s",
		},
		Retention: yamlRetention{
			Enabled:  &enabled,
			Interval: "1h",
			MaxAge:   "2160h", // 90 days
		},
		Simulator: yamlSimulator{
			Interval: "500ms",
			Users:    12,
		},
	}
}

// Initialize loads, merges, and validates configuration from
// configDir/streamguard.yaml.
//
// Steps performed:
//  1. Read the YAML file
//  2. Expand environment variables ({{.VAR}} syntax)
//  3. Merge user values over built-in defaults
//  4. Parse durations and resolve the final Config
//  5. Validate
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	raw, err := loadYAML(filepath.Join(configDir, "streamguard.yaml"))
	if err != nil {
		return nil, NewLoadError("streamguard.yaml", err)
	}

	merged := defaults()
	if err := mergo.Merge(merged, raw, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}

	cfg, err := resolve(merged, configDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info("Configuration initialized successfully",
		"llm_endpoint", cfg.LLM.Endpoint,
		"llm_model", cfg.LLM.Model,
		"filter_enabled", cfg.Filter.Enabled,
		"notifications_enabled", cfg.Notifications.Enabled)
	return cfg, nil
}

func loadYAML(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &raw, nil
}

func resolve(raw *yamlConfig, configDir string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: raw.Server.Host,
			Port: raw.Server.Port,
		},
		LLM: LLMConfig{
			Endpoint:    raw.LLM.Endpoint,
			Model:       raw.LLM.Model,
			APIKeyEnv:   raw.LLM.APIKeyEnv,
			ModelStyle:  raw.LLM.ModelStyle,
			Concurrency: raw.LLM.Concurrency,
			MaxTokens:   raw.LLM.MaxTokens,

			CircuitMinSamples: raw.LLM.CircuitMinSamples,
			CircuitProbeMax:   raw.LLM.CircuitProbeMax,
		},
		Filter: FilterConfig{
			RateLimitMax: raw.Filter.RateLimitMax,
			RedisURL:     raw.Filter.RedisURL,
		},
		Templates: TemplatesConfig{
			File:      resolvePath(configDir, raw.Templates.File),
			Allowlist: raw.Templates.Allowlist,
			Default:   raw.Templates.Default,
		},
		Session: SessionConfig{
			QueueSize:      raw.Session.QueueSize,
			AllowedOrigins: raw.Session.AllowedOrigins,
		},
		Notifications: NotificationsConfig{
			WebhookURL: raw.Notifications.WebhookURL,
		},
		Simulator: SimulatorConfig{
			Users: raw.Simulator.Users,
		},
	}

	if raw.LLM.MaxRetries != nil {
		cfg.LLM.MaxRetries = *raw.LLM.MaxRetries
	}
	if raw.LLM.Temperature != nil {
		cfg.LLM.Temperature = *raw.LLM.Temperature
	}
	if raw.LLM.CircuitFailureRatio != nil {
		cfg.LLM.CircuitFailureRatio = *raw.LLM.CircuitFailureRatio
	}
	if raw.Filter.Enabled != nil {
		cfg.Filter.Enabled = *raw.Filter.Enabled
	}
	if raw.Filter.PatternsFile != "" {
		cfg.Filter.PatternsFile = resolvePath(configDir, raw.Filter.PatternsFile)
	}
	cfg.Notifications.Enabled = raw.Notifications.Enabled
	if raw.Retention.Enabled != nil {
		cfg.Retention.Enabled = *raw.Retention.Enabled
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"llm.timeout", raw.LLM.Timeout, &cfg.LLM.Timeout},
		{"llm.circuit_cooldown", raw.LLM.CircuitCooldown, &cfg.LLM.CircuitCooldown},
		{"filter.rate_limit_window", raw.Filter.RateLimitWindow, &cfg.Filter.RateLimitWindow},
		{"moderation.process_timeout", raw.Moderation.ProcessTimeout, &cfg.Moderation.ProcessTimeout},
		{"moderation.dedup_ttl", raw.Moderation.DedupTTL, &cfg.Moderation.DedupTTL},
		{"session.ping_interval", raw.Session.PingInterval, &cfg.Session.PingInterval},
		{"notifications.timeout", raw.Notifications.Timeout, &cfg.Notifications.Timeout},
		{"retention.interval", raw.Retention.Interval, &cfg.Retention.Interval},
		{"retention.max_age", raw.Retention.MaxAge, &cfg.Retention.MaxAge},
		{"simulator.interval", raw.Simulator.Interval, &cfg.Simulator.Interval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, NewValidationError("config", d.name, "", fmt.Errorf("%w: %q is not a duration", ErrInvalidValue, d.raw))
		}
		*d.dst = parsed
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewValidationError("server", "port", "", fmt.Errorf("%w: %d", ErrInvalidValue, c.Server.Port))
	}
	if c.LLM.Endpoint == "" {
		return NewValidationError("llm", "endpoint", "", ErrMissingRequiredField)
	}
	if c.LLM.Model == "" {
		return NewValidationError("llm", "model", "", ErrMissingRequiredField)
	}
	switch c.LLM.ModelStyle {
	case "standard", "mistral":
	default:
		return NewValidationError("llm", "model_style", "", fmt.Errorf("%w: %q", ErrInvalidValue, c.LLM.ModelStyle))
	}
	if c.LLM.Concurrency <= 0 {
		return NewValidationError("llm", "concurrency", "", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.LLM.CircuitFailureRatio <= 0 || c.LLM.CircuitFailureRatio > 1 {
		return NewValidationError("llm", "circuit_failure_ratio", "", fmt.Errorf("%w: %v is not in (0, 1]", ErrInvalidValue, c.LLM.CircuitFailureRatio))
	}
	if c.LLM.CircuitMinSamples <= 0 {
		return NewValidationError("llm", "circuit_min_samples", "", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.LLM.CircuitProbeMax <= 0 {
		return NewValidationError("llm", "circuit_probe_max", "", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Session.QueueSize <= 0 {
		return NewValidationError("session", "queue_size", "", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Filter.Enabled && c.Filter.RateLimitMax <= 0 {
		return NewValidationError("filter", "rate_limit_max", "", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.Templates.File == "" {
		return NewValidationError("templates", "file", "", ErrMissingRequiredField)
	}
	if c.Templates.Default == "" {
		return NewValidationError("templates", "default", "", ErrMissingRequiredField)
	}
	if c.Notifications.Enabled && c.Notifications.WebhookURL == "" {
		return NewValidationError("notifications", "webhook_url", "", ErrMissingRequiredField)
	}
	return nil
}

func resolvePath(configDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
