package config

// yamlConfig mirrors the streamguard.yaml file structure. Durations are
// strings ("30s", "5m") parsed during resolve; booleans that default to true
// are pointers so an explicit false survives the merge.
type yamlConfig struct {
	Server        yamlServer        `yaml:"server"`
	LLM           yamlLLM           `yaml:"llm"`
	Filter        yamlFilter        `yaml:"filter"`
	Templates     yamlTemplates     `yaml:"templates"`
	Moderation    yamlModeration    `yaml:"moderation"`
	Session       yamlSession       `yaml:"session"`
	Notifications yamlNotifications `yaml:"notifications"`
	Retention     yamlRetention     `yaml:"retention"`
	Simulator     yamlSimulator     `yaml:"simulator"`
}

type yamlServer struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type yamlLLM struct {
	Endpoint    string   `yaml:"endpoint"`
	Model       string   `yaml:"model"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	ModelStyle  string   `yaml:"model_style"`
	Timeout     string   `yaml:"timeout"`
	MaxRetries  *int     `yaml:"max_retries"`
	Concurrency int64    `yaml:"concurrency"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	CircuitFailureRatio *float64 `yaml:"circuit_failure_ratio"`
	CircuitMinSamples   int      `yaml:"circuit_min_samples"`
	CircuitCooldown     string   `yaml:"circuit_cooldown"`
	CircuitProbeMax     int      `yaml:"circuit_probe_max"`
}

type yamlFilter struct {
	Enabled         *bool  `yaml:"enabled"`
	PatternsFile    string `yaml:"patterns_file"`
	RateLimitWindow string `yaml:"rate_limit_window"`
	RateLimitMax    int    `yaml:"rate_limit_max"`
	RedisURL        string `yaml:"redis_url"`
}

type yamlTemplates struct {
	File      string   `yaml:"file"`
	Allowlist []string `yaml:"allowlist"`
	Default   string   `yaml:"default"`
}

type yamlModeration struct {
	ProcessTimeout string `yaml:"process_timeout"`
	DedupTTL       string `yaml:"dedup_ttl"`
}

type yamlSession struct {
	PingInterval   string   `yaml:"ping_interval"`
	QueueSize      int      `yaml:"queue_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type yamlNotifications struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Timeout    string `yaml:"timeout"`
}

type yamlRetention struct {
	Enabled  *bool  `yaml:"enabled"`
	Interval string `yaml:"interval"`
	MaxAge   string `yaml:"max_age"`
}

type yamlSimulator struct {
	Interval string `yaml:"interval"`
	Users    int    `yaml:"users"`
}
