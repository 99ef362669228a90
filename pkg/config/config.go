package config

import "time"

type Config struct {
	App            AppConfig            `mapstructure:"app"`
	HTTP           HTTPConfig           `mapstructure:"http"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Queue          QueueConfig          `mapstructure:"queue"`
	JWT            JWTConfig            `mapstructure:"jwt"`
	Answering      AnsweringConfig      `mapstructure:"answering"`
	Avatar         AvatarConfig         `mapstructure:"avatar"`
	Report         ReportConfig         `mapstructure:"report"`
	Stripe         StripeConfig         `mapstructure:"stripe"`
	Escalation     EscalationConfig     `mapstructure:"escalation"`
	Dialogue       DialogueConfig       `mapstructure:"dialogue"`
	Vault          VaultConfig          `mapstructure:"vault"`
	OpenTelemetry  OpenTelemetryConfig  `mapstructure:"opentelemetry"`
	Prometheus     PrometheusConfig     `mapstructure:"prometheus"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	RateLimiting   RateLimitingConfig   `mapstructure:"rate_limiting"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	CORS           CORSConfig           `mapstructure:"cors"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// QueueConfig selects the message broker. Driver is "nats" or "rabbitmq".
type QueueConfig struct {
	Driver        string        `mapstructure:"driver"`
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type JWTConfig struct {
	Secret               string        `mapstructure:"secret"`
	AccessTokenDuration  time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration time.Duration `mapstructure:"refresh_token_duration"`
	Issuer               string        `mapstructure:"issuer"`
	Audience             string        `mapstructure:"audience"`
}

// AnsweringConfig points at the question-answering backend.
type AnsweringConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AvatarConfig points at the speaking-avatar subsystem.
type AvatarConfig struct {
	URL     string `mapstructure:"url"`
	Token   string `mapstructure:"token"`
	Enabled bool   `mapstructure:"enabled"`
}

type ReportConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StripeConfig struct {
	SecretKey     string         `mapstructure:"secret_key"`
	WebhookSecret string         `mapstructure:"webhook_secret"`
	TierQuotas    map[string]int `mapstructure:"tier_quotas"`
	DefaultQuota  int            `mapstructure:"default_quota"`
}

type EscalationConfig struct {
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	FromEmail      string `mapstructure:"from_email"`
	FromName       string `mapstructure:"from_name"`
	SupportEmail   string `mapstructure:"support_email"`
}

// DialogueConfig tunes conversation pacing and allowances.
type DialogueConfig struct {
	IdleDuration  time.Duration `mapstructure:"idle_duration"`
	WarningWindow time.Duration `mapstructure:"warning_window"`
	AskTimeout    time.Duration `mapstructure:"ask_timeout"`
	DefaultQuota  int           `mapstructure:"default_quota"`
}

type VaultConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

type OpenTelemetryConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Jaeger      JaegerConfig      `mapstructure:"jaeger"`
	ServiceName string            `mapstructure:"service_name"`
	Attributes  map[string]string `mapstructure:"attributes"`
}

type JaegerConfig struct {
	Endpoint     string  `mapstructure:"endpoint"`
	SamplerType  string  `mapstructure:"sampler_type"`
	SamplerParam float64 `mapstructure:"sampler_param"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level    string          `mapstructure:"level"`
	Format   string          `mapstructure:"format"`
	Output   string          `mapstructure:"output"`
	Sampling LoggingSampling `mapstructure:"sampling"`
}

type LoggingSampling struct {
	Enabled    bool `mapstructure:"enabled"`
	Initial    int  `mapstructure:"initial"`
	Thereafter int  `mapstructure:"thereafter"`
}

type RateLimitingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
	ByUser      bool          `mapstructure:"by_user"`
}

type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MaxRequests      int           `mapstructure:"max_requests"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold float64       `mapstructure:"failure_threshold"`
}

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	ExposeHeaders  []string `mapstructure:"expose_headers"`
	MaxAge         int      `mapstructure:"max_age"`
	Credentials    bool     `mapstructure:"credentials"`
}
