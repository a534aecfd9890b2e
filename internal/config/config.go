package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig          `mapstructure:"server"`
	Logging        LoggingConfig         `mapstructure:"logging"`
	Gate           GateConfig            `mapstructure:"gate"`
	RateLimit      RateLimitConfig       `mapstructure:"rate_limit"`
	Challenge      ChallengeConfig       `mapstructure:"challenge"`
	Delivery       DeliveryConfig        `mapstructure:"delivery"`
	Database       DatabaseConfig        `mapstructure:"database"`
	CircuitBreaker CircuitBreakerConfig  `mapstructure:"circuit_breaker"`
	FloodGuard     FloodGuardConfig      `mapstructure:"flood_guard"`
	Tracing        TracingConfig         `mapstructure:"tracing"`
	Sites          map[string]SiteConfig `mapstructure:"sites"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GateConfig tunes the request gates that run before field validation.
type GateConfig struct {
	MinElapsed         time.Duration `mapstructure:"min_elapsed"`
	UserAgentBlacklist []string      `mapstructure:"user_agent_blacklist"`
	HoneypotField      string        `mapstructure:"honeypot_field"`
	StartTimeField     string        `mapstructure:"start_time_field"`
	CSRFField          string        `mapstructure:"csrf_field"`
	CSRFCookie         string        `mapstructure:"csrf_cookie"`
	ChallengeField     string        `mapstructure:"challenge_field"`
	Locale             string        `mapstructure:"locale"`
}

type RateLimitConfig struct {
	Window          time.Duration `mapstructure:"window"`
	MaxHits         int           `mapstructure:"max_hits"`
	Store           string        `mapstructure:"store"` // memory, file, redis, sqlite
	Dir             string        `mapstructure:"dir"`
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type ChallengeConfig struct {
	Secret    string        `mapstructure:"secret"`
	VerifyURL string        `mapstructure:"verify_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type DeliveryConfig struct {
	Type          string        `mapstructure:"type"` // smtp, ses, kafka, log
	SenderAddress string        `mapstructure:"sender_address"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retry         RetryConfig   `mapstructure:"retry"`
	SMTP          SMTPConfig    `mapstructure:"smtp"`
	SES           SESConfig     `mapstructure:"ses"`
	Kafka         KafkaConfig   `mapstructure:"kafka"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type SESConfig struct {
	Region           string `mapstructure:"region"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	ConfigurationSet string `mapstructure:"configuration_set"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type DatabaseConfig struct {
	Redis  RedisConfig  `mapstructure:"redis"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

// FloodGuardConfig is the coarse per-IP token bucket in front of the router.
type FloodGuardConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RPS             float64       `mapstructure:"rps"`
	Burst           int           `mapstructure:"burst"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

// SiteConfig describes one form origin. Keys of Config.Sites are the site
// identifiers used in the submission URL; viper lowercases them.
type SiteConfig struct {
	SiteName         string   `mapstructure:"site_name"`
	Recipient        string   `mapstructure:"recipient"`
	SubjectPrefix    *string  `mapstructure:"subject_prefix"`
	Fields           []string `mapstructure:"fields"`
	Required         []string `mapstructure:"required"`
	EmailField       string   `mapstructure:"email_field"`
	PhoneField       string   `mapstructure:"phone_field"`
	NameField        string   `mapstructure:"name_field"`
	SubjectField     string   `mapstructure:"subject_field"`
	RedirectURL      string   `mapstructure:"redirect_url"`
	RedirectFragment string   `mapstructure:"redirect_fragment"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
