package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"formgate/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.max_body_bytes", constants.DefaultMaxBodyBytes)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("gate.min_elapsed", constants.DefaultMinElapsed)
	viper.SetDefault("gate.user_agent_blacklist", constants.DefaultUserAgentBlacklist)
	viper.SetDefault("gate.honeypot_field", constants.DefaultHoneypotField)
	viper.SetDefault("gate.start_time_field", constants.DefaultStartTimeField)
	viper.SetDefault("gate.csrf_field", constants.DefaultCSRFField)
	viper.SetDefault("gate.csrf_cookie", constants.DefaultCSRFCookie)
	viper.SetDefault("gate.challenge_field", constants.DefaultChallengeField)
	viper.SetDefault("gate.locale", constants.DefaultLocale)

	viper.SetDefault("rate_limit.window", constants.DefaultRateLimitWindow)
	viper.SetDefault("rate_limit.max_hits", constants.DefaultRateLimitMaxHits)
	viper.SetDefault("rate_limit.store", constants.StoreTypeMemory)
	viper.SetDefault("rate_limit.dir", "form_rate_limits")
	viper.SetDefault("rate_limit.janitor_interval", constants.DefaultJanitorInterval)

	viper.SetDefault("challenge.verify_url", constants.DefaultChallengeURL)
	viper.SetDefault("challenge.timeout", constants.DefaultChallengeTimeout)

	viper.SetDefault("delivery.timeout", constants.DefaultHTTPTimeout)
	viper.SetDefault("delivery.retry.max_attempts", 3)
	viper.SetDefault("delivery.retry.initial_interval", "200ms")
	viper.SetDefault("delivery.retry.max_interval", "2s")
	viper.SetDefault("delivery.retry.multiplier", 2.0)
	viper.SetDefault("delivery.retry.max_elapsed_time", "5s")
	viper.SetDefault("delivery.smtp.port", 587)

	viper.SetDefault("database.redis.port", 6379)
	viper.SetDefault("database.sqlite.path", "formgate.db")

	viper.SetDefault("flood_guard.rps", 5.0)
	viper.SetDefault("flood_guard.burst", 10)
	viper.SetDefault("flood_guard.cleanup_interval", "5m")
	viper.SetDefault("flood_guard.max_age", "10m")

	viper.SetDefault("tracing.service_name", constants.ServiceName)
}

func bindEnvVariables() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.max_body_bytes", "SERVER_MAX_BODY_BYTES")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("gate.min_elapsed", "GATE_MIN_ELAPSED")
	viper.BindEnv("gate.locale", "GATE_LOCALE")

	viper.BindEnv("rate_limit.window", "RATE_LIMIT_WINDOW")
	viper.BindEnv("rate_limit.max_hits", "RATE_LIMIT_MAX_HITS")
	viper.BindEnv("rate_limit.store", "RATE_LIMIT_STORE")
	viper.BindEnv("rate_limit.dir", "RATE_LIMIT_DIR")

	viper.BindEnv("challenge.secret", constants.ChallengeSecretEnv, "CHALLENGE_SECRET")
	viper.BindEnv("challenge.verify_url", "CHALLENGE_VERIFY_URL")
	viper.BindEnv("challenge.timeout", "CHALLENGE_TIMEOUT")

	viper.BindEnv("delivery.type", "DELIVERY_TYPE")
	viper.BindEnv("delivery.sender_address", "DELIVERY_SENDER_ADDRESS")
	viper.BindEnv("delivery.smtp.host", "DELIVERY_SMTP_HOST")
	viper.BindEnv("delivery.smtp.port", "DELIVERY_SMTP_PORT")
	viper.BindEnv("delivery.smtp.username", "DELIVERY_SMTP_USERNAME")
	viper.BindEnv("delivery.smtp.password", "DELIVERY_SMTP_PASSWORD")
	viper.BindEnv("delivery.ses.region", "DELIVERY_SES_REGION", "AWS_REGION")
	viper.BindEnv("delivery.ses.access_key_id", "DELIVERY_SES_ACCESS_KEY_ID")
	viper.BindEnv("delivery.ses.secret_access_key", "DELIVERY_SES_SECRET_ACCESS_KEY")
	viper.BindEnv("delivery.kafka.brokers", "DELIVERY_KAFKA_BROKERS")
	viper.BindEnv("delivery.kafka.topic", "DELIVERY_KAFKA_TOPIC")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")
	viper.BindEnv("database.sqlite.path", "DATABASE_SQLITE_PATH")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

// applyEnvOverrides handles values viper cannot split from a single env var.
func applyEnvOverrides(cfg *Config) {
	if brokersEnv := viper.GetString("DELIVERY_KAFKA_BROKERS"); brokersEnv != "" {
		if brokers := splitList(brokersEnv); len(brokers) > 0 {
			cfg.Delivery.Kafka.Brokers = brokers
		}
	}

	if uaEnv := viper.GetString("GATE_USER_AGENT_BLACKLIST"); uaEnv != "" {
		if list := splitList(uaEnv); len(list) > 0 {
			cfg.Gate.UserAgentBlacklist = list
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
