package config

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"formgate/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidateStatic checks everything that can be checked without network access.
func ValidateStatic(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(cfg.Server)...)
	errs = append(errs, validateGate(cfg.Gate)...)
	errs = append(errs, validateRateLimit(cfg.RateLimit, cfg.Database)...)
	errs = append(errs, validateChallenge(cfg.Challenge)...)
	errs = append(errs, validateDelivery(cfg.Delivery)...)
	errs = append(errs, validateFloodGuard(cfg.FloodGuard)...)
	errs = append(errs, validateSites(cfg.Sites)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateServer(cfg ServerConfig) []error {
	var errs []error

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		})
	}
	if cfg.ReadTimeout <= 0 {
		errs = append(errs, &ValidationError{Field: "server.read_timeout", Message: "read timeout must be positive"})
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, &ValidationError{Field: "server.write_timeout", Message: "write timeout must be positive"})
	}
	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, &ValidationError{Field: "server.max_body_bytes", Message: "max body size must be positive"})
	}

	return errs
}

func validateGate(cfg GateConfig) []error {
	var errs []error

	if cfg.MinElapsed < 0 {
		errs = append(errs, &ValidationError{Field: "gate.min_elapsed", Message: "minimum elapsed time must be non-negative"})
	}

	names := map[string]string{
		"gate.honeypot_field":   cfg.HoneypotField,
		"gate.start_time_field": cfg.StartTimeField,
		"gate.csrf_field":       cfg.CSRFField,
		"gate.csrf_cookie":      cfg.CSRFCookie,
		"gate.challenge_field":  cfg.ChallengeField,
	}
	for field, value := range names {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, &ValidationError{Field: field, Message: "field name is required"})
		}
	}

	switch cfg.Locale {
	case "", "en", "pt-BR":
	default:
		errs = append(errs, &ValidationError{
			Field:   "gate.locale",
			Message: fmt.Sprintf("unsupported locale: %s (supported: en, pt-BR)", cfg.Locale),
		})
	}

	return errs
}

func validateRateLimit(cfg RateLimitConfig, db DatabaseConfig) []error {
	var errs []error

	if cfg.Window <= 0 {
		errs = append(errs, &ValidationError{Field: "rate_limit.window", Message: "window must be positive"})
	}
	if cfg.MaxHits < 1 {
		errs = append(errs, &ValidationError{
			Field:   "rate_limit.max_hits",
			Message: fmt.Sprintf("max hits must be at least 1, got %d", cfg.MaxHits),
		})
	}

	switch cfg.Store {
	case constants.StoreTypeMemory:
	case constants.StoreTypeFile:
		if cfg.Dir == "" {
			errs = append(errs, &ValidationError{Field: "rate_limit.dir", Message: "directory is required for the file store"})
		}
	case constants.StoreTypeRedis:
		errs = append(errs, validateRedis(db.Redis)...)
	case constants.StoreTypeSQLite:
		if db.SQLite.Path == "" {
			errs = append(errs, &ValidationError{Field: "database.sqlite.path", Message: "path is required for the sqlite store"})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "rate_limit.store",
			Message: fmt.Sprintf("unknown store type: %s (supported: memory, file, redis, sqlite)", cfg.Store),
		})
	}

	return errs
}

func validateRedis(cfg RedisConfig) []error {
	var errs []error

	if cfg.Host == "" {
		errs = append(errs, &ValidationError{Field: "database.redis.host", Message: "Redis host is required"})
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		})
	}

	return errs
}

func validateChallenge(cfg ChallengeConfig) []error {
	if cfg.Secret == "" {
		return nil
	}

	var errs []error
	if u, err := url.Parse(cfg.VerifyURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, &ValidationError{Field: "challenge.verify_url", Message: "verify URL must be absolute"})
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, &ValidationError{Field: "challenge.timeout", Message: "timeout must be positive"})
	}
	return errs
}

func validateDelivery(cfg DeliveryConfig) []error {
	var errs []error

	if cfg.Retry.MaxAttempts < 0 {
		errs = append(errs, &ValidationError{Field: "delivery.retry.max_attempts", Message: "max_attempts must be non-negative"})
	}
	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		errs = append(errs, &ValidationError{
			Field:   "delivery.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		})
	}

	needsSender := false
	switch cfg.Type {
	case "":
		errs = append(errs, &ValidationError{
			Field:   "delivery.type",
			Message: "delivery type is required (smtp, ses, kafka, log)",
		})
	case constants.DeliveryTypeLog:
	case constants.DeliveryTypeSMTP:
		needsSender = true
		if cfg.SMTP.Host == "" {
			errs = append(errs, &ValidationError{Field: "delivery.smtp.host", Message: "SMTP host is required"})
		}
		if cfg.SMTP.Port < 1 || cfg.SMTP.Port > 65535 {
			errs = append(errs, &ValidationError{
				Field:   "delivery.smtp.port",
				Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.SMTP.Port),
			})
		}
	case constants.DeliveryTypeSES:
		needsSender = true
		if cfg.SES.Region == "" {
			errs = append(errs, &ValidationError{Field: "delivery.ses.region", Message: "SES region is required"})
		}
	case constants.DeliveryTypeKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			errs = append(errs, &ValidationError{Field: "delivery.kafka.brokers", Message: "at least one Kafka broker is required"})
		}
		for i, broker := range cfg.Kafka.Brokers {
			if broker == "" {
				errs = append(errs, &ValidationError{
					Field:   fmt.Sprintf("delivery.kafka.brokers[%d]", i),
					Message: "broker address cannot be empty",
				})
			}
		}
		if cfg.Kafka.Topic == "" {
			errs = append(errs, &ValidationError{Field: "delivery.kafka.topic", Message: "Kafka topic is required"})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   "delivery.type",
			Message: fmt.Sprintf("unknown delivery type: %s (supported: smtp, ses, kafka, log)", cfg.Type),
		})
	}

	if needsSender {
		if _, err := mail.ParseAddress(cfg.SenderAddress); err != nil {
			errs = append(errs, &ValidationError{
				Field:   "delivery.sender_address",
				Message: "a valid envelope sender address is required",
			})
		}
	}

	return errs
}

func validateFloodGuard(cfg FloodGuardConfig) []error {
	if !cfg.Enabled {
		return nil
	}

	var errs []error
	if cfg.RPS <= 0 {
		errs = append(errs, &ValidationError{Field: "flood_guard.rps", Message: "rps must be positive"})
	}
	if cfg.Burst < 1 {
		errs = append(errs, &ValidationError{Field: "flood_guard.burst", Message: "burst must be at least 1"})
	}
	if cfg.CleanupInterval <= 0 {
		errs = append(errs, &ValidationError{Field: "flood_guard.cleanup_interval", Message: "cleanup interval must be positive"})
	}
	return errs
}

// validateSites rejects site definitions whose references point outside
// their own field list. An empty recipient is allowed here; the pipeline
// reports it per submission as a configuration defect.
func validateSites(sites map[string]SiteConfig) []error {
	var errs []error

	if len(sites) == 0 {
		return append(errs, &ValidationError{Field: "sites", Message: "at least one site must be configured"})
	}

	for id, site := range sites {
		prefix := "sites." + id

		if len(site.Fields) == 0 {
			errs = append(errs, &ValidationError{Field: prefix + ".fields", Message: "at least one field is required"})
			continue
		}

		known := make(map[string]bool, len(site.Fields))
		for _, f := range site.Fields {
			if strings.TrimSpace(f) == "" {
				errs = append(errs, &ValidationError{Field: prefix + ".fields", Message: "field names cannot be empty"})
			}
			known[f] = true
		}

		for _, f := range site.Required {
			if !known[f] {
				errs = append(errs, &ValidationError{
					Field:   prefix + ".required",
					Message: fmt.Sprintf("required field %q is not listed in fields", f),
				})
			}
		}

		refs := map[string]string{
			"email_field": site.EmailField,
			"phone_field": site.PhoneField,
			"name_field":  site.NameField,
		}
		for key, ref := range refs {
			if ref != "" && !known[ref] {
				errs = append(errs, &ValidationError{
					Field:   prefix + "." + key,
					Message: fmt.Sprintf("field %q is not listed in fields", ref),
				})
			}
		}

		if site.Recipient != "" {
			if _, err := mail.ParseAddress(site.Recipient); err != nil {
				errs = append(errs, &ValidationError{Field: prefix + ".recipient", Message: "recipient must be an email address"})
			}
		}
	}

	return errs
}
