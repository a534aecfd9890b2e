package constants

import "time"

const (
	ServiceName = "formgate-service"
)

const (
	DefaultRateLimitWindow  = 300 * time.Second
	DefaultRateLimitMaxHits = 5
	DefaultJanitorInterval  = 10 * time.Minute
	RateLimitKeyPrefix      = "formgate:ratelimit:"
	RedisWatchRetries       = 8
)

const (
	DefaultMinElapsed     = 3 * time.Second
	DefaultHoneypotField  = "website"
	DefaultStartTimeField = "start_time"
	DefaultCSRFField      = "csrf_token"
	DefaultCSRFCookie     = "csrf_token"
	DefaultChallengeField = "cf-turnstile-response"
	DefaultSubjectField   = "subject"
	DefaultSubject        = "new contact"
	DefaultSiteName       = "Form"
	DefaultLocale         = "en"
	UnknownClientIP       = "0.0.0.0"
)

const (
	DefaultChallengeURL     = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	DefaultChallengeTimeout = 5 * time.Second
	ChallengeSecretEnv      = "CF_TURNSTILE_SECRET"
)

const (
	DefaultHTTPTimeout  = 10 * time.Second
	DefaultMaxBodyBytes = 64 << 10
	ShutdownTimeout     = 5 * time.Second
	HealthCheckTimeout  = 5 * time.Second
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	StoreTypeMemory = "memory"
	StoreTypeFile   = "file"
	StoreTypeRedis  = "redis"
	StoreTypeSQLite = "sqlite"
)

const (
	DeliveryTypeSMTP  = "smtp"
	DeliveryTypeSES   = "ses"
	DeliveryTypeKafka = "kafka"
	DeliveryTypeLog   = "log"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

// DefaultUserAgentBlacklist lists lowercase substrings of automation clients.
var DefaultUserAgentBlacklist = []string{
	"curl",
	"wget",
	"httpclient",
	"python-requests",
	"python-urllib",
	"scrapy",
	"bot",
	"spider",
	"crawler",
	"scanner",
	"libwww-perl",
	"java",
}
