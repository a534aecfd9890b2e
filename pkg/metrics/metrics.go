package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formgate_submissions_total",
			Help: "Total number of form submissions processed, by outcome and reason (count)",
		},
		[]string{"result", "reason"},
	)

	SubmissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formgate_submission_duration_ms",
			Help:    "End-to-end pipeline duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"result"},
	)

	GateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formgate_gate_rejections_total",
			Help: "Total number of submissions rejected by each gate (count)",
		},
		[]string{"gate"},
	)

	RateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formgate_rate_limit_decisions_total",
			Help: "Sliding-window limiter decisions (count)",
		},
		[]string{"status"},
	)

	RateLimitStoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formgate_rate_limit_store_duration_ms",
			Help:    "Duration of atomic load-and-update calls against the rate limit store in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		},
		[]string{"store", "status"},
	)

	RateLimitReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formgate_rate_limit_reclaimed_total",
			Help: "Stale rate limit records removed by the janitor (count)",
		},
		[]string{"store"},
	)

	ChallengeVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formgate_challenge_verifications_total",
			Help: "Challenge verifier calls by outcome (count)",
		},
		[]string{"status"},
	)

	ChallengeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "formgate_challenge_duration_ms",
			Help:    "Challenge verifier round-trip duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formgate_deliveries_total",
			Help: "Message deliveries by channel and outcome (count)",
		},
		[]string{"channel", "status"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "formgate_delivery_duration_ms",
			Help:    "Message delivery duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"channel"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formgate_retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"operation"},
	)

	FloodGuardRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formgate_flood_guard_requests_total",
			Help: "Requests checked by the per-IP token bucket in front of the pipeline (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"topic"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Kafka write duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"topic"},
	)
)

var (
	registerPipelineOnce       sync.Once
	registerDeliveryOnce       sync.Once
	registerCircuitBreakerOnce sync.Once
)

func RegisterPipelineMetrics() {
	registerPipelineOnce.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			SubmissionDuration,
			GateRejectionsTotal,
			RateLimitDecisionsTotal,
			RateLimitStoreDuration,
			RateLimitReclaimedTotal,
			ChallengeVerificationsTotal,
			ChallengeDuration,
			FloodGuardRequestsTotal,
		)
	})
}

func RegisterDeliveryMetrics() {
	registerDeliveryOnce.Do(func() {
		prometheus.MustRegister(
			DeliveriesTotal,
			DeliveryDuration,
			RetryAttemptsTotal,
			KafkaMessagesWrittenTotal,
			KafkaWriteDuration,
		)
	})
}

func RegisterCircuitBreakerMetrics() {
	registerCircuitBreakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState, CircuitBreakerRequests, CircuitBreakerFailures)
	})
}

func ObserveSubmission(duration time.Duration, result, reason string) {
	SubmissionsTotal.WithLabelValues(result, reason).Inc()
	SubmissionDuration.WithLabelValues(result).Observe(ms(duration))
}

func IncGateRejection(gate string) {
	GateRejectionsTotal.WithLabelValues(gate).Inc()
}

func IncRateLimitDecision(status string) {
	RateLimitDecisionsTotal.WithLabelValues(status).Inc()
}

func ObserveRateLimitStore(store, status string, duration time.Duration) {
	RateLimitStoreDuration.WithLabelValues(store, status).Observe(ms(duration))
}

func AddRateLimitReclaimed(store string, n int) {
	RateLimitReclaimedTotal.WithLabelValues(store).Add(float64(n))
}

func ObserveChallenge(status string, duration time.Duration) {
	ChallengeVerificationsTotal.WithLabelValues(status).Inc()
	ChallengeDuration.Observe(ms(duration))
}

func ObserveDelivery(channel, status string, duration time.Duration) {
	DeliveriesTotal.WithLabelValues(channel, status).Inc()
	DeliveryDuration.WithLabelValues(channel).Observe(ms(duration))
}

func IncRetryAttempt(operation string) {
	RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

func ObserveKafkaWrite(topic string, duration time.Duration) {
	KafkaMessagesWrittenTotal.WithLabelValues(topic).Inc()
	KafkaWriteDuration.WithLabelValues(topic).Observe(ms(duration))
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
