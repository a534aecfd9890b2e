// Package delivery implements the channels an accepted submission is handed
// to: SMTP, Amazon SES, a Kafka outbox topic and a log-only sink.
package delivery

import (
	"context"
	"fmt"
	"io"
	"time"

	"formgate/internal/config"
	"formgate/internal/constants"
	"formgate/internal/logger"
	"formgate/internal/submission"
	"formgate/pkg/logging"
	"formgate/pkg/metrics"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewSender builds the configured channel wrapped in a circuit breaker and
// a retry policy. The returned closer releases channel resources.
func NewSender(ctx context.Context, cfg config.DeliveryConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) (submission.Sender, io.Closer, error) {
	var (
		sender submission.Sender
		closer io.Closer = nopCloser{}
	)

	switch cfg.Type {
	case constants.DeliveryTypeSMTP:
		sender = NewSMTPSender(cfg)
	case constants.DeliveryTypeSES:
		ses, err := NewSESSender(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		sender = ses
	case constants.DeliveryTypeKafka:
		kafka := NewKafkaSender(cfg.Kafka)
		sender, closer = kafka, kafka
	case constants.DeliveryTypeLog:
		sender = NewLogSender(log)
	default:
		return nil, nil, fmt.Errorf("unknown delivery type %q", cfg.Type)
	}

	sender = NewCircuitBreakerSender(sender, cfg.Type, cbCfg)
	sender = NewRetrySender(sender, cfg.Retry, cfg.Timeout, log)
	return sender, closer, nil
}

func observeDelivery(channel string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.ObserveDelivery(channel, status, time.Since(start))
}

// LogSender writes the assembled message to the service log instead of
// delivering it. Intended for local development.
type LogSender struct {
	logger logger.Logger
}

func NewLogSender(log logger.Logger) *LogSender {
	if log == nil {
		log = logger.NopLogger()
	}
	return &LogSender{logger: log}
}

func (s *LogSender) Send(ctx context.Context, msg submission.Message) error {
	start := time.Now()
	s.logger.InfowCtx(ctx, "Submission logged instead of delivered",
		"message_id", msg.ID,
		"to", logging.RedactEmail(msg.To),
		"subject", msg.Subject,
		"fields", len(msg.Fields),
	)
	observeDelivery(constants.DeliveryTypeLog, start, nil)
	return nil
}
