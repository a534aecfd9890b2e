package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"formgate/internal/config"
	"formgate/internal/constants"
	"formgate/internal/submission"
	apperrors "formgate/pkg/errors"
	"formgate/pkg/logging"
	"formgate/pkg/metrics"
	"formgate/pkg/models"
	"formgate/pkg/tracing"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes accepted submissions to an outbox topic for an
// asynchronous mailer to pick up.
type KafkaSender struct {
	writer kafkaWriter
	topic  string
}

func NewKafkaSender(cfg config.KafkaConfig) *KafkaSender {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return &KafkaSender{writer: w, topic: cfg.Topic}
}

func (s *KafkaSender) Send(ctx context.Context, msg submission.Message) (err error) {
	start := time.Now()
	defer func() { observeDelivery(constants.DeliveryTypeKafka, start, err) }()

	env := models.NewSubmissionEnvelopeBuilder().
		WithID(msg.ID).
		WithSource(constants.ServiceName).
		WithSiteID(msg.SiteID).
		WithTimestamp(msg.SubmittedAt).
		WithMail(models.Mail{
			To:       msg.To,
			Subject:  msg.Subject,
			Body:     msg.Body,
			FromName: msg.FromName,
			From:     msg.From,
			ReplyTo:  msg.ReplyTo,
			Headers:  msg.Headers(),
		}).
		WithFields(msg.Fields).
		WithMetadata(models.Metadata{
			TraceID:   tracing.TraceID(ctx),
			RequestID: logging.GetRequestID(ctx),
			ClientIP:  msg.ClientIP,
			UserAgent: msg.UserAgent,
		}).
		Build()

	if err := models.ValidateSubmissionEnvelope(env); err != nil {
		return apperrors.ErrDeliveryRejected.WithCause(err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return apperrors.ErrDeliveryRejected.WithCause(fmt.Errorf("failed to marshal envelope: %w", err))
	}

	headers := tracing.InjectTraceContext(ctx, []kafka.Header{
		{Key: "content-type", Value: []byte("application/json")},
	})

	writeStart := time.Now()
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Topic:   s.topic,
		Key:     []byte(env.SiteID),
		Value:   body,
		Headers: headers,
		Time:    env.Timestamp,
	})
	if err != nil {
		return apperrors.ErrDeliveryFailed.WithCause(fmt.Errorf("failed to write kafka message: %w", err))
	}
	metrics.ObserveKafkaWrite(s.topic, time.Since(writeStart))
	return nil
}

func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
