package delivery

import (
	"context"
	"time"

	"formgate/internal/config"
	"formgate/internal/logger"
	"formgate/internal/submission"
	"formgate/pkg/metrics"
	"formgate/pkg/retry"
)

// RetrySender retries transient delivery failures within a short budget.
// Each attempt gets its own timeout.
type RetrySender struct {
	sender         submission.Sender
	policy         retry.Policy
	attemptTimeout time.Duration
	logger         logger.Logger
}

func NewRetrySender(sender submission.Sender, cfg config.RetryConfig, attemptTimeout time.Duration, log logger.Logger) *RetrySender {
	if log == nil {
		log = logger.NopLogger()
	}
	return &RetrySender{
		sender: sender,
		policy: retry.Policy{
			MaxAttempts:     cfg.MaxAttempts,
			InitialInterval: cfg.InitialInterval,
			MaxInterval:     cfg.MaxInterval,
			Multiplier:      cfg.Multiplier,
			MaxElapsedTime:  cfg.MaxElapsedTime,
		},
		attemptTimeout: attemptTimeout,
		logger:         log,
	}
}

func (s *RetrySender) Send(ctx context.Context, msg submission.Message) error {
	return retry.RetryWithCallback(ctx, s.policy, func() error {
		attemptCtx := ctx
		if s.attemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, s.attemptTimeout)
			defer cancel()
		}
		return s.sender.Send(attemptCtx, msg)
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncRetryAttempt("delivery")
		s.logger.WarnwCtx(ctx, "Delivery attempt failed, retrying",
			"message_id", msg.ID,
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
}
