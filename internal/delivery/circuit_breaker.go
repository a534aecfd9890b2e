package delivery

import (
	"context"
	"errors"

	"formgate/internal/config"
	"formgate/internal/submission"
	"formgate/pkg/circuitbreaker"
	apperrors "formgate/pkg/errors"
	"formgate/pkg/retry"
)

// CircuitBreakerSender fails fast while the channel keeps failing. Permanent
// rejections of a single message do not count against the channel.
type CircuitBreakerSender struct {
	sender submission.Sender
	cb     *circuitbreaker.Wrapper
}

func NewCircuitBreakerSender(sender submission.Sender, channel string, cfg config.CircuitBreakerConfig) submission.Sender {
	if !cfg.Enabled {
		return sender
	}

	cbConfig := circuitbreaker.DefaultConfig("delivery-" + channel)
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = circuitbreaker.RatioTrip(cfg.MinRequests, cfg.FailureRatio)
	}
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, apperrors.ErrDeliveryRejected)
	}

	return &CircuitBreakerSender{
		sender: sender,
		cb:     circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerSender) Send(ctx context.Context, msg submission.Message) error {
	_, err := circuitbreaker.Execute(ctx, s.cb, func() (struct{}, error) {
		return struct{}{}, s.sender.Send(ctx, msg)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return retry.Fatal(apperrors.ErrServiceUnavailable.WithCause(err))
	}
	return err
}

func (s *CircuitBreakerSender) State() string {
	return s.cb.State().String()
}
