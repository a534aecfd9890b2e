package challenge

import (
	"context"
	"errors"
	"fmt"

	"formgate/internal/config"
	"formgate/internal/submission"
	"formgate/pkg/circuitbreaker"
	apperrors "formgate/pkg/errors"
)

// CircuitBreakerVerifier stops calling an unreachable verifier. Rejected
// tokens count as successful calls; only transport failures trip it.
// While open every verification fails.
type CircuitBreakerVerifier struct {
	verifier submission.ChallengeVerifier
	cb       *circuitbreaker.Wrapper
}

func NewCircuitBreakerVerifier(verifier submission.ChallengeVerifier, cfg config.CircuitBreakerConfig) submission.ChallengeVerifier {
	if !cfg.Enabled {
		return verifier
	}

	cbConfig := circuitbreaker.DefaultConfig("challenge-verifier")
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
		return err == nil || errors.Is(err, ErrEmptyToken) || errors.Is(err, apperrors.ErrChallengeFailed)
	}

	return &CircuitBreakerVerifier{
		verifier: verifier,
		cb:       circuitbreaker.NewWrapper(cbConfig),
	}
}

func (v *CircuitBreakerVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	_, err := circuitbreaker.Execute(ctx, v.cb, func() (struct{}, error) {
		return struct{}{}, v.verifier.Verify(ctx, token, remoteIP)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("challenge verifier unavailable: %w", err)
	}
	return err
}

func (v *CircuitBreakerVerifier) State() string {
	return v.cb.State().String()
}
