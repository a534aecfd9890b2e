package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"formgate/internal/config"
	"formgate/pkg/circuitbreaker"
)

// CircuitBreakerStore fails fast while the wrapped store keeps failing, so
// a dead backend costs each submission a map lookup instead of a timeout.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) Store {
	if !cfg.Enabled {
		return store
	}

	cbConfig := circuitbreaker.DefaultConfig("ratelimit-" + store.Name())
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

	// Losing a race for one key says nothing about the backend's health.
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrContention)
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) Name() string {
	return s.store.Name()
}

func (s *CircuitBreakerStore) LoadAndUpdate(ctx context.Context, key string, fn UpdateFunc) error {
	_, err := circuitbreaker.Execute(ctx, s.cb, func() (struct{}, error) {
		return struct{}{}, s.store.LoadAndUpdate(ctx, key, fn)
	})
	if err != nil && s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for %s: %w", s.cb.Name(), err)
	}
	return err
}

// RecordHit runs the sliding-window step of the wrapped store through the
// breaker, server-side when the wrapped store supports it.
func (s *CircuitBreakerStore) RecordHit(ctx context.Context, key string, now, window int64, maxHits int) (Window, error) {
	w, err := circuitbreaker.Execute(ctx, s.cb, func() (Window, error) {
		return recordHit(ctx, s.store, key, now, window, maxHits)
	})
	if err != nil && s.cb.IsOpen() {
		return w, fmt.Errorf("circuit breaker is open for %s: %w", s.cb.Name(), err)
	}
	return w, err
}

func (s *CircuitBreakerStore) Reclaim(ctx context.Context, cutoff time.Time) (int, error) {
	r, ok := s.store.(Reclaimer)
	if !ok {
		return 0, nil
	}
	return r.Reclaim(ctx, cutoff)
}

func (s *CircuitBreakerStore) State() string {
	return s.cb.State().String()
}
