package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formgate/internal/config"
	"formgate/internal/submission"
	apperrors "formgate/pkg/errors"
)

func testMessage() submission.Message {
	return submission.Message{
		ID:          "3f1c2a9e-0000-4000-8000-000000000001",
		SiteID:      "main",
		To:          "owner@example.com",
		Subject:     "[Example] Booking",
		Body:        "New contact received through the site Example:\nName: Ana",
		FromName:    "Example Studio",
		From:        "a@b.com",
		ReplyTo:     "a@b.com",
		ClientIP:    "203.0.113.9",
		UserAgent:   "Mozilla/5.0",
		Fields:      map[string]string{"name": "Ana"},
		SubmittedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
}

type scriptedSender struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (s *scriptedSender) Send(context.Context, submission.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func fastRetry() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func TestRetrySender(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantErr   error
		wantCalls int
	}{
		{
			name:      "succeeds after transient failures",
			errs:      []error{apperrors.ErrDeliveryFailed, apperrors.ErrDeliveryFailed},
			wantCalls: 3,
		},
		{
			name:      "gives up after max attempts",
			errs:      []error{apperrors.ErrDeliveryFailed, apperrors.ErrDeliveryFailed, apperrors.ErrDeliveryFailed, nil},
			wantErr:   apperrors.ErrDeliveryFailed,
			wantCalls: 3,
		},
		{
			name:      "permanent rejection is not retried",
			errs:      []error{apperrors.ErrDeliveryRejected},
			wantErr:   apperrors.ErrDeliveryRejected,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &scriptedSender{errs: tt.errs}
			s := NewRetrySender(inner, fastRetry(), time.Second, nil)

			err := s.Send(context.Background(), testMessage())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, inner.calls)
		})
	}
}

func TestCircuitBreakerSender(t *testing.T) {
	cbCfg := config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}

	t.Run("opens on channel failures and is not retried", func(t *testing.T) {
		inner := &scriptedSender{errs: []error{
			apperrors.ErrDeliveryFailed, apperrors.ErrDeliveryFailed,
			apperrors.ErrDeliveryFailed, apperrors.ErrDeliveryFailed,
		}}
		cb := NewCircuitBreakerSender(inner, "smtp", cbCfg)
		s := NewRetrySender(cb, fastRetry(), time.Second, nil)

		assert.Error(t, s.Send(context.Background(), testMessage()))
		assert.Equal(t, 2, inner.calls)
		assert.Equal(t, "open", cb.(*CircuitBreakerSender).State())
		assert.ErrorIs(t, s.Send(context.Background(), testMessage()), apperrors.ErrServiceUnavailable)
		assert.Equal(t, 2, inner.calls)
	})

	t.Run("rejections keep it closed", func(t *testing.T) {
		inner := &scriptedSender{errs: []error{
			apperrors.ErrDeliveryRejected, apperrors.ErrDeliveryRejected, apperrors.ErrDeliveryRejected,
		}}
		cb := NewCircuitBreakerSender(inner, "ses", cbCfg)
		for i := 0; i < 3; i++ {
			assert.Error(t, cb.Send(context.Background(), testMessage()))
		}
		assert.Equal(t, "closed", cb.(*CircuitBreakerSender).State())
	})
}

func TestNewSender(t *testing.T) {
	t.Run("log channel", func(t *testing.T) {
		s, closer, err := NewSender(context.Background(), config.DeliveryConfig{Type: "log"}, config.CircuitBreakerConfig{}, nil)
		require.NoError(t, err)
		assert.NoError(t, s.Send(context.Background(), testMessage()))
		assert.NoError(t, closer.Close())
	})

	t.Run("kafka channel exposes closer", func(t *testing.T) {
		_, closer, err := NewSender(context.Background(), config.DeliveryConfig{
			Type:  "kafka",
			Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "formgate.submissions"},
		}, config.CircuitBreakerConfig{}, nil)
		require.NoError(t, err)
		_, ok := closer.(*KafkaSender)
		assert.True(t, ok)
		assert.NoError(t, closer.Close())
	})

	t.Run("unknown channel", func(t *testing.T) {
		_, _, err := NewSender(context.Background(), config.DeliveryConfig{Type: "pigeon"}, config.CircuitBreakerConfig{}, nil)
		assert.Error(t, err)
	})
}

func TestRetrySender_ContextCancelled(t *testing.T) {
	inner := &scriptedSender{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	s := NewRetrySender(inner, config.RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
	}, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.Error(t, s.Send(ctx, testMessage()))
	assert.Equal(t, 1, inner.calls)
}
