package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "formgate/pkg/errors"
	"formgate/pkg/logging"
	"formgate/pkg/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSender_PublishesEnvelope(t *testing.T) {
	w := &fakeWriter{}
	s := &KafkaSender{writer: w, topic: "formgate.submissions"}

	ctx := logging.WithRequestID(context.Background(), "req-1")
	require.NoError(t, s.Send(ctx, testMessage()))
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, "formgate.submissions", m.Topic)
	assert.Equal(t, []byte("main"), m.Key)
	assert.Equal(t, "content-type", m.Headers[0].Key)

	var env models.SubmissionEnvelope
	require.NoError(t, json.Unmarshal(m.Value, &env))
	assert.Equal(t, testMessage().ID, env.ID)
	assert.Equal(t, "formgate-service", env.Source)
	assert.Equal(t, "owner@example.com", env.Mail.To)
	assert.Equal(t, "a@b.com", env.Mail.ReplyTo)
	assert.Equal(t, map[string]string{"name": "Ana"}, env.Fields)
	assert.Equal(t, "req-1", env.Metadata.RequestID)
	assert.Equal(t, "203.0.113.9", env.Metadata.ClientIP)
	assert.True(t, env.Timestamp.Equal(testMessage().SubmittedAt))

	require.NoError(t, s.Close())
	assert.True(t, w.closed)
}

func TestKafkaSender_Errors(t *testing.T) {
	t.Run("write failure is transient", func(t *testing.T) {
		s := &KafkaSender{writer: &fakeWriter{err: errors.New("leader not available")}, topic: "t"}
		assert.ErrorIs(t, s.Send(context.Background(), testMessage()), apperrors.ErrDeliveryFailed)
	})

	t.Run("invalid envelope is rejected", func(t *testing.T) {
		s := &KafkaSender{writer: &fakeWriter{}, topic: "t"}
		msg := testMessage()
		msg.To = ""
		assert.ErrorIs(t, s.Send(context.Background(), msg), apperrors.ErrDeliveryRejected)
	})
}
