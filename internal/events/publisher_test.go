package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-acquisition-service/internal/domain"
	"github.com/helixir/paper-acquisition-service/internal/observability"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

func finishedBatch(status domain.BatchStatus) *domain.BatchResult {
	started := time.Now().UTC().Add(-time.Minute)
	return &domain.BatchResult{
		ID:        uuid.New(),
		Status:    status,
		Requested: 3,
		Available: 2,
		Outcomes: []domain.DownloadOutcome{
			{Index: 0, Status: domain.OutcomeSucceeded},
			{Index: 1, Status: domain.OutcomeFailed, Reason: domain.ReasonNotPDFResponse},
		},
		StartedAt:   started,
		CompletedAt: started.Add(30 * time.Second),
	}
}

func TestKafkaPublisher_HandleBatch(t *testing.T) {
	t.Run("publishes completed batch keyed by batch id", func(t *testing.T) {
		w := &mockWriter{}
		p := newKafkaPublisher(w, "events.batches", zerolog.Nop())
		batch := finishedBatch(domain.BatchStatusCompleted)

		var sent []kafka.Message
		w.On("WriteMessages", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).([]kafka.Message) }).
			Return(nil)

		ctx := observability.WithRequestID(context.Background(), "req-42")
		require.NoError(t, p.HandleBatch(ctx, batch))
		w.AssertExpectations(t)

		require.Len(t, sent, 1)
		msg := sent[0]
		assert.Equal(t, batch.ID.String(), string(msg.Key))

		var event domain.Event
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		assert.Equal(t, domain.EventTypeBatchCompleted, event.EventType)
		assert.Equal(t, batch.ID.String(), event.AggregateID)

		var payload domain.BatchEventPayload
		require.NoError(t, json.Unmarshal(event.Payload, &payload))
		assert.Equal(t, 1, payload.Succeeded)
		assert.Equal(t, 1, payload.Failed)
		assert.Equal(t, map[string]int{"not_pdf_response": 1}, payload.Reasons)

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[h.Key] = string(h.Value)
		}
		assert.Equal(t, domain.EventTypeBatchCompleted, headers["event_type"])
		assert.Equal(t, event.EventID, headers["event_id"])
		assert.Equal(t, "req-42", headers["request_id"])
	})

	t.Run("failed batch uses failed event type", func(t *testing.T) {
		w := &mockWriter{}
		p := newKafkaPublisher(w, "events.batches", zerolog.Nop())

		var sent []kafka.Message
		w.On("WriteMessages", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).([]kafka.Message) }).
			Return(nil)

		batch := finishedBatch(domain.BatchStatusFailed)
		batch.Error = "no papers were successfully downloaded"
		require.NoError(t, p.HandleBatch(context.Background(), batch))

		require.Len(t, sent, 1)
		var event domain.Event
		require.NoError(t, json.Unmarshal(sent[0].Value, &event))
		assert.Equal(t, domain.EventTypeBatchFailed, event.EventType)
		for _, h := range sent[0].Headers {
			assert.NotEqual(t, "request_id", h.Key)
		}
	})

	t.Run("writer error is wrapped", func(t *testing.T) {
		w := &mockWriter{}
		p := newKafkaPublisher(w, "events.batches", zerolog.Nop())
		w.On("WriteMessages", mock.Anything, mock.Anything).Return(kafka.LeaderNotAvailable)

		err := p.HandleBatch(context.Background(), finishedBatch(domain.BatchStatusCompleted))
		require.Error(t, err)
		assert.True(t, errors.Is(err, kafka.LeaderNotAvailable))
		assert.Contains(t, err.Error(), "events.batches")
	})
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &mockWriter{}
	w.On("Close").Return(nil)

	p := newKafkaPublisher(w, "t", zerolog.Nop())
	assert.Equal(t, "kafka", p.Name())
	require.NoError(t, p.Close())
	w.AssertExpectations(t)
}

func TestNewKafkaPublisher(t *testing.T) {
	p := NewKafkaPublisher(Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "events.batches",
		BatchSize:    10,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: time.Second,
	}, zerolog.Nop())

	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "events.batches", w.Topic)
	assert.Equal(t, 10, w.BatchSize)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
	assert.NoError(t, p.Close())
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.Equal(t, "noop", p.Name())
	assert.NoError(t, p.HandleBatch(context.Background(), finishedBatch(domain.BatchStatusCompleted)))
	assert.NoError(t, p.Close())
}
