package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/federation-payments/internal/gateway"
)

type stubDeliverer struct {
	result gateway.SendResult
	got    []gateway.Message
}

func (s *stubDeliverer) Deliver(_ context.Context, msg gateway.Message) gateway.SendResult {
	s.got = append(s.got, msg)
	return s.result
}

type recordingAck struct {
	acked  bool
	nakked time.Duration
	termed bool
}

func (r *recordingAck) Ack(...nats.AckOpt) error { r.acked = true; return nil }
func (r *recordingAck) NakWithDelay(d time.Duration, _ ...nats.AckOpt) error {
	r.nakked = d
	return nil
}
func (r *recordingAck) Term(...nats.AckOpt) error { r.termed = true; return nil }

func encode(t *testing.T, m gateway.Message) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func TestConsumerAcknowledgement(t *testing.T) {
	msg := gateway.Message{ID: "m-1", To: "5511999999999", Text: "ok"}

	tests := []struct {
		name   string
		result gateway.SendResult
		check  func(t *testing.T, a *recordingAck)
	}{
		{
			name:   "success acks",
			result: gateway.SendResult{Success: true},
			check:  func(t *testing.T, a *recordingAck) { assert.True(t, a.acked) },
		},
		{
			name:   "retryable failure is redelivered later",
			result: gateway.SendResult{Retryable: true, Err: errors.New("502")},
			check: func(t *testing.T, a *recordingAck) {
				assert.False(t, a.acked)
				assert.Equal(t, 7*time.Second, a.nakked)
			},
		},
		{
			name:   "permanent failure terminates",
			result: gateway.SendResult{Err: errors.New("bad number")},
			check:  func(t *testing.T, a *recordingAck) { assert.True(t, a.termed) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &stubDeliverer{result: tt.result}
			c := NewConsumer(nil, d, ConsumerConfig{RetryInterval: 7 * time.Second})
			defer c.Close()

			a := &recordingAck{}
			c.handle(encode(t, msg), a)

			require.Len(t, d.got, 1)
			assert.Equal(t, msg, d.got[0])
			tt.check(t, a)
		})
	}
}

func TestConsumerTerminatesGarbage(t *testing.T) {
	d := &stubDeliverer{}
	c := NewConsumer(nil, d, ConsumerConfig{})
	defer c.Close()

	a := &recordingAck{}
	c.handle([]byte("not json"), a)

	assert.True(t, a.termed)
	assert.Empty(t, d.got)
}

func TestConsumerDefaults(t *testing.T) {
	c := NewConsumer(nil, &stubDeliverer{}, ConsumerConfig{})
	defer c.Close()

	assert.Equal(t, defaultMaxDeliver, c.cfg.MaxDeliver)
	assert.Equal(t, defaultRetryInterval, c.cfg.RetryInterval)
	assert.Equal(t, defaultAckWait, c.cfg.AckWait)
}

func TestInlineDeliversImmediately(t *testing.T) {
	d := &stubDeliverer{result: gateway.SendResult{Retryable: true, Err: errors.New("down")}}
	q := &Inline{Deliverer: d}

	require.NoError(t, q.Publish(context.Background(), gateway.Message{ID: "m-2"}))
	assert.Len(t, d.got, 1)
}
