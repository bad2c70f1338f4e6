// Package queue carries outbound payer notifications between the request
// path and the delivery worker.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/gateway"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

const (
	Subject    = "notifications.outbound"
	StreamName = "NOTIFICATIONS"

	consumerQueue = "notification-sender"

	defaultMaxAckPending = 40
	defaultAckWait       = 30 * time.Second
	defaultMaxDeliver    = 5
	defaultRetryInterval = 30 * time.Second
)

// Deliverer sends one message and says whether a failure is worth retrying.
type Deliverer interface {
	Deliver(ctx context.Context, msg gateway.Message) gateway.SendResult
}

type NotificationQueue struct {
	JetStream nats.JetStreamContext
	NatsConn  *nats.Conn
}

func NewNotificationQueue(nc *nats.Conn) (*NotificationQueue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	q := &NotificationQueue{JetStream: js, NatsConn: nc}
	if err := q.createStream(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *NotificationQueue) createStream() error {
	now := time.Now().UTC()
	stream, err := q.JetStream.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil
	}
	if err != nil {
		return err
	}
	if stream.Created.After(now) {
		telemetry.Logger.Info("Notification stream created", zap.String("stream", StreamName))
	}
	return nil
}

// Publish stores msg in the stream. The message ID doubles as the JetStream
// dedup key, so a repeated transition notice is stored once.
func (q *NotificationQueue) Publish(ctx context.Context, msg gateway.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = q.JetStream.Publish(Subject, data, nats.Context(ctx), nats.MsgId(msg.ID))
	return err
}

type ConsumerConfig struct {
	MaxDeliver    int
	RetryInterval time.Duration
	AckWait       time.Duration
	MaxAckPending int
}

// Consumer pulls queued messages and hands them to a Deliverer. Success
// acks, a retryable failure is redelivered after RetryInterval and anything
// else is terminated.
type Consumer struct {
	queue     *NotificationQueue
	deliverer Deliverer
	cfg       ConsumerConfig
	ctx       context.Context
	cancelCtx context.CancelFunc
}

func NewConsumer(q *NotificationQueue, d Deliverer, cfg ConsumerConfig) *Consumer {
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = defaultMaxDeliver
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = defaultAckWait
	}
	if cfg.MaxAckPending <= 0 {
		cfg.MaxAckPending = defaultMaxAckPending
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{queue: q, deliverer: d, cfg: cfg, ctx: ctx, cancelCtx: cancel}
}

func (c *Consumer) StartProcess() error {
	sub, err := c.queue.JetStream.QueueSubscribeSync(
		Subject,
		consumerQueue,
		nats.AckWait(c.cfg.AckWait),
		nats.ManualAck(),
		nats.DeliverAll(),
		nats.MaxDeliver(c.cfg.MaxDeliver),
		nats.MaxAckPending(c.cfg.MaxAckPending),
	)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		msg, err := sub.NextMsgWithContext(c.ctx)
		if c.ctx.Err() != nil {
			return nil
		}
		if err != nil {
			continue
		}
		go c.processMessage(msg)
	}
}

// acker is the subset of *nats.Msg the consumer needs.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

func (c *Consumer) processMessage(msg *nats.Msg) {
	c.handle(msg.Data, msg)
}

func (c *Consumer) handle(data []byte, ack acker) {
	var m gateway.Message
	if err := json.Unmarshal(data, &m); err != nil {
		telemetry.Logger.Error("Dropping undecodable notification", zap.Error(err))
		ack.Term()
		return
	}

	res := c.deliverer.Deliver(c.ctx, m)
	switch {
	case res.Success:
		ack.Ack()
	case res.Retryable:
		ack.NakWithDelay(c.cfg.RetryInterval)
	default:
		ack.Term()
	}
}

func (c *Consumer) Close() {
	c.cancelCtx()
}

// Inline delivers synchronously. It stands in for the stream when NATS_URL is
// empty; failed messages are logged and not retried.
type Inline struct {
	Deliverer Deliverer
}

func (q *Inline) Publish(ctx context.Context, msg gateway.Message) error {
	if q.Deliverer == nil {
		return errors.New("inline queue has no deliverer")
	}
	res := q.Deliverer.Deliver(ctx, msg)
	if !res.Success {
		telemetry.Logger.Warn("Inline notification not delivered",
			zap.String("message_id", msg.ID),
			zap.Bool("retryable", res.Retryable),
			zap.Error(res.Err),
		)
	}
	return nil
}
