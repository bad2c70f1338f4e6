package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/gateway"
	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

// MessageQueue accepts outbound messages for asynchronous delivery.
type MessageQueue interface {
	Publish(ctx context.Context, msg gateway.Message) error
}

type MessageSender interface {
	Send(ctx context.Context, msg gateway.Message) gateway.SendResult
}

// Notifier tells payers about settled transactions. Delivery is at least
// once: messages are queued and redelivered until the sender accepts them.
type Notifier struct {
	queue  MessageQueue
	sender MessageSender
}

func NewNotifier(queue MessageQueue, sender MessageSender) *Notifier {
	return &Notifier{queue: queue, sender: sender}
}

func (n *Notifier) Enqueue(ctx context.Context, msg gateway.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := n.queue.Publish(ctx, msg); err != nil {
		telemetry.NotificationsTotal.WithLabelValues("enqueue_failed").Inc()
		return fmt.Errorf("enqueue notification: %w", err)
	}
	telemetry.NotificationsTotal.WithLabelValues("enqueued").Inc()
	return nil
}

// Deliver hands one queued message to the messaging gateway.
func (n *Notifier) Deliver(ctx context.Context, msg gateway.Message) gateway.SendResult {
	res := n.sender.Send(ctx, msg)
	switch {
	case res.Success:
		telemetry.NotificationsTotal.WithLabelValues("sent").Inc()
	case res.Retryable:
		telemetry.NotificationsTotal.WithLabelValues("retry").Inc()
	default:
		telemetry.NotificationsTotal.WithLabelValues("dropped").Inc()
		telemetry.Logger.Warn("Notification dropped",
			zap.String("message_id", msg.ID),
			zap.String("reference", msg.Reference),
			zap.Error(res.Err),
		)
	}
	return res
}

// NotifyTransition queues a payer message for PAID and REFUNDED rows that
// carry a payer phone. Other rows are ignored.
func (n *Notifier) NotifyTransition(ctx context.Context, tx *models.Transaction) {
	text := transitionText(tx)
	if text == "" {
		return
	}
	payer, ok := tx.Payer()
	if !ok || payer.Phone == "" {
		return
	}
	msg := gateway.Message{
		ID:        tx.ID + ":" + string(tx.Status),
		To:        payer.Phone,
		Text:      text,
		Reference: tx.Protocol,
	}
	if err := n.Enqueue(ctx, msg); err != nil {
		telemetry.Logger.Error("Failed to queue payer notification",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
	}
}

func transitionText(tx *models.Transaction) string {
	switch tx.Status {
	case models.StatusPaid:
		return fmt.Sprintf("Pagamento confirmado. Protocolo %s, valor %s %s.", tx.Protocol, tx.Currency, tx.Amount.StringFixed(2))
	case models.StatusRefunded:
		amount := tx.Amount
		if rec, ok := tx.RefundRecord(); ok {
			amount = rec.Amount
		}
		return fmt.Sprintf("Reembolso processado. Protocolo %s, valor %s %s.", tx.Protocol, tx.Currency, amount.StringFixed(2))
	}
	return ""
}
