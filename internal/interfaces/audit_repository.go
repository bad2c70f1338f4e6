package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

// AuditRepository persists inbound webhook traces and notification acks.
type AuditRepository interface {
	// RecordWebhook inserts a deduplicated audit row and fills audit.ID. It
	// reports false when (source, event_id) was already recorded, and then
	// fills audit with the stored row's id and stage.
	RecordWebhook(ctx context.Context, audit *models.WebhookAudit) (bool, error)
	UpdateWebhookStage(ctx context.Context, id int64, stage models.WebhookStage, processingError string) error
	CreateNotification(ctx context.Context, n *models.Notification) error
}
