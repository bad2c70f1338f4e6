package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

type EventPublisher interface {
	PublishStateChanged(ctx context.Context, event models.StateChangedEvent) error
}
