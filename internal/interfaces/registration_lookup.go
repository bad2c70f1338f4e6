package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

// RegistrationLookup reads the registration/membership records owned by the
// rest of the platform.
type RegistrationLookup interface {
	FindByProtocols(ctx context.Context, variants []string) ([]models.Registration, error)
	// ProtocolFor returns "" when the entity has no protocol of its own.
	ProtocolFor(ctx context.Context, ref models.EntityRef) (string, error)
}
