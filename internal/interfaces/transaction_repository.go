package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

// TransactionRepository defines the contract for ledger row access. Every
// mutating method is a single-row compare-and-set and reports the number of
// rows it changed; zero means the guard did not hold.
type TransactionRepository interface {
	// Insert returns models.ErrProtocolConflict when the protocol is taken.
	Insert(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByProtocol(ctx context.Context, protocol string) (*models.Transaction, error)
	GetByExternalID(ctx context.Context, provider models.Provider, externalID string) (*models.Transaction, error)

	// TransitionStatus moves id from -> to only while status = from, merging
	// patch into metadata in the same write.
	TransitionStatus(ctx context.Context, id string, from, to models.Status, patch models.Metadata) (int64, error)
	// AttachExternalID sets external_id only while it is still null.
	AttachExternalID(ctx context.Context, id, externalID string) (int64, error)
	MergeMetadata(ctx context.Context, id string, patch models.Metadata) error
	// SetProtocol fills protocol only while it is still empty.
	SetProtocol(ctx context.Context, id, protocol string) (int64, error)
	// LinkEntity fills the entity reference only while entity_id is empty.
	LinkEntity(ctx context.Context, id string, ref models.EntityRef, patch models.Metadata) (int64, error)

	ListMissingProtocol(ctx context.Context, limit int) ([]models.Transaction, error)
	// ListUnlinked pages, in (created_at, id) order after the given key,
	// through rows that have a protocol but no entity and were never flagged
	// by reconciliation. An empty afterID starts from the beginning.
	ListUnlinked(ctx context.Context, afterCreated time.Time, afterID string, limit int) ([]models.Transaction, error)
	ListStale(ctx context.Context, statuses []models.Status, updatedBefore time.Time, limit int) ([]models.Transaction, error)
}
