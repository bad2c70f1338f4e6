package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

func newTx(protocol string) *models.Transaction {
	now := time.Now()
	return &models.Transaction{
		ID:            uuid.NewString(),
		Protocol:      protocol,
		Provider:      models.ProviderAsaas,
		PaymentMethod: models.MethodPix,
		Amount:        decimal.RequireFromString("150.00"),
		Currency:      "BRL",
		Status:        models.StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemoryRepository_ProtocolUnique(t *testing.T) {
	r := NewMemoryTransactionRepository()
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, newTx("PAY-20240101-1111")))
	err := r.Insert(ctx, newTx("PAY-20240101-1111"))
	assert.True(t, errors.Is(err, models.ErrProtocolConflict))

	// Empty protocols never collide.
	require.NoError(t, r.Insert(ctx, newTx("")))
	require.NoError(t, r.Insert(ctx, newTx("")))
}

func TestMemoryRepository_ExternalIDUniquePerProvider(t *testing.T) {
	r := NewMemoryTransactionRepository()
	ctx := context.Background()

	a, b := newTx("A"), newTx("B")
	require.NoError(t, r.Insert(ctx, a))
	require.NoError(t, r.Insert(ctx, b))

	n, err := r.AttachExternalID(ctx, a.ID, "ext-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = r.AttachExternalID(ctx, b.ID, "ext-1")
	assert.True(t, errors.Is(err, models.ErrExternalIDConflict))

	n, err = r.AttachExternalID(ctx, a.ID, "ext-2")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "external id is write-once")

	got, err := r.GetByExternalID(ctx, models.ProviderAsaas, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = r.GetByExternalID(ctx, models.ProviderGetnet, "ext-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryRepository_ConcurrentTransitionWritesOnce(t *testing.T) {
	r := NewMemoryTransactionRepository()
	ctx := context.Background()
	tx := newTx("PAY-20240101-2222")
	require.NoError(t, r.Insert(ctx, tx))
	before := r.Writes()

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := r.TransitionStatus(ctx, tx.ID, models.StatusPending, models.StatusPaid, nil)
			assert.NoError(t, err)
			atomic.AddInt64(&wins, n)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins)
	assert.Equal(t, before+1, r.Writes())
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	r := NewMemoryTransactionRepository()
	ctx := context.Background()
	tx := newTx("P")
	tx.Metadata = models.Metadata{"k": "v"}
	require.NoError(t, r.Insert(ctx, tx))

	got, err := r.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	got.Metadata["k"] = "changed"
	got.Status = models.StatusPaid

	again, _ := r.GetByID(ctx, tx.ID)
	assert.Equal(t, "v", again.Metadata["k"])
	assert.Equal(t, models.StatusPending, again.Status)
}

func TestMemoryRepository_SetProtocolAndLinkAreGuarded(t *testing.T) {
	r := NewMemoryTransactionRepository()
	ctx := context.Background()
	tx := newTx("")
	require.NoError(t, r.Insert(ctx, tx))

	n, err := r.SetProtocol(ctx, tx.ID, "PAY-20240101-3333")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, _ = r.SetProtocol(ctx, tx.ID, "PAY-20240101-4444")
	assert.EqualValues(t, 0, n)

	ref := models.EntityRef{Kind: models.EntityClubRegistration, ID: "club-1"}
	n, err = r.LinkEntity(ctx, tx.ID, ref, models.Metadata{models.MetaLinkedBy: "reconciliation"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, _ = r.LinkEntity(ctx, tx.ID, models.EntityRef{Kind: models.EntityClubRegistration, ID: "club-2"}, nil)
	assert.EqualValues(t, 0, n)

	got, _ := r.GetByID(ctx, tx.ID)
	assert.Equal(t, ref, got.Entity)
	assert.Equal(t, "reconciliation", got.Metadata[models.MetaLinkedBy])
}

func TestMemoryRepository_ListStale(t *testing.T) {
	r := NewMemoryTransactionRepository()
	ctx := context.Background()
	old := newTx("OLD")
	old.UpdatedAt = time.Now().Add(-2 * time.Hour)
	paid := newTx("PAID")
	paid.Status = models.StatusPaid
	paid.UpdatedAt = old.UpdatedAt
	fresh := newTx("FRESH")
	for _, tx := range []*models.Transaction{old, paid, fresh} {
		require.NoError(t, r.Insert(ctx, tx))
	}

	rows, err := r.ListStale(ctx, []models.Status{models.StatusPending, models.StatusProcessing}, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.ID, rows[0].ID)
}

func TestMemoryAuditRepository_Dedupes(t *testing.T) {
	r := NewMemoryAuditRepository()
	ctx := context.Background()

	first := &models.WebhookAudit{Source: "ASAAS", EventID: "evt-1", Stage: models.StageReceived}
	created, err := r.RecordWebhook(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	require.NoError(t, r.UpdateWebhookStage(ctx, first.ID, models.StageDispatched, ""))
	assert.True(t, r.Webhooks()[0].SignatureValid)
	assert.Equal(t, models.StageDispatched, r.Webhooks()[0].Stage)

	again := &models.WebhookAudit{Source: "ASAAS", EventID: "evt-1", Stage: models.StageReceived}
	created, err = r.RecordWebhook(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, models.StageDispatched, again.Stage)
	assert.Len(t, r.Webhooks(), 1)
}
