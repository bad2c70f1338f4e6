package service

import (
	"context"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/federation-payments/internal/cache"
	"github.com/akylbek/payment-system/federation-payments/internal/gateway"
	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/registry"
	"github.com/akylbek/payment-system/federation-payments/internal/repository"
)

type fakeAdapter struct {
	mu          sync.Mutex
	provider    models.Provider
	charge      func(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error)
	refund      func(externalID string, amount *decimal.Decimal) gateway.RefundResult
	status      func(externalID string) (string, error)
	chargeCalls int
	refundCalls int
	queryCalls  int
	lastCharge  gateway.ChargeRequest
}

func (f *fakeAdapter) Provider() models.Provider { return f.provider }

func (f *fakeAdapter) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	f.mu.Lock()
	f.chargeCalls++
	f.lastCharge = req
	fn := f.charge
	f.mu.Unlock()
	if fn == nil {
		return &gateway.ChargeResult{ExternalID: "ext-" + req.Reference, Status: "PENDING"}, nil
	}
	return fn(ctx, req)
}

func (f *fakeAdapter) RefundPayment(_ context.Context, externalID string, amount *decimal.Decimal) gateway.RefundResult {
	f.mu.Lock()
	f.refundCalls++
	fn := f.refund
	f.mu.Unlock()
	if fn == nil {
		return gateway.RefundResult{Success: true, RefundID: "rf-" + externalID}
	}
	return fn(externalID, amount)
}

func (f *fakeAdapter) QueryStatus(_ context.Context, externalID string) (string, error) {
	f.mu.Lock()
	f.queryCalls++
	fn := f.status
	f.mu.Unlock()
	if fn == nil {
		return "PENDING", nil
	}
	return fn(externalID)
}

func (f *fakeAdapter) queries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queryCalls
}

func (f *fakeAdapter) ParseWebhook([]byte) (*models.WebhookEvent, error) {
	return &models.WebhookEvent{Kind: models.EventUnknown}, nil
}

func (f *fakeAdapter) calls() (charges, refunds int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chargeCalls, f.refundCalls
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.StateChangedEvent
}

func (p *recordingPublisher) PublishStateChanged(_ context.Context, e models.StateChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) all() []models.StateChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.StateChangedEvent(nil), p.events...)
}

type recordingQueue struct {
	mu       sync.Mutex
	messages []gateway.Message
}

func (q *recordingQueue) Publish(_ context.Context, msg gateway.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *recordingQueue) all() []gateway.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]gateway.Message(nil), q.messages...)
}

type testEnv struct {
	repo      *repository.MemoryTransactionRepository
	locker    *cache.MemoryLocker
	publisher *recordingPublisher
	queue     *recordingQueue
	adapter   *fakeAdapter
	ledger    *Ledger
	orch      *Orchestrator
}

func asaasConfig() models.GatewayConfig {
	return models.GatewayConfig{
		ID:             "gw-asaas",
		Provider:       models.ProviderAsaas,
		Active:         true,
		Priority:       1,
		AllowedMethods: []models.PaymentMethod{models.MethodPix, models.MethodBoleto, models.MethodCreditCard},
		EntityTypes:    []models.EntityKind{models.EntityClubRegistration, models.EntityAthleteFiliation},
		CheckoutType:   models.CheckoutTransparent,
		Credentials: models.Credentials{
			Live: map[string]string{models.CredAPIKey: "live-key"},
		},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:      repository.NewMemoryTransactionRepository(),
		locker:    cache.NewMemoryLocker(),
		publisher: &recordingPublisher{},
		queue:     &recordingQueue{},
		adapter:   &fakeAdapter{provider: models.ProviderAsaas},
	}
	adapters := gateway.NewSet(env.adapter)
	env.ledger = NewLedger(env.repo, adapters, env.locker, env.publisher)
	env.ledger.SetNotifier(NewNotifier(env.queue, nil))
	env.orch = NewOrchestrator(registry.New([]models.GatewayConfig{asaasConfig()}, false), adapters, env.ledger, OrchestratorConfig{
		MaxRetries: DefaultChargeRetries,
	})
	env.orch.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return env
}

// cancelAwareLedger shares env's rows but sees cancellation the way the
// postgres repository does.
func (e *testEnv) cancelAwareLedger() *Ledger {
	l := NewLedger(cancelAwareRepo{e.repo}, gateway.NewSet(e.adapter), e.locker, e.publisher)
	l.SetNotifier(NewNotifier(e.queue, nil))
	return l
}

// seedPaid creates a transaction and drives it to PAID through the ledger.
func (e *testEnv) seedPaid(t *testing.T, amount string) *models.Transaction {
	t.Helper()
	ctx := context.Background()

	tx, err := e.ledger.Create(ctx, CreateInput{
		Provider: models.ProviderAsaas,
		Method:   models.MethodPix,
		Amount:   decimal.RequireFromString(amount),
		Entity:   models.EntityRef{Kind: models.EntityClubRegistration, ID: "club-1"},
		Metadata: models.Metadata{models.MetaPayer: models.Payer{Name: "Clube", Phone: "5511999990000"}},
	})
	require.NoError(t, err)
	_, err = e.ledger.AttachExternalID(ctx, tx.ID, "ext-"+tx.ID)
	require.NoError(t, err)
	paid, applied, err := e.ledger.ApplyExternalStatus(ctx, ExternalStatus{
		Provider:   models.ProviderAsaas,
		ExternalID: "ext-" + tx.ID,
		Reported:   "CONFIRMED",
		Source:     SourceWebhook,
	})
	require.NoError(t, err)
	require.True(t, applied)
	return paid
}

// configAdapters resolves adapters by config id only, so a test can tell
// which row's adapter served a call.
type configAdapters map[string]gateway.Adapter

func (c configAdapters) For(models.Provider) (gateway.Adapter, bool) { return nil, false }

func (c configAdapters) ForConfig(id string) (gateway.Adapter, bool) {
	a, ok := c[id]
	return a, ok
}

// cancelAwareRepo fails writes and reads once ctx is done, like the
// postgres repository does.
type cancelAwareRepo struct {
	*repository.MemoryTransactionRepository
}

func (r cancelAwareRepo) TransitionStatus(ctx context.Context, id string, from, to models.Status, patch models.Metadata) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.MemoryTransactionRepository.TransitionStatus(ctx, id, from, to, patch)
}

func (r cancelAwareRepo) MergeMetadata(ctx context.Context, id string, patch models.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MemoryTransactionRepository.MergeMetadata(ctx, id, patch)
}

func (r cancelAwareRepo) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.MemoryTransactionRepository.GetByID(ctx, id)
}
