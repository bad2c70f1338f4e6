package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/cache"
	"github.com/akylbek/payment-system/federation-payments/internal/gateway"
	"github.com/akylbek/payment-system/federation-payments/internal/interfaces"
	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/protocol"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

// AdapterSource resolves adapters by gateway config row or by provider
// default. gateway.Set satisfies it.
type AdapterSource interface {
	For(p models.Provider) (gateway.Adapter, bool)
	ForConfig(id string) (gateway.Adapter, bool)
}

// ResolveAdapter returns the adapter bound to the config row tx was charged
// under, falling back to the provider default for rows that predate the
// config id or whose row was removed.
func ResolveAdapter(src AdapterSource, tx *models.Transaction) (gateway.Adapter, bool) {
	id, _ := tx.Metadata[models.MetaGatewayConfigID].(string)
	return adapterFor(src, id, tx.Provider)
}

func adapterFor(src AdapterSource, configID string, p models.Provider) (gateway.Adapter, bool) {
	if configID != "" {
		if a, ok := src.ForConfig(configID); ok && a.Provider() == p {
			return a, true
		}
	}
	return src.For(p)
}

// StatusSource says who reported an external status.
type StatusSource string

const (
	SourceWebhook        StatusSource = "webhook"
	SourceReconciliation StatusSource = "reconciliation"
	SourceCharge         StatusSource = "charge"
)

type CreateInput struct {
	Provider models.Provider
	Method   models.PaymentMethod
	Amount   decimal.Decimal
	Currency string
	Entity   models.EntityRef
	Metadata models.Metadata
}

type ExternalStatus struct {
	Provider   models.Provider
	ExternalID string
	Reported   string
	Source     StatusSource
}

type RefundInput struct {
	TransactionID string
	// Amount defaults to the full transaction amount.
	Amount *decimal.Decimal
	Reason string
	By     string
}

// Ledger owns every status change of a transaction. All writes go through
// single-row compare-and-set updates, so concurrent callers never double
// apply a transition.
type Ledger struct {
	repo      interfaces.TransactionRepository
	adapters  AdapterSource
	locker    interfaces.Locker
	publisher interfaces.EventPublisher
	notifier  *Notifier
	codec     *protocol.Codec
	now       func() time.Time
	lockTTL   time.Duration
}

// SetNotifier makes every applied PAID or REFUNDED transition queue a payer
// message, whichever path applied it.
func (l *Ledger) SetNotifier(n *Notifier) { l.notifier = n }

func NewLedger(
	repo interfaces.TransactionRepository,
	adapters AdapterSource,
	locker interfaces.Locker,
	publisher interfaces.EventPublisher,
) *Ledger {
	return &Ledger{
		repo:      repo,
		adapters:  adapters,
		locker:    locker,
		publisher: publisher,
		codec:     protocol.NewCodec(),
		now:       time.Now,
		lockTTL:   cache.DefaultRefundLockTTL,
	}
}

// Create inserts a PENDING row under a fresh PAY protocol. A protocol
// collision is retried once with a new protocol.
func (l *Ledger) Create(ctx context.Context, in CreateInput) (*models.Transaction, error) {
	now := l.now().UTC()
	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = "BRL"
	}
	tx := &models.Transaction{
		ID:            uuid.NewString(),
		Provider:      in.Provider,
		PaymentMethod: in.Method,
		Amount:        in.Amount,
		Currency:      currency,
		Status:        models.StatusPending,
		Entity:        in.Entity,
		Metadata:      in.Metadata.Clone(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	for attempt := 0; attempt < 2; attempt++ {
		tx.Protocol = l.codec.Generate(protocol.PrefixPayment)
		err := l.repo.Insert(ctx, tx)
		if err == nil {
			telemetry.Logger.Info("Transaction created",
				zap.String("transaction_id", tx.ID),
				zap.String("protocol", tx.Protocol),
				zap.String("provider", string(tx.Provider)),
			)
			return tx, nil
		}
		if !errors.Is(err, models.ErrProtocolConflict) {
			return nil, fmt.Errorf("insert transaction: %w", err)
		}
		telemetry.Logger.Warn("Protocol collision, regenerating", zap.String("protocol", tx.Protocol))
	}
	return nil, &models.DuplicateProtocolError{Protocol: tx.Protocol}
}

// AttachExternalID records the gateway reference. It reports false when the
// row already had one.
func (l *Ledger) AttachExternalID(ctx context.Context, id, externalID string) (bool, error) {
	rows, err := l.repo.AttachExternalID(ctx, id, externalID)
	if err != nil {
		return false, fmt.Errorf("attach external id: %w", err)
	}
	return rows == 1, nil
}

// ApplyExternalStatus applies a provider-reported status. The returned bool
// is true only when this call changed the row. Reporting the current status
// again is a no-op.
func (l *Ledger) ApplyExternalStatus(ctx context.Context, in ExternalStatus) (*models.Transaction, bool, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "ledger.apply_external_status")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", string(in.Provider)),
		attribute.String("reported_status", in.Reported),
	)

	tx, err := l.repo.GetByExternalID(ctx, in.Provider, in.ExternalID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, false, &models.UnknownTransactionError{Provider: in.Provider, ExternalID: in.ExternalID}
	}
	if err != nil {
		return nil, false, err
	}

	to, ok := models.NormalizeStatus(in.Reported)
	if !ok {
		return tx, false, &models.InvalidTransitionError{TransactionID: tx.ID, From: tx.Status, Reported: in.Reported}
	}
	if to == tx.Status {
		return tx, false, nil
	}
	if !models.CanTransition(tx.Status, to) {
		return tx, false, &models.InvalidTransitionError{TransactionID: tx.ID, From: tx.Status, To: to, Reported: in.Reported}
	}

	now := l.now().UTC()
	patch := models.Metadata{}
	if in.Source == SourceWebhook {
		patch[models.MetaLastWebhookAt] = now
	}
	if to == models.StatusRefunded {
		patch[models.MetaRefund] = models.RefundRecord{
			ID:     uuid.NewString(),
			Amount: tx.Amount,
			At:     now,
			By:     "provider:" + strings.ToLower(string(in.Provider)),
		}
	}

	applied, err := l.transition(ctx, tx, to, patch)
	if err != nil {
		return nil, false, err
	}
	current, err := l.repo.GetByID(ctx, tx.ID)
	if err != nil {
		return nil, false, err
	}
	if !applied {
		// Another writer moved the row first.
		if current.Status == to {
			return current, false, nil
		}
		return current, false, &models.InvalidTransitionError{TransactionID: tx.ID, From: current.Status, To: to, Reported: in.Reported}
	}
	return current, true, nil
}

// Fail moves a non-terminal row to ERROR and records cause.
func (l *Ledger) Fail(ctx context.Context, id string, cause error) error {
	tx, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanTransition(tx.Status, models.StatusError) {
		return &models.InvalidTransitionError{TransactionID: id, From: tx.Status, To: models.StatusError}
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	applied, err := l.transition(ctx, tx, models.StatusError, models.Metadata{models.MetaError: msg})
	if err != nil || applied {
		return err
	}
	current, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == models.StatusError {
		return nil
	}
	return &models.InvalidTransitionError{TransactionID: id, From: current.Status, To: models.StatusError}
}

// Expire moves a PENDING row to EXPIRED. It reports false when the row is
// no longer PENDING.
func (l *Ledger) Expire(ctx context.Context, tx *models.Transaction) (bool, error) {
	if tx.Status != models.StatusPending {
		return false, nil
	}
	return l.transition(ctx, tx, models.StatusExpired, nil)
}

// Annotate merges patch into the row's metadata without touching status.
func (l *Ledger) Annotate(ctx context.Context, id string, patch models.Metadata) error {
	return l.repo.MergeMetadata(ctx, id, patch)
}

// Refund refunds a PAID transaction at its gateway and moves it to REFUNDED.
// A per-transaction lock keeps concurrent refunds from reaching the gateway
// twice.
func (l *Ledger) Refund(ctx context.Context, in RefundInput) (*models.Transaction, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "ledger.refund")
	defer span.End()
	span.SetAttributes(attribute.String("transaction_id", in.TransactionID))

	tx, err := l.refundable(ctx, in)
	if err != nil {
		return nil, err
	}

	release, ok, err := l.locker.Acquire(ctx, cache.RefundLockPrefix+tx.ID, l.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire refund lock: %w", err)
	}
	if !ok {
		return nil, models.ErrRefundInProgress
	}
	defer release()

	// The row may have moved while the lock was contended.
	tx, err = l.refundable(ctx, in)
	if err != nil {
		return nil, err
	}

	adapter, ok := ResolveAdapter(l.adapters, tx)
	if !ok {
		return nil, &models.ConfigurationError{Kind: models.MisconfiguredGateway, Provider: tx.Provider}
	}
	if tx.ExternalRef() == "" {
		return nil, &models.AdapterError{Provider: tx.Provider, Op: "refund", Err: errors.New("transaction has no external id")}
	}

	amount := tx.Amount
	if in.Amount != nil {
		amount = *in.Amount
	}

	// A previous attempt timed out; the provider may already hold the refund.
	held := false
	if tx.Metadata[models.MetaRefundOutcome] == OutcomeUnknown {
		reported, err := adapter.QueryStatus(ctx, tx.ExternalRef())
		if err != nil {
			return nil, &models.AdapterError{Provider: tx.Provider, Op: "query_status", Retryable: true, Err: err}
		}
		switch s, _ := models.NormalizeStatus(reported); s {
		case models.StatusRefunded:
			telemetry.Logger.Info("Provider already holds refund, skipping gateway call",
				zap.String("transaction_id", tx.ID),
				zap.String("external_id", tx.ExternalRef()),
			)
			held = true
		case models.StatusPaid:
		default:
			return nil, &models.AdapterError{
				Provider: tx.Provider,
				Op:       "refund",
				Err:      fmt.Errorf("previous refund outcome unknown and provider reports %q", reported),
			}
		}
	}

	refundID := ""
	if !held {
		res := adapter.RefundPayment(ctx, tx.ExternalRef(), in.Amount)
		if !res.Success {
			return nil, l.refundFailed(ctx, tx, res.Err)
		}
		refundID = res.RefundID
	}
	if refundID == "" {
		refundID = uuid.NewString()
	}

	// The gateway holds the refund now; the caller's deadline must not keep
	// the ledger from recording it.
	bg := context.WithoutCancel(ctx)
	record := models.RefundRecord{
		ID:     refundID,
		Amount: amount,
		Reason: in.Reason,
		At:     l.now().UTC(),
		By:     in.By,
	}
	patch := models.Metadata{models.MetaRefund: record}
	if _, ok := tx.Metadata[models.MetaRefundOutcome]; ok {
		patch[models.MetaRefundOutcome] = OutcomeConfirmed
	}
	applied, err := l.transition(bg, tx, models.StatusRefunded, patch)
	if err != nil {
		return nil, err
	}

	current, err := l.repo.GetByID(bg, tx.ID)
	if err != nil {
		return nil, err
	}
	if !applied && current.Status != models.StatusRefunded {
		telemetry.Logger.Error("Refund accepted by gateway but ledger row moved",
			zap.String("transaction_id", tx.ID),
			zap.String("status", string(current.Status)),
			zap.String("refund_id", refundID),
		)
		return current, &models.InvalidTransitionError{TransactionID: tx.ID, From: current.Status, To: models.StatusRefunded}
	}
	return current, nil
}

func (l *Ledger) refundable(ctx context.Context, in RefundInput) (*models.Transaction, error) {
	tx, err := l.repo.GetByID(ctx, in.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != models.StatusPaid {
		return nil, &models.InvalidTransitionError{TransactionID: tx.ID, From: tx.Status, To: models.StatusRefunded}
	}
	if in.Amount != nil {
		if !in.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: refund amount must be positive", models.ErrInvalidRequest)
		}
		if in.Amount.GreaterThan(tx.Amount) {
			return nil, models.ErrRefundAmount
		}
	}
	return tx, nil
}

// refundFailed maps a failed gateway refund. A timed-out or cancelled call
// may still have landed, so it is marked on the row and reported as not
// retryable; the next attempt asks the provider before refunding again.
func (l *Ledger) refundFailed(ctx context.Context, tx *models.Transaction, cause error) error {
	if cause == nil {
		cause = errors.New("refund declined")
	}
	if outcomeUnknown(cause) {
		if err := l.repo.MergeMetadata(context.WithoutCancel(ctx), tx.ID, models.Metadata{models.MetaRefundOutcome: OutcomeUnknown}); err != nil {
			telemetry.Logger.Error("Failed to mark refund outcome", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
		telemetry.Logger.Warn("Refund outcome unknown",
			zap.String("transaction_id", tx.ID),
			zap.String("protocol", tx.Protocol),
			zap.Error(cause),
		)
		return &models.AdapterError{Provider: tx.Provider, Op: "refund", Err: cause}
	}

	var ae *models.AdapterError
	if errors.As(cause, &ae) {
		cp := *ae
		cp.Retryable = true
		return &cp
	}
	return &models.AdapterError{Provider: tx.Provider, Op: "refund", Retryable: true, Err: cause}
}

// AdapterFor resolves the adapter for the row behind a provider reference.
// Unknown references get the provider default.
func (l *Ledger) AdapterFor(ctx context.Context, p models.Provider, externalID string) (gateway.Adapter, error) {
	tx, err := l.repo.GetByExternalID(ctx, p, externalID)
	switch {
	case err == nil:
		if a, ok := ResolveAdapter(l.adapters, tx); ok {
			return a, nil
		}
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	default:
		if a, ok := l.adapters.For(p); ok {
			return a, nil
		}
	}
	return nil, &models.ConfigurationError{Kind: models.MisconfiguredGateway, Provider: p}
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Transaction, error) {
	return l.repo.GetByID(ctx, id)
}

func (l *Ledger) GetByProtocol(ctx context.Context, protocol string) (*models.Transaction, error) {
	return l.repo.GetByProtocol(ctx, protocol)
}

// transition performs the compare-and-set write and, when it lands, emits the
// state change. Zero rows means another writer got there first.
func (l *Ledger) transition(ctx context.Context, tx *models.Transaction, to models.Status, patch models.Metadata) (bool, error) {
	from := tx.Status
	rows, err := l.repo.TransitionStatus(ctx, tx.ID, from, to, patch)
	if err != nil {
		return false, fmt.Errorf("transition %s to %s: %w", from, to, err)
	}
	if rows == 0 {
		return false, nil
	}

	telemetry.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	telemetry.Logger.Info("Transaction state transition",
		zap.String("transaction_id", tx.ID),
		zap.String("protocol", tx.Protocol),
		zap.String("from_state", string(from)),
		zap.String("to_state", string(to)),
	)

	event := models.StateChangedEvent{
		TransactionID: tx.ID,
		Protocol:      tx.Protocol,
		Provider:      tx.Provider,
		State:         to,
		PreviousState: from,
		Timestamp:     l.now().UTC(),
	}
	if err := l.publisher.PublishStateChanged(ctx, event); err != nil {
		telemetry.Logger.Error("Failed to publish state change",
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
	}

	if l.notifier != nil && (to == models.StatusPaid || to == models.StatusRefunded) {
		landed := *tx
		landed.Status = to
		landed.Metadata = tx.Metadata.Clone()
		for k, v := range patch {
			landed.Metadata[k] = v
		}
		l.notifier.NotifyTransition(context.WithoutCancel(ctx), &landed)
	}
	return true, nil
}
