package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/gateway"
	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/registry"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

const (
	DefaultGatewayTimeout = 20 * time.Second
	DefaultChargeRetries  = 2

	// OutcomeUnknown marks a charge or refund whose gateway call timed out
	// or was cancelled. Reconciliation resolves charges; the next refund
	// attempt resolves refunds by querying the provider first.
	OutcomeUnknown = "unknown"
	// OutcomeConfirmed replaces OutcomeUnknown once the provider reported
	// the refund.
	OutcomeConfirmed = "confirmed"
)

type ChargeCommand struct {
	Entity      models.EntityRef
	Amount      decimal.Decimal      `validate:"-"`
	Currency    string               `validate:"omitempty,len=3,alpha"`
	Method      models.PaymentMethod `validate:"required,oneof=CREDIT_CARD DEBIT_CARD PIX BOLETO"`
	Payer       *models.Payer
	CardToken   string `validate:"required_if=Method CREDIT_CARD,required_if=Method DEBIT_CARD"`
	Description string `validate:"max=255"`
}

type ChargeOutcome struct {
	TransactionID string                  `json:"transactionId"`
	Protocol      string                  `json:"protocol"`
	ExternalID    string                  `json:"externalId"`
	Status        models.Status           `json:"status"`
	Checkout      gateway.CheckoutPayload `json:"checkoutPayload"`
}

type OrchestratorConfig struct {
	GatewayTimeout time.Duration
	MaxRetries     int
}

// Orchestrator is the entry point for new charges and refunds. It picks the
// gateway, records the attempt in the ledger and drives the adapter call.
type Orchestrator struct {
	registry   *registry.Registry
	adapters   AdapterSource
	ledger     *Ledger
	validate   *validator.Validate
	timeout    time.Duration
	maxRetries int
	newBackOff func() backoff.BackOff
}

func NewOrchestrator(
	reg *registry.Registry,
	adapters AdapterSource,
	ledger *Ledger,
	cfg OrchestratorConfig,
) *Orchestrator {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultGatewayTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Orchestrator{
		registry:   reg,
		adapters:   adapters,
		ledger:     ledger,
		validate:   validator.New(),
		timeout:    cfg.GatewayTimeout,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (o *Orchestrator) Ledger() *Ledger { return o.ledger }

// CreateCharge selects a gateway, records a PENDING transaction and opens the
// charge at the provider. A timed-out call leaves the row PENDING with an
// unknown outcome instead of retrying, since the provider may have accepted
// it.
func (o *Orchestrator) CreateCharge(ctx context.Context, cmd ChargeCommand) (*ChargeOutcome, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "orchestrator.create_charge")
	defer span.End()

	if err := o.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	if !cmd.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidRequest)
	}

	cfg, err := o.registry.SelectGateway(cmd.Entity.Kind, cmd.Method)
	if err != nil {
		telemetry.Logger.Warn("No gateway for charge",
			zap.String("entity_type", string(cmd.Entity.Kind)),
			zap.String("payment_method", string(cmd.Method)),
			zap.Error(err),
		)
		return nil, err
	}
	adapter, ok := adapterFor(o.adapters, cfg.ID, cfg.Provider)
	if !ok {
		return nil, &models.ConfigurationError{
			Kind:       models.MisconfiguredGateway,
			Provider:   cfg.Provider,
			EntityKind: cmd.Entity.Kind,
			Method:     cmd.Method,
		}
	}

	meta := models.Metadata{models.MetaGatewayConfigID: cfg.ID}
	if cmd.Payer != nil {
		meta[models.MetaPayer] = *cmd.Payer
	}
	tx, err := o.ledger.Create(ctx, CreateInput{
		Provider: cfg.Provider,
		Method:   cmd.Method,
		Amount:   cmd.Amount,
		Currency: cmd.Currency,
		Entity:   cmd.Entity,
		Metadata: meta,
	})
	if err != nil {
		return nil, err
	}

	req := gateway.ChargeRequest{
		Reference:   tx.Protocol,
		Amount:      tx.Amount,
		Currency:    tx.Currency,
		Method:      cmd.Method,
		Description: cmd.Description,
		Payer:       cmd.Payer,
		CardToken:   cmd.CardToken,
		Entity:      cmd.Entity,
		URLs:        cfg.URLs,
	}

	result, err := o.callWithRetry(ctx, adapter, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, o.chargeFailed(ctx, tx, err)
	}

	outcome := &ChargeOutcome{
		TransactionID: tx.ID,
		Protocol:      tx.Protocol,
		ExternalID:    result.ExternalID,
		Status:        tx.Status,
		Checkout:      result.Checkout,
	}
	if result.ExternalID == "" {
		return outcome, nil
	}
	if _, err := o.ledger.AttachExternalID(ctx, tx.ID, result.ExternalID); err != nil {
		telemetry.Logger.Error("Failed to attach external id",
			zap.String("transaction_id", tx.ID),
			zap.String("external_id", result.ExternalID),
			zap.Error(err),
		)
		return nil, err
	}

	// Cards are often settled in the same call.
	if s, ok := models.NormalizeStatus(result.Status); ok && s != models.StatusPending {
		updated, _, err := o.ledger.ApplyExternalStatus(ctx, ExternalStatus{
			Provider:   tx.Provider,
			ExternalID: result.ExternalID,
			Reported:   result.Status,
			Source:     SourceCharge,
		})
		if err != nil {
			telemetry.Logger.Warn("Initial charge status not applied",
				zap.String("transaction_id", tx.ID),
				zap.String("reported_status", result.Status),
				zap.Error(err),
			)
		} else {
			outcome.Status = updated.Status
		}
	}
	return outcome, nil
}

func (o *Orchestrator) callWithRetry(ctx context.Context, adapter gateway.Adapter, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	var result *gateway.ChargeResult
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		res, err := adapter.CreateCharge(callCtx, req)
		if err == nil {
			result = res
			return nil
		}
		if outcomeUnknown(err) || !models.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		telemetry.Logger.Warn("Retrying charge",
			zap.String("protocol", req.Reference),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(o.newBackOff(), uint64(o.maxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return result, nil
}

func outcomeUnknown(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func (o *Orchestrator) chargeFailed(ctx context.Context, tx *models.Transaction, cause error) error {
	// The caller's context may be the one that expired.
	bg := context.WithoutCancel(ctx)

	if outcomeUnknown(cause) {
		if err := o.ledger.Annotate(bg, tx.ID, models.Metadata{models.MetaChargeOutcome: OutcomeUnknown}); err != nil {
			telemetry.Logger.Error("Failed to mark charge outcome", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
		telemetry.Logger.Warn("Charge outcome unknown",
			zap.String("transaction_id", tx.ID),
			zap.String("protocol", tx.Protocol),
			zap.Error(cause),
		)
		return &models.AdapterError{Provider: tx.Provider, Op: "create_charge", Retryable: true, Err: cause}
	}

	if err := o.ledger.Fail(bg, tx.ID, cause); err != nil {
		telemetry.Logger.Error("Failed to mark transaction as errored", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	telemetry.Logger.Error("Charge failed",
		zap.String("transaction_id", tx.ID),
		zap.String("provider", string(tx.Provider)),
		zap.Error(cause),
	)
	return cause
}

// RefundCharge refunds under the gateway timeout.
func (o *Orchestrator) RefundCharge(ctx context.Context, in RefundInput) (*models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.ledger.Refund(ctx, in)
}
