package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/interfaces"
	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/service"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

var ErrUnknownSource = errors.New("unknown webhook source")

// SecretSource resolves the credentials a provider signs its webhooks with.
// registry.Registry satisfies it.
type SecretSource interface {
	WebhookSecrets(p models.Provider) models.WebhookSecrets
}

type EventParser interface {
	ParseWebhook(raw []byte) (*models.WebhookEvent, error)
}

type Result struct {
	EventID   string
	Kind      models.EventKind
	Duplicate bool
	Applied   bool
	Status    models.Status
	// Note is kept on the audit row for events acknowledged without effect.
	Note string
}

type Processor struct {
	audit            interfaces.AuditRepository
	secrets          SecretSource
	adapters         service.AdapterSource
	ledger           *service.Ledger
	messaging        EventParser
	messagingSecrets models.WebhookSecrets
}

func NewProcessor(
	audit interfaces.AuditRepository,
	secrets SecretSource,
	adapters service.AdapterSource,
	ledger *service.Ledger,
	messaging EventParser,
	messagingSecrets models.WebhookSecrets,
) *Processor {
	return &Processor{
		audit:            audit,
		secrets:          secrets,
		adapters:         adapters,
		ledger:           ledger,
		messaging:        messaging,
		messagingSecrets: messagingSecrets,
	}
}

// Handle authenticates, audits and dispatches one webhook. Errors other than
// ErrUnknownSource and *models.VerificationError are internal and the
// provider should redeliver. A verified payload that cannot be parsed is
// acknowledged, since redelivering the same bytes cannot succeed.
func (p *Processor) Handle(ctx context.Context, source string, headers http.Header, raw []byte) (Result, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "webhook.handle")
	defer span.End()

	name, parser, secrets, provider, err := p.resolve(source)
	if err != nil {
		telemetry.WebhooksTotal.WithLabelValues(strings.ToLower(source), "unknown_source").Inc()
		return Result{}, err
	}
	span.SetAttributes(attribute.String("webhook.source", name))

	ev, parseErr := parser.ParseWebhook(raw)
	presented := ExtractSignature(headers, raw)
	mode, verr := Verify(raw, presented, secrets)

	audit := &models.WebhookAudit{
		Source:         name,
		EventID:        eventID(ev, raw, verr),
		EventKind:      models.EventUnknown,
		Payload:        string(raw),
		SignatureValid: verr == nil,
		Stage:          models.StageReceived,
	}
	if ev != nil && ev.Kind != "" {
		audit.EventKind = ev.Kind
	}
	created, err := p.audit.RecordWebhook(ctx, audit)
	if err != nil {
		telemetry.WebhooksTotal.WithLabelValues(name, "error").Inc()
		return Result{}, fmt.Errorf("record webhook: %w", err)
	}
	res := Result{EventID: audit.EventID, Kind: audit.EventKind}

	if verr != nil {
		if created {
			p.stage(ctx, audit.ID, models.StageRejected, verr.Error())
		}
		telemetry.WebhooksTotal.WithLabelValues(name, "rejected").Inc()
		telemetry.Logger.Warn("Webhook signature rejected",
			zap.String("source", name),
			zap.String("mode", string(mode)),
			zap.Bool("signature_present", presented != ""),
			zap.Error(verr),
		)
		return res, &models.VerificationError{Source: name, Err: verr}
	}
	if mode == ModeLegacyAPIKey {
		telemetry.Logger.Debug("Webhook accepted with legacy api key", zap.String("source", name))
	}

	if !created && audit.Stage == models.StageDispatched {
		res.Duplicate = true
		telemetry.WebhooksTotal.WithLabelValues(name, "duplicate").Inc()
		telemetry.Logger.Info("Duplicate webhook acknowledged",
			zap.String("source", name),
			zap.String("event_id", audit.EventID),
		)
		return res, nil
	}
	p.stage(ctx, audit.ID, models.StageVerified, "")

	if parseErr != nil {
		res.Note = "malformed payload: " + parseErr.Error()
		p.stage(ctx, audit.ID, models.StageRejected, res.Note)
		telemetry.WebhooksTotal.WithLabelValues(name, "malformed").Inc()
		telemetry.Logger.Warn("Verified webhook payload not parsed",
			zap.String("source", name),
			zap.String("event_id", audit.EventID),
			zap.Error(parseErr),
		)
		return res, nil
	}

	if err := p.dispatch(ctx, provider, ev, &res); err != nil {
		p.stage(ctx, audit.ID, models.StageVerified, err.Error())
		telemetry.WebhooksTotal.WithLabelValues(name, "error").Inc()
		telemetry.Logger.Error("Webhook dispatch failed",
			zap.String("source", name),
			zap.String("event_id", audit.EventID),
			zap.Error(err),
		)
		return res, err
	}

	p.stage(ctx, audit.ID, models.StageDispatched, res.Note)
	telemetry.WebhooksTotal.WithLabelValues(name, "dispatched").Inc()
	return res, nil
}

func (p *Processor) resolve(source string) (string, EventParser, models.WebhookSecrets, models.Provider, error) {
	if strings.EqualFold(strings.TrimSpace(source), models.MessagingSource) {
		if p.messaging == nil {
			return "", nil, models.WebhookSecrets{}, "", ErrUnknownSource
		}
		return models.MessagingSource, p.messaging, p.messagingSecrets, "", nil
	}

	provider, ok := models.ParseProvider(source)
	if !ok {
		return "", nil, models.WebhookSecrets{}, "", ErrUnknownSource
	}
	adapter, ok := p.adapters.For(provider)
	if !ok {
		return "", nil, models.WebhookSecrets{}, "", ErrUnknownSource
	}
	return string(provider), adapter, p.secrets.WebhookSecrets(provider), provider, nil
}

func (p *Processor) dispatch(ctx context.Context, provider models.Provider, ev *models.WebhookEvent, res *Result) error {
	switch ev.Kind {
	case models.EventPaymentStatus:
		return p.applyPayment(ctx, provider, ev, res)

	case models.EventMessageDelivery:
		if ev.Message == nil || ev.Message.MessageID == "" {
			res.Note = "delivery report without message id"
			return nil
		}
		return p.audit.CreateNotification(ctx, &models.Notification{
			Instance:  ev.Message.Instance,
			MessageID: ev.Message.MessageID,
			RemoteJID: ev.Message.RemoteJID,
			Status:    ev.Message.Status,
			Payload:   string(ev.RawPayload),
		})

	case models.EventConnection:
		telemetry.Logger.Info("Messaging connection update",
			zap.String("event", ev.Name),
			zap.String("state", ev.ReportedStatus),
		)
		return nil

	default:
		res.Note = "unhandled event " + ev.Name
		telemetry.Logger.Info("Unhandled webhook event",
			zap.String("source", ev.Source),
			zap.String("event", ev.Name),
		)
		return nil
	}
}

func (p *Processor) applyPayment(ctx context.Context, provider models.Provider, ev *models.WebhookEvent, res *Result) error {
	if ev.ExternalID == "" {
		res.Note = "payment event without external id"
		return nil
	}

	reported := ev.ReportedStatus
	if reported == "" {
		adapter, err := p.ledger.AdapterFor(ctx, provider, ev.ExternalID)
		if err != nil {
			return err
		}
		status, err := adapter.QueryStatus(ctx, ev.ExternalID)
		if err != nil {
			return fmt.Errorf("query status of %s: %w", ev.ExternalID, err)
		}
		reported = status
	}

	tx, applied, err := p.ledger.ApplyExternalStatus(ctx, service.ExternalStatus{
		Provider:   provider,
		ExternalID: ev.ExternalID,
		Reported:   reported,
		Source:     service.SourceWebhook,
	})

	var (
		unknown *models.UnknownTransactionError
		invalid *models.InvalidTransitionError
	)
	switch {
	case errors.As(err, &unknown):
		res.Note = err.Error()
		telemetry.Logger.Warn("Webhook for unknown transaction",
			zap.String("provider", string(provider)),
			zap.String("external_id", ev.ExternalID),
		)
		return nil
	case errors.As(err, &invalid):
		res.Note = err.Error()
		telemetry.Logger.Warn("Webhook status not applied",
			zap.String("provider", string(provider)),
			zap.String("external_id", ev.ExternalID),
			zap.String("reported_status", reported),
			zap.Error(err),
		)
		return nil
	case err != nil:
		return err
	}

	res.Applied = applied
	res.Status = tx.Status
	return nil
}

func (p *Processor) stage(ctx context.Context, id int64, stage models.WebhookStage, note string) {
	if err := p.audit.UpdateWebhookStage(ctx, id, stage, note); err != nil {
		telemetry.Logger.Error("Failed to update webhook stage",
			zap.Int64("audit_id", id),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
	}
}

// eventID prefers the provider's id. Unverified payloads are keyed apart so
// they can never claim the id of a genuine event.
func eventID(ev *models.WebhookEvent, raw []byte, verr error) string {
	sum := sha256.Sum256(raw)
	digest := hex.EncodeToString(sum[:])
	switch {
	case verr != nil:
		return "unverified:" + digest
	case ev != nil && ev.EventID != "":
		return ev.EventID
	}
	return "hash:" + digest
}
