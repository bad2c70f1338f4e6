package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Provider string

const (
	ProviderMercadoPago Provider = "MERCADOPAGO"
	ProviderPagSeguro   Provider = "PAGSEGURO"
	ProviderAsaas       Provider = "ASAAS"
	ProviderPagHiper    Provider = "PAGHIPER"
	ProviderAppmax      Provider = "APPMAX"
	ProviderPagarme     Provider = "PAGARME"
	ProviderYampi       Provider = "YAMPI"
	ProviderInfinitePay Provider = "INFINITEPAY"
	ProviderGetnet      Provider = "GETNET"
)

// AllProviders lists every payment gateway the orchestrator can route to.
var AllProviders = []Provider{
	ProviderMercadoPago,
	ProviderPagSeguro,
	ProviderAsaas,
	ProviderPagHiper,
	ProviderAppmax,
	ProviderPagarme,
	ProviderYampi,
	ProviderInfinitePay,
	ProviderGetnet,
}

// ParseProvider matches a provider name case-insensitively.
func ParseProvider(s string) (Provider, bool) {
	for _, p := range AllProviders {
		if strings.EqualFold(string(p), strings.TrimSpace(s)) {
			return p, true
		}
	}
	return "", false
}

type PaymentMethod string

const (
	MethodCreditCard PaymentMethod = "CREDIT_CARD"
	MethodDebitCard  PaymentMethod = "DEBIT_CARD"
	MethodPix        PaymentMethod = "PIX"
	MethodBoleto     PaymentMethod = "BOLETO"
)

type EntityKind string

const (
	EntityAthleteFiliation  EntityKind = "ATHLETE_FILIATION"
	EntityClubRegistration  EntityKind = "CLUB_REGISTRATION"
	EntityEventRegistration EntityKind = "EVENT_REGISTRATION"
)

// EntityRef points at the record being paid for. The record itself is owned
// by another subsystem; only the pair is kept here for later joins.
type EntityRef struct {
	Kind EntityKind `json:"kind" validate:"required,oneof=ATHLETE_FILIATION CLUB_REGISTRATION EVENT_REGISTRATION"`
	ID   string     `json:"id" validate:"required"`
}

func (e EntityRef) IsZero() bool { return e.ID == "" }

// Metadata is the opaque bag persisted alongside a transaction.
type Metadata map[string]any

// Clone returns a shallow copy that is safe to mutate at the top level.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

const (
	MetaRefund          = "refund"
	MetaPayer           = "payer"
	MetaLinkedBy        = "linkedBy"
	MetaReconciliation  = "reconciliation"
	MetaChargeOutcome   = "chargeOutcome"
	MetaExternalRef     = "externalReference"
	MetaLastWebhookAt   = "lastWebhookAt"
	MetaError           = "error"
	MetaGatewayConfigID = "gatewayConfigId"
	MetaRefundOutcome   = "refundOutcome"
)

// Transaction is the ledger row for one money movement.
type Transaction struct {
	ID            string          `json:"id"`
	Protocol      string          `json:"protocol,omitempty"`
	Provider      Provider        `json:"provider"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        Status          `json:"status"`
	ExternalID    *string         `json:"externalId,omitempty"`
	Entity        EntityRef       `json:"entity"`
	Metadata      Metadata        `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ExternalRef returns the gateway reference or "".
func (t *Transaction) ExternalRef() string {
	if t.ExternalID == nil {
		return ""
	}
	return *t.ExternalID
}

// RefundRecord is stored under metadata.refund once a transaction is refunded.
type RefundRecord struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason,omitempty"`
	At     time.Time       `json:"at"`
	By     string          `json:"by"`
}

// Payer is the optional contact used for outbound notifications.
type Payer struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Phone    string `json:"phone,omitempty"`
	Document string `json:"document,omitempty"`
}

// StateChangedEvent is published for every applied ledger transition.
type StateChangedEvent struct {
	TransactionID string    `json:"transaction_id"`
	Protocol      string    `json:"protocol"`
	Provider      Provider  `json:"provider"`
	State         Status    `json:"state"`
	PreviousState Status    `json:"previous_state"`
	Timestamp     time.Time `json:"timestamp"`
}

// RefundRecord decodes metadata.refund whether it holds a RefundRecord or the
// generic map produced by a JSON round trip.
func (t *Transaction) RefundRecord() (*RefundRecord, bool) {
	var rec RefundRecord
	if !t.Metadata.decode(MetaRefund, &rec) {
		return nil, false
	}
	return &rec, true
}

// Payer decodes metadata.payer.
func (t *Transaction) Payer() (*Payer, bool) {
	var p Payer
	if !t.Metadata.decode(MetaPayer, &p) {
		return nil, false
	}
	return &p, true
}

func (m Metadata) decode(key string, out any) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// Registration is a membership or event record that carries a protocol.
type Registration struct {
	Entity   EntityRef
	Protocol string
}
