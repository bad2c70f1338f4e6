// Package gateway holds one adapter per payment provider. Adapters only
// translate wire formats; routing, persistence and retries live elsewhere.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

type ChargeRequest struct {
	// Reference is the transaction protocol, sent to the provider as its
	// external reference.
	Reference   string
	Amount      decimal.Decimal
	Currency    string
	Method      models.PaymentMethod
	Description string
	Payer       *models.Payer
	CardToken   string
	Entity      models.EntityRef
	URLs        models.GatewayURLs
}

// CheckoutPayload is what the payer needs to complete the charge.
type CheckoutPayload struct {
	Type          models.CheckoutType `json:"type"`
	URL           string              `json:"url,omitempty"`
	PixQRCode     string              `json:"pixQrCode,omitempty"`
	PixCopyPaste  string              `json:"pixCopyPaste,omitempty"`
	BoletoURL     string              `json:"boletoUrl,omitempty"`
	BoletoBarcode string              `json:"boletoBarcode,omitempty"`
	CardToken     string              `json:"cardToken,omitempty"`
}

type ChargeResult struct {
	ExternalID string
	// Status is the provider status at creation time, in canonical form.
	Status   string
	Checkout CheckoutPayload
}

// RefundResult is a tagged outcome: Err is set exactly when Success is false.
type RefundResult struct {
	Success  bool
	RefundID string
	Err      error
}

type Adapter interface {
	Provider() models.Provider
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	// RefundPayment refunds amount, or the full charge when amount is nil.
	RefundPayment(ctx context.Context, externalID string, amount *decimal.Decimal) RefundResult
	// QueryStatus returns the provider's current status mapped onto the
	// ledger vocabulary. Unmapped words are returned upper-cased.
	QueryStatus(ctx context.Context, externalID string) (string, error)
	ParseWebhook(raw []byte) (*models.WebhookEvent, error)
}

func refundFailed(err error) RefundResult {
	return RefundResult{Err: err}
}
