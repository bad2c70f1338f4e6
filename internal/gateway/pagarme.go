package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

// Pagar.me serves test and live traffic from one host; the secret key
// decides which.
const pagarmeBaseURL = "https://api.pagar.me/core/v5"

var pagarmeStatuses = map[string]models.Status{
	"pending":        models.StatusPending,
	"processing":     models.StatusProcessing,
	"paid":           models.StatusPaid,
	"captured":       models.StatusPaid,
	"failed":         models.StatusFailed,
	"not_authorized": models.StatusRejected,
	"canceled":       models.StatusCancelled,
	"voided":         models.StatusCancelled,
	"refunded":       models.StatusRefunded,
	"chargedback":    models.StatusRefunded,

	"authorized_pending_capture": models.StatusProcessing,
}

type Pagarme struct {
	client
	baseURL   string
	secretKey string
}

func NewPagarme(creds map[string]string, hc *http.Client) *Pagarme {
	return &Pagarme{
		client:    newClient(models.ProviderPagarme, hc),
		baseURL:   pagarmeBaseURL,
		secretKey: creds[models.CredSecretKey],
	}
}

func (p *Pagarme) Provider() models.Provider { return models.ProviderPagarme }

type pagarmeCharge struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	LastTransaction struct {
		QRCode    string `json:"qr_code"`
		QRCodeURL string `json:"qr_code_url"`
		URL       string `json:"url"`
		PDF       string `json:"pdf"`
		Line      string `json:"line"`
	} `json:"last_transaction"`
}

type pagarmeOrder struct {
	ID      string          `json:"id"`
	Code    string          `json:"code"`
	Status  string          `json:"status"`
	Charges []pagarmeCharge `json:"charges"`
}

func (p *Pagarme) req(op, method, path string, body any) request {
	return request{op: op, method: method, url: p.baseURL + path, body: body, basicUser: p.secretKey}
}

func (p *Pagarme) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payer := payerOrEmpty(req.Payer)
	var payment map[string]any
	switch req.Method {
	case models.MethodPix:
		payment = map[string]any{"payment_method": "pix", "pix": map[string]any{"expires_in": 86400}}
	case models.MethodBoleto:
		payment = map[string]any{"payment_method": "boleto", "boleto": map[string]any{"instructions": req.Description}}
	case models.MethodDebitCard:
		payment = map[string]any{"payment_method": "debit_card", "debit_card": map[string]any{"card_token": req.CardToken}}
	default:
		payment = map[string]any{"payment_method": "credit_card", "credit_card": map[string]any{"card_token": req.CardToken, "installments": 1}}
	}

	var out pagarmeOrder
	err := p.do(ctx, p.req("create_charge", http.MethodPost, "/orders", map[string]any{
		"code": req.Reference,
		"items": []map[string]any{{
			"amount":      cents(req),
			"description": req.Description,
			"quantity":    1,
			"code":        req.Entity.ID,
		}},
		"customer": map[string]any{
			"name":     payer.Name,
			"email":    payer.Email,
			"document": payer.Document,
			"type":     "individual",
		},
		"payments": []map[string]any{payment},
	}), &out)
	if err != nil {
		return nil, err
	}

	checkout := CheckoutPayload{Type: models.CheckoutTransparent}
	status := out.Status
	if len(out.Charges) > 0 {
		lt := out.Charges[0].LastTransaction
		checkout.PixCopyPaste = lt.QRCode
		checkout.PixQRCode = lt.QRCodeURL
		checkout.BoletoURL = lt.PDF
		checkout.BoletoBarcode = lt.Line
		checkout.URL = lt.URL
		status = out.Charges[0].Status
	}
	if req.Method == models.MethodCreditCard || req.Method == models.MethodDebitCard {
		checkout.CardToken = req.CardToken
	}
	return &ChargeResult{
		ExternalID: out.ID,
		Status:     canonicalStatus(pagarmeStatuses, status),
		Checkout:   checkout,
	}, nil
}

func (p *Pagarme) order(ctx context.Context, id string) (*pagarmeOrder, error) {
	var out pagarmeOrder
	if err := p.do(ctx, p.req("get_order", http.MethodGet, "/orders/"+id, nil), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefundPayment cancels the order's first charge, which refunds it when paid.
func (p *Pagarme) RefundPayment(ctx context.Context, externalID string, amount *decimal.Decimal) RefundResult {
	order, err := p.order(ctx, externalID)
	if err != nil {
		return refundFailed(err)
	}
	if len(order.Charges) == 0 {
		return refundFailed(p.fail("refund", 0, false, models.ErrNotFound))
	}

	r := p.req("refund", http.MethodDelete, "/charges/"+order.Charges[0].ID, nil)
	if amount != nil {
		r.body = map[string]any{"amount": amount.Shift(2).Round(0).IntPart()}
	}
	var out pagarmeCharge
	if err := p.do(ctx, r, &out); err != nil {
		return refundFailed(err)
	}
	return RefundResult{Success: true, RefundID: out.ID}
}

func (p *Pagarme) QueryStatus(ctx context.Context, externalID string) (string, error) {
	order, err := p.order(ctx, externalID)
	if err != nil {
		return "", err
	}
	if len(order.Charges) > 0 {
		return canonicalStatus(pagarmeStatuses, order.Charges[0].Status), nil
	}
	return canonicalStatus(pagarmeStatuses, order.Status), nil
}

// ParseWebhook accepts order.* and charge.* hooks. Charge hooks carry the
// parent order id, which is the external reference.
func (p *Pagarme) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	var n struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Order  struct {
				ID string `json:"id"`
			} `json:"order"`
		} `json:"data"`
	}
	if err := decodeWebhook(p.Provider(), raw, &n); err != nil {
		return nil, err
	}

	externalID := n.Data.ID
	switch {
	case strings.HasPrefix(n.Type, "order."):
	case strings.HasPrefix(n.Type, "charge."):
		externalID = n.Data.Order.ID
	default:
		return unknownEvent(p.Provider(), n.Type, raw), nil
	}
	if externalID == "" {
		return unknownEvent(p.Provider(), n.Type, raw), nil
	}
	return paymentEvent(p.Provider(), n.Type, n.ID, externalID, canonicalStatus(pagarmeStatuses, n.Data.Status), raw), nil
}
