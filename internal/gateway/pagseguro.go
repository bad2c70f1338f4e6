package gateway

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

const (
	pagSeguroBaseURL    = "https://api.pagseguro.com"
	pagSeguroSandboxURL = "https://sandbox.api.pagseguro.com"
)

var pagSeguroStatuses = map[string]models.Status{
	"waiting":     models.StatusPending,
	"in_analysis": models.StatusProcessing,
	"authorized":  models.StatusProcessing,
	"paid":        models.StatusPaid,
	"declined":    models.StatusFailed,
	"canceled":    models.StatusCancelled,
}

type PagSeguro struct {
	client
	baseURL string
	token   string
}

func NewPagSeguro(creds map[string]string, sandbox bool, hc *http.Client) *PagSeguro {
	base := pagSeguroBaseURL
	if sandbox {
		base = pagSeguroSandboxURL
	}
	return &PagSeguro{
		client:  newClient(models.ProviderPagSeguro, hc),
		baseURL: base,
		token:   creds[models.CredToken],
	}
}

func (p *PagSeguro) Provider() models.Provider { return models.ProviderPagSeguro }

type psLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type psCharge struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Links         []psLink `json:"links"`
	PaymentMethod struct {
		Boleto struct {
			Barcode          string `json:"barcode"`
			FormattedBarcode string `json:"formatted_barcode"`
		} `json:"boleto"`
	} `json:"payment_method"`
}

type psOrder struct {
	ID          string `json:"id"`
	ReferenceID string `json:"reference_id"`
	QRCodes     []struct {
		Text  string   `json:"text"`
		Links []psLink `json:"links"`
	} `json:"qr_codes"`
	Charges []psCharge `json:"charges"`
}

// status reports the latest charge status, or WAITING for a PIX order whose
// charge does not exist yet.
func (o psOrder) status() string {
	if len(o.Charges) == 0 {
		return "waiting"
	}
	return o.Charges[len(o.Charges)-1].Status
}

func linkHref(links []psLink, rel string) string {
	for _, l := range links {
		if l.Rel == rel {
			return l.Href
		}
	}
	return ""
}

func (p *PagSeguro) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.token}
}

func (p *PagSeguro) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payer := payerOrEmpty(req.Payer)
	amount := map[string]any{"value": cents(req), "currency": req.Currency}
	body := map[string]any{
		"reference_id": req.Reference,
		"customer": map[string]any{
			"name":   payer.Name,
			"email":  payer.Email,
			"tax_id": payer.Document,
		},
		"items": []map[string]any{{
			"reference_id": req.Entity.ID,
			"name":         req.Description,
			"quantity":     1,
			"unit_amount":  cents(req),
		}},
		"notification_urls": []string{req.URLs.Notification},
	}

	switch req.Method {
	case models.MethodPix:
		body["qr_codes"] = []map[string]any{{"amount": map[string]any{"value": cents(req)}}}
	case models.MethodBoleto:
		body["charges"] = []map[string]any{{
			"reference_id":   req.Reference,
			"description":    req.Description,
			"amount":         amount,
			"payment_method": map[string]any{"type": "BOLETO"},
		}}
	default:
		body["charges"] = []map[string]any{{
			"reference_id": req.Reference,
			"description":  req.Description,
			"amount":       amount,
			"payment_method": map[string]any{
				"type":         string(req.Method),
				"installments": 1,
				"capture":      true,
				"card":         map[string]any{"encrypted": req.CardToken},
			},
		}}
	}

	var out psOrder
	err := p.do(ctx, request{
		op:      "create_charge",
		method:  http.MethodPost,
		url:     p.baseURL + "/orders",
		body:    body,
		headers: p.headers(),
	}, &out)
	if err != nil {
		return nil, err
	}

	checkout := CheckoutPayload{Type: models.CheckoutTransparent}
	if len(out.QRCodes) > 0 {
		checkout.PixCopyPaste = out.QRCodes[0].Text
		checkout.PixQRCode = linkHref(out.QRCodes[0].Links, "QRCODE.PNG")
	}
	if len(out.Charges) > 0 {
		c := out.Charges[0]
		checkout.BoletoBarcode = c.PaymentMethod.Boleto.FormattedBarcode
		checkout.BoletoURL = linkHref(c.Links, "SELF")
	}
	if req.Method == models.MethodCreditCard || req.Method == models.MethodDebitCard {
		checkout.CardToken = req.CardToken
	}

	return &ChargeResult{
		ExternalID: out.ID,
		Status:     canonicalStatus(pagSeguroStatuses, out.status()),
		Checkout:   checkout,
	}, nil
}

func (p *PagSeguro) RefundPayment(ctx context.Context, externalID string, amount *decimal.Decimal) RefundResult {
	order, err := p.order(ctx, externalID)
	if err != nil {
		return refundFailed(err)
	}
	if len(order.Charges) == 0 {
		return refundFailed(p.fail("refund", 0, false, models.ErrNotFound))
	}
	charge := order.Charges[len(order.Charges)-1]

	body := map[string]any{}
	if amount != nil {
		body["amount"] = map[string]any{"value": amount.Shift(2).Round(0).IntPart()}
	}
	var out psCharge
	err = p.do(ctx, request{
		op:      "refund",
		method:  http.MethodPost,
		url:     p.baseURL + "/charges/" + charge.ID + "/cancel",
		body:    body,
		headers: p.headers(),
	}, &out)
	if err != nil {
		return refundFailed(err)
	}
	return RefundResult{Success: true, RefundID: out.ID}
}

func (p *PagSeguro) QueryStatus(ctx context.Context, externalID string) (string, error) {
	order, err := p.order(ctx, externalID)
	if err != nil {
		return "", err
	}
	return canonicalStatus(pagSeguroStatuses, order.status()), nil
}

func (p *PagSeguro) order(ctx context.Context, id string) (*psOrder, error) {
	var out psOrder
	err := p.do(ctx, request{
		op:      "get_order",
		method:  http.MethodGet,
		url:     p.baseURL + "/orders/" + id,
		headers: p.headers(),
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ParseWebhook reads the order notification, which carries the whole order.
func (p *PagSeguro) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	var o psOrder
	if err := decodeWebhook(p.Provider(), raw, &o); err != nil {
		return nil, err
	}
	if o.ID == "" {
		return unknownEvent(p.Provider(), "", raw), nil
	}
	status := ""
	eventID := ""
	if len(o.Charges) > 0 {
		c := o.Charges[len(o.Charges)-1]
		status = canonicalStatus(pagSeguroStatuses, c.Status)
		eventID = c.ID + ":" + c.Status
	}
	return paymentEvent(p.Provider(), "order.updated", eventID, o.ID, status, raw), nil
}
