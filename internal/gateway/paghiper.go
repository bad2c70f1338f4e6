package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

const (
	pagHiperPixURL    = "https://pix.paghiper.com"
	pagHiperBoletoURL = "https://api.paghiper.com"
	pagHiperDueDays   = 3
)

var pagHiperStatuses = map[string]models.Status{
	"pending":    models.StatusPending,
	"reserved":   models.StatusProcessing,
	"processing": models.StatusProcessing,
	"paid":       models.StatusPaid,
	"completed":  models.StatusPaid,
	"canceled":   models.StatusCancelled,
	"refunded":   models.StatusRefunded,
}

// PagHiper issues PIX and boleto invoices from two hosts that share one
// request shape. It has no sandbox host.
type PagHiper struct {
	client
	pixURL    string
	boletoURL string
	apiKey    string
	token     string
}

func NewPagHiper(creds map[string]string, hc *http.Client) *PagHiper {
	return &PagHiper{
		client:    newClient(models.ProviderPagHiper, hc),
		pixURL:    pagHiperPixURL,
		boletoURL: pagHiperBoletoURL,
		apiKey:    creds[models.CredAPIKey],
		token:     creds[models.CredToken],
	}
}

func (p *PagHiper) Provider() models.Provider { return models.ProviderPagHiper }

type phResult struct {
	Result        string `json:"result"`
	ResponseMsg   string `json:"response_message"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	PixCode       struct {
		QRCodeBase64 string `json:"qrcode_base64"`
		EMV          string `json:"emv"`
		PixURL       string `json:"pix_url"`
	} `json:"pix_code"`
	BankSlip struct {
		DigitableLine string `json:"digitable_line"`
		URLSlip       string `json:"url_slip"`
	} `json:"bank_slip"`
}

func (r phResult) ok() bool { return r.Result == "success" }

// phEnvelope unwraps whichever top-level request key PagHiper answered with.
type phEnvelope map[string]phResult

func (e phEnvelope) first() phResult {
	for _, v := range e {
		return v
	}
	return phResult{}
}

func (p *PagHiper) call(ctx context.Context, op, base, path string, body map[string]any) (phResult, error) {
	body["apiKey"] = p.apiKey
	body["token"] = p.token
	var env phEnvelope
	if err := p.do(ctx, request{op: op, method: http.MethodPost, url: base + path, body: body}, &env); err != nil {
		return phResult{}, err
	}
	res := env.first()
	if !res.ok() {
		return res, p.fail(op, 0, false, &phError{msg: res.ResponseMsg})
	}
	return res, nil
}

type phError struct{ msg string }

func (e *phError) Error() string { return "paghiper: " + e.msg }

func (p *PagHiper) baseFor(m models.PaymentMethod) string {
	if m == models.MethodPix {
		return p.pixURL
	}
	return p.boletoURL
}

func (p *PagHiper) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Method != models.MethodPix && req.Method != models.MethodBoleto {
		return nil, p.fail("create_charge", 0, false, &phError{msg: "unsupported payment method " + string(req.Method)})
	}
	payer := payerOrEmpty(req.Payer)
	res, err := p.call(ctx, "create_charge", p.baseFor(req.Method), "/invoice/create/", map[string]any{
		"order_id":         req.Reference,
		"payer_email":      payer.Email,
		"payer_name":       payer.Name,
		"payer_cpf_cnpj":   payer.Document,
		"payer_phone":      payer.Phone,
		"days_due_date":    pagHiperDueDays,
		"notification_url": req.URLs.Notification,
		"items": []map[string]any{{
			"description": req.Description,
			"quantity":    1,
			"item_id":     req.Entity.ID,
			"price_cents": cents(req),
		}},
	})
	if err != nil {
		return nil, err
	}

	checkout := CheckoutPayload{Type: models.CheckoutTransparent}
	if req.Method == models.MethodPix {
		checkout.PixQRCode = res.PixCode.QRCodeBase64
		checkout.PixCopyPaste = res.PixCode.EMV
		checkout.URL = res.PixCode.PixURL
	} else {
		checkout.BoletoURL = res.BankSlip.URLSlip
		checkout.BoletoBarcode = res.BankSlip.DigitableLine
	}
	return &ChargeResult{
		ExternalID: res.TransactionID,
		Status:     string(models.StatusPending),
		Checkout:   checkout,
	}, nil
}

// RefundPayment cancels the invoice. PagHiper only cancels unpaid invoices
// through the API, which surfaces as a failed refund for paid ones.
func (p *PagHiper) RefundPayment(ctx context.Context, externalID string, _ *decimal.Decimal) RefundResult {
	res, err := p.call(ctx, "refund", p.pixURL, "/invoice/cancel/", map[string]any{
		"transaction_id": externalID,
		"status":         "canceled",
	})
	if err != nil {
		return refundFailed(err)
	}
	return RefundResult{Success: true, RefundID: res.TransactionID}
}

func (p *PagHiper) QueryStatus(ctx context.Context, externalID string) (string, error) {
	res, err := p.call(ctx, "query_status", p.pixURL, "/invoice/status/", map[string]any{
		"transaction_id": externalID,
	})
	if err != nil {
		return "", err
	}
	return canonicalStatus(pagHiperStatuses, res.Status), nil
}

// ParseWebhook reads the form-encoded notification. It only names the
// transaction; the status must be queried.
func (p *PagHiper) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	fields := map[string]string{}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var body map[string]any
		if err := decodeWebhook(p.Provider(), raw, &body); err != nil {
			return nil, err
		}
		for k, v := range body {
			fields[k] = fmt.Sprint(v)
		}
	} else {
		values, err := url.ParseQuery(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse %s webhook: %w", p.Provider(), err)
		}
		for k := range values {
			fields[k] = values.Get(k)
		}
	}

	txID := fields["transaction_id"]
	if txID == "" {
		return unknownEvent(p.Provider(), "", raw), nil
	}
	return paymentEvent(p.Provider(), "notification", fields["notification_id"], txID, "", raw), nil
}
