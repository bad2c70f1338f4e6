package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

const (
	asaasBaseURL    = "https://api.asaas.com/v3"
	asaasSandboxURL = "https://api-sandbox.asaas.com/v3"
	asaasDueDays    = 3
)

var asaasStatuses = map[string]models.Status{
	"pending":                models.StatusPending,
	"awaiting_risk_analysis": models.StatusProcessing,
	"received":               models.StatusPaid,
	"confirmed":              models.StatusPaid,
	"received_in_cash":       models.StatusPaid,
	"overdue":                models.StatusExpired,
	"refunded":               models.StatusRefunded,
	"refund_requested":       models.StatusPaid,
	"chargeback_requested":   models.StatusPaid,
	"deleted":                models.StatusCancelled,

	"payment_reproved_by_risk_analysis": models.StatusRejected,
}

// asaasEvents maps webhook event names to the status they announce, for
// payloads whose payment.status lags behind the event.
var asaasEvents = map[string]models.Status{
	"payment_received":  models.StatusPaid,
	"payment_confirmed": models.StatusPaid,
	"payment_overdue":   models.StatusExpired,
	"payment_refunded":  models.StatusRefunded,
	"payment_deleted":   models.StatusCancelled,

	"payment_reproved_by_risk_analysis": models.StatusRejected,
}

type Asaas struct {
	client
	baseURL    string
	apiKey     string
	customerID string
	now        func() time.Time
}

func NewAsaas(creds map[string]string, sandbox bool, hc *http.Client) *Asaas {
	base := asaasBaseURL
	if sandbox {
		base = asaasSandboxURL
	}
	return &Asaas{
		client:     newClient(models.ProviderAsaas, hc),
		baseURL:    base,
		apiKey:     creds[models.CredAPIKey],
		customerID: creds[models.CredCustomerID],
		now:        time.Now,
	}
}

func (a *Asaas) Provider() models.Provider { return models.ProviderAsaas }

type asaasPayment struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	InvoiceURL        string `json:"invoiceUrl"`
	BankSlipURL       string `json:"bankSlipUrl"`
	ExternalReference string `json:"externalReference"`
}

func (a *Asaas) headers() map[string]string {
	return map[string]string{"access_token": a.apiKey}
}

func asaasBillingType(m models.PaymentMethod) string {
	switch m {
	case models.MethodPix:
		return "PIX"
	case models.MethodBoleto:
		return "BOLETO"
	case models.MethodDebitCard:
		return "DEBIT_CARD"
	}
	return "CREDIT_CARD"
}

func (a *Asaas) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body := map[string]any{
		"customer":          a.customerID,
		"billingType":       asaasBillingType(req.Method),
		"value":             req.Amount.StringFixed(2),
		"dueDate":           a.now().AddDate(0, 0, asaasDueDays).Format("2006-01-02"),
		"description":       req.Description,
		"externalReference": req.Reference,
	}
	if req.CardToken != "" {
		body["creditCardToken"] = req.CardToken
	}

	var out asaasPayment
	err := a.do(ctx, request{
		op:      "create_charge",
		method:  http.MethodPost,
		url:     a.baseURL + "/payments",
		body:    body,
		headers: a.headers(),
	}, &out)
	if err != nil {
		return nil, err
	}

	checkout := CheckoutPayload{Type: models.CheckoutTransparent, URL: out.InvoiceURL}
	switch req.Method {
	case models.MethodPix:
		var qr struct {
			EncodedImage string `json:"encodedImage"`
			Payload      string `json:"payload"`
		}
		err := a.do(ctx, request{
			op:      "pix_qrcode",
			method:  http.MethodGet,
			url:     a.baseURL + "/payments/" + out.ID + "/pixQrCode",
			headers: a.headers(),
		}, &qr)
		if err != nil {
			return nil, err
		}
		checkout.PixQRCode = qr.EncodedImage
		checkout.PixCopyPaste = qr.Payload
	case models.MethodBoleto:
		checkout.BoletoURL = out.BankSlipURL
	default:
		checkout.CardToken = req.CardToken
	}

	return &ChargeResult{
		ExternalID: out.ID,
		Status:     canonicalStatus(asaasStatuses, out.Status),
		Checkout:   checkout,
	}, nil
}

func (a *Asaas) RefundPayment(ctx context.Context, externalID string, amount *decimal.Decimal) RefundResult {
	body := map[string]any{}
	if amount != nil {
		body["value"] = amount.StringFixed(2)
	}
	var out asaasPayment
	err := a.do(ctx, request{
		op:      "refund",
		method:  http.MethodPost,
		url:     a.baseURL + "/payments/" + externalID + "/refund",
		body:    body,
		headers: a.headers(),
	}, &out)
	if err != nil {
		return refundFailed(err)
	}
	return RefundResult{Success: true, RefundID: out.ID}
}

func (a *Asaas) QueryStatus(ctx context.Context, externalID string) (string, error) {
	var out asaasPayment
	err := a.do(ctx, request{
		op:      "query_status",
		method:  http.MethodGet,
		url:     a.baseURL + "/payments/" + externalID,
		headers: a.headers(),
	}, &out)
	if err != nil {
		return "", err
	}
	return canonicalStatus(asaasStatuses, out.Status), nil
}

func (a *Asaas) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	var n struct {
		ID      string       `json:"id"`
		Event   string       `json:"event"`
		Payment asaasPayment `json:"payment"`
	}
	if err := decodeWebhook(a.Provider(), raw, &n); err != nil {
		return nil, err
	}
	if n.Payment.ID == "" {
		return unknownEvent(a.Provider(), n.Event, raw), nil
	}
	status := canonicalStatus(asaasEvents, n.Event)
	if _, known := asaasEvents[lower(n.Event)]; !known {
		status = canonicalStatus(asaasStatuses, n.Payment.Status)
	}
	return paymentEvent(a.Provider(), n.Event, n.ID, n.Payment.ID, status, raw), nil
}
