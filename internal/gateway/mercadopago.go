package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

const mercadoPagoBaseURL = "https://api.mercadopago.com"

var mercadoPagoStatuses = map[string]models.Status{
	"pending":      models.StatusPending,
	"in_process":   models.StatusProcessing,
	"in_mediation": models.StatusProcessing,
	"authorized":   models.StatusProcessing,
	"approved":     models.StatusPaid,
	"rejected":     models.StatusRejected,
	"cancelled":    models.StatusCancelled,
	"refunded":     models.StatusRefunded,
	"charged_back": models.StatusRefunded,
}

// MercadoPago talks to the /v1/payments API. Sandbox and live share a host
// and differ only by access token.
type MercadoPago struct {
	client
	baseURL string
	token   string
}

func NewMercadoPago(creds map[string]string, hc *http.Client) *MercadoPago {
	return &MercadoPago{
		client:  newClient(models.ProviderMercadoPago, hc),
		baseURL: mercadoPagoBaseURL,
		token:   creds[models.CredAccessToken],
	}
}

func (m *MercadoPago) Provider() models.Provider { return models.ProviderMercadoPago }

type mpPayment struct {
	ID                 flexID `json:"id"`
	Status             string `json:"status"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
	} `json:"transaction_details"`
	Barcode struct {
		Content string `json:"content"`
	} `json:"barcode"`
}

func (m *MercadoPago) headers(idempotencyKey string) map[string]string {
	h := map[string]string{"Authorization": "Bearer " + m.token}
	if idempotencyKey != "" {
		h["X-Idempotency-Key"] = idempotencyKey
	}
	return h
}

func mercadoPagoMethod(method models.PaymentMethod) string {
	switch method {
	case models.MethodPix:
		return "pix"
	case models.MethodBoleto:
		return "bolbradesco"
	}
	return ""
}

func (m *MercadoPago) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payer := payerOrEmpty(req.Payer)
	body := map[string]any{
		"transaction_amount": req.Amount.InexactFloat64(),
		"description":        req.Description,
		"external_reference": req.Reference,
		"notification_url":   req.URLs.Notification,
		"payer": map[string]any{
			"email":          payer.Email,
			"first_name":     payer.Name,
			"identification": map[string]string{"type": "CPF", "number": payer.Document},
		},
	}
	if pm := mercadoPagoMethod(req.Method); pm != "" {
		body["payment_method_id"] = pm
	} else {
		body["token"] = req.CardToken
		body["installments"] = 1
	}

	var out mpPayment
	err := m.do(ctx, request{
		op:      "create_charge",
		method:  http.MethodPost,
		url:     m.baseURL + "/v1/payments",
		body:    body,
		headers: m.headers(req.Reference),
	}, &out)
	if err != nil {
		return nil, err
	}

	checkout := CheckoutPayload{Type: models.CheckoutTransparent}
	switch req.Method {
	case models.MethodPix:
		checkout.PixCopyPaste = out.PointOfInteraction.TransactionData.QRCode
		checkout.PixQRCode = out.PointOfInteraction.TransactionData.QRCodeBase64
		checkout.URL = out.PointOfInteraction.TransactionData.TicketURL
	case models.MethodBoleto:
		checkout.BoletoURL = out.TransactionDetails.ExternalResourceURL
		checkout.BoletoBarcode = out.Barcode.Content
	default:
		checkout.CardToken = req.CardToken
	}

	return &ChargeResult{
		ExternalID: out.ID.String(),
		Status:     canonicalStatus(mercadoPagoStatuses, out.Status),
		Checkout:   checkout,
	}, nil
}

func (m *MercadoPago) RefundPayment(ctx context.Context, externalID string, amount *decimal.Decimal) RefundResult {
	body := map[string]any{}
	if amount != nil {
		body["amount"] = amount.InexactFloat64()
	}
	var out struct {
		ID flexID `json:"id"`
	}
	err := m.do(ctx, request{
		op:      "refund",
		method:  http.MethodPost,
		url:     m.baseURL + "/v1/payments/" + externalID + "/refunds",
		body:    body,
		headers: m.headers("refund-" + externalID),
	}, &out)
	if err != nil {
		return refundFailed(err)
	}
	return RefundResult{Success: true, RefundID: out.ID.String()}
}

func (m *MercadoPago) QueryStatus(ctx context.Context, externalID string) (string, error) {
	var out mpPayment
	err := m.do(ctx, request{
		op:      "query_status",
		method:  http.MethodGet,
		url:     m.baseURL + "/v1/payments/" + externalID,
		headers: m.headers(""),
	}, &out)
	if err != nil {
		return "", err
	}
	return canonicalStatus(mercadoPagoStatuses, out.Status), nil
}

// ParseWebhook handles the v1 notification shape. MercadoPago does not send
// the status, so ReportedStatus stays empty and the caller queries it.
func (m *MercadoPago) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	var n struct {
		ID     flexID `json:"id"`
		Type   string `json:"type"`
		Action string `json:"action"`
		Data   struct {
			ID flexID `json:"id"`
		} `json:"data"`
	}
	if err := decodeWebhook(m.Provider(), raw, &n); err != nil {
		return nil, err
	}
	name := n.Action
	if name == "" {
		name = n.Type
	}
	if n.Type != "payment" && !strings.HasPrefix(n.Action, "payment.") {
		return unknownEvent(m.Provider(), name, raw), nil
	}
	return paymentEvent(m.Provider(), name, n.ID.String(), n.Data.ID.String(), "", raw), nil
}
