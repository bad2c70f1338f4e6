package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

const (
	appmaxBaseURL    = "https://admin.appmax.com.br/api/v3"
	appmaxSandboxURL = "https://homolog.sandboxappmax.com.br/api/v3"
)

var appmaxStatuses = map[string]models.Status{
	"pendente":   models.StatusPending,
	"autorizado": models.StatusProcessing,
	"aprovado":   models.StatusPaid,
	"integrado":  models.StatusPaid,
	"cancelado":  models.StatusCancelled,
	"estornado":  models.StatusRefunded,
	"recusado":   models.StatusRejected,
	"expirado":   models.StatusExpired,
}

var appmaxEvents = map[string]models.Status{
	"orderapproved":        models.StatusPaid,
	"orderpaid":            models.StatusPaid,
	"orderpaidbypix":       models.StatusPaid,
	"orderrefund":          models.StatusRefunded,
	"paymentnotauthorized": models.StatusRejected,
	"orderpixexpired":      models.StatusExpired,
	"orderbilletoverdue":   models.StatusExpired,
	"ordercanceled":        models.StatusCancelled,
}

// Appmax authenticates with an access-token field in every body or query.
type Appmax struct {
	client
	baseURL string
	token   string
}

func NewAppmax(creds map[string]string, sandbox bool, hc *http.Client) *Appmax {
	base := appmaxBaseURL
	if sandbox {
		base = appmaxSandboxURL
	}
	return &Appmax{
		client:  newClient(models.ProviderAppmax, hc),
		baseURL: base,
		token:   creds[models.CredAccessToken],
	}
}

func (a *Appmax) Provider() models.Provider { return models.ProviderAppmax }

type appmaxResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Data    struct {
		ID            flexID `json:"id"`
		Status        string `json:"status"`
		PixQRCode     string `json:"pix_qrcode"`
		PixEMV        string `json:"pix_emv"`
		PDF           string `json:"pdf"`
		DigitableLine string `json:"digitable_line"`
	} `json:"data"`
}

func (a *Appmax) post(ctx context.Context, op, path string, body map[string]any) (*appmaxResponse, error) {
	body["access-token"] = a.token
	var out appmaxResponse
	if err := a.do(ctx, request{op: op, method: http.MethodPost, url: a.baseURL + path, body: body}, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, a.fail(op, 0, false, &appmaxError{text: out.Text})
	}
	return &out, nil
}

type appmaxError struct{ text string }

func (e *appmaxError) Error() string { return "appmax: " + e.text }

func appmaxPaymentPath(m models.PaymentMethod) string {
	switch m {
	case models.MethodPix:
		return "/payment/pix"
	case models.MethodBoleto:
		return "/payment/boleto"
	}
	return "/payment/credit-card"
}

// CreateCharge opens an order and then pays it with the requested method.
// The order id is the external reference.
func (a *Appmax) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payer := payerOrEmpty(req.Payer)
	order, err := a.post(ctx, "create_order", "/order", map[string]any{
		"total":        req.Amount.StringFixed(2),
		"freight_type": "Sedex",
		"products": []map[string]any{{
			"sku":             req.Reference,
			"name":            req.Description,
			"qty":             1,
			"price":           req.Amount.StringFixed(2),
			"digital_product": 1,
		}},
	})
	if err != nil {
		return nil, err
	}
	orderID := order.Data.ID.String()

	payment := map[string]any{}
	switch req.Method {
	case models.MethodPix:
		payment["pix"] = map[string]any{"document_number": payer.Document}
	case models.MethodBoleto:
		payment["Boleto"] = map[string]any{"document_number": payer.Document}
	default:
		payment["CreditCard"] = map[string]any{"token": req.CardToken, "installments": 1}
	}
	paid, err := a.post(ctx, "create_charge", appmaxPaymentPath(req.Method), map[string]any{
		"cart":     map[string]any{"order_id": orderID},
		"customer": map[string]any{"name": payer.Name, "email": payer.Email},
		"payment":  payment,
	})
	if err != nil {
		return nil, err
	}

	checkout := CheckoutPayload{
		Type:          models.CheckoutTransparent,
		PixQRCode:     paid.Data.PixQRCode,
		PixCopyPaste:  paid.Data.PixEMV,
		BoletoURL:     paid.Data.PDF,
		BoletoBarcode: paid.Data.DigitableLine,
	}
	if req.Method == models.MethodCreditCard || req.Method == models.MethodDebitCard {
		checkout.CardToken = req.CardToken
	}
	return &ChargeResult{
		ExternalID: orderID,
		Status:     canonicalStatus(appmaxStatuses, paid.Data.Status),
		Checkout:   checkout,
	}, nil
}

func (a *Appmax) RefundPayment(ctx context.Context, externalID string, amount *decimal.Decimal) RefundResult {
	body := map[string]any{"order_id": externalID, "type": "total"}
	if amount != nil {
		body["type"] = "partial"
		body["value"] = amount.StringFixed(2)
	}
	out, err := a.post(ctx, "refund", "/refund", body)
	if err != nil {
		return refundFailed(err)
	}
	return RefundResult{Success: true, RefundID: out.Data.ID.String()}
}

func (a *Appmax) QueryStatus(ctx context.Context, externalID string) (string, error) {
	var out appmaxResponse
	err := a.do(ctx, request{
		op:     "query_status",
		method: http.MethodGet,
		url:    a.baseURL + "/order/" + externalID + "?access-token=" + a.token,
	}, &out)
	if err != nil {
		return "", err
	}
	return canonicalStatus(appmaxStatuses, out.Data.Status), nil
}

func (a *Appmax) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	var n struct {
		Event string `json:"event"`
		Data  struct {
			ID     flexID `json:"id"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := decodeWebhook(a.Provider(), raw, &n); err != nil {
		return nil, err
	}
	if n.Data.ID == "" {
		return unknownEvent(a.Provider(), n.Event, raw), nil
	}
	status := ""
	if s, ok := appmaxEvents[strings.ToLower(n.Event)]; ok {
		status = string(s)
	} else if n.Data.Status != "" {
		status = canonicalStatus(appmaxStatuses, n.Data.Status)
	}
	return paymentEvent(a.Provider(), n.Event, n.Event+":"+n.Data.ID.String(), n.Data.ID.String(), status, raw), nil
}
