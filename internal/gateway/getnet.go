package gateway

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

const (
	getnetBaseURL    = "https://api.getnet.com.br"
	getnetSandboxURL = "https://api-homologacao.getnet.com.br"
)

var getnetStatuses = map[string]models.Status{
	"pending":    models.StatusPending,
	"waiting":    models.StatusPending,
	"authorized": models.StatusProcessing,
	"approved":   models.StatusPaid,
	"confirmed":  models.StatusPaid,
	"paid":       models.StatusPaid,
	"denied":     models.StatusRejected,
	"canceled":   models.StatusCancelled,
	"error":      models.StatusFailed,
}

// Getnet uses OAuth client credentials; the bearer token is cached until
// shortly before it expires.
type Getnet struct {
	client
	baseURL      string
	clientID     string
	clientSecret string
	sellerID     string

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewGetnet(creds map[string]string, sandbox bool, hc *http.Client) *Getnet {
	base := getnetBaseURL
	if sandbox {
		base = getnetSandboxURL
	}
	return &Getnet{
		client:       newClient(models.ProviderGetnet, hc),
		baseURL:      base,
		clientID:     creds[models.CredClientID],
		clientSecret: creds[models.CredClientSecret],
		sellerID:     creds[models.CredSellerID],
	}
}

func (g *Getnet) Provider() models.Provider { return models.ProviderGetnet }

func (g *Getnet) accessToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.token != "" && time.Now().Before(g.expiresAt) {
		return g.token, nil
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := g.do(ctx, request{
		op:        "oauth",
		method:    http.MethodPost,
		url:       g.baseURL + "/auth/oauth/v2/token",
		form:      url.Values{"scope": {"oob"}, "grant_type": {"client_credentials"}},
		basicUser: g.clientID,
		basicPass: g.clientSecret,
	}, &out)
	if err != nil {
		return "", err
	}
	g.token = out.AccessToken
	g.expiresAt = time.Now().Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return g.token, nil
}

func (g *Getnet) authed(ctx context.Context, r request, out any) error {
	token, err := g.accessToken(ctx)
	if err != nil {
		return err
	}
	r.headers = map[string]string{"Authorization": "Bearer " + token, "seller_id": g.sellerID}
	return g.do(ctx, r, out)
}

type getnetPayment struct {
	PaymentID      string `json:"payment_id"`
	Status         string `json:"status"`
	AdditionalData struct {
		QRCode string `json:"qr_code"`
	} `json:"additional_data"`
	Boleto struct {
		TypefulLine string `json:"typeful_line"`
		Links       []struct {
			Href string `json:"href"`
		} `json:"_links"`
	} `json:"boleto"`
}

func (g *Getnet) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	payer := payerOrEmpty(req.Payer)
	body := map[string]any{
		"seller_id":   g.sellerID,
		"amount":      cents(req),
		"currency":    req.Currency,
		"order_id":    req.Reference,
		"customer_id": payer.Document,
	}
	path := "/v1/payments/credit"
	switch req.Method {
	case models.MethodPix:
		path = "/v1/payments/qrcode/pix"
	case models.MethodBoleto:
		path = "/v1/payments/boleto"
		body["order"] = map[string]any{"order_id": req.Reference}
		body["boleto"] = map[string]any{"document_number": req.Reference, "instructions": req.Description}
		body["customer"] = map[string]any{"name": payer.Name, "document_number": payer.Document}
	case models.MethodDebitCard:
		path = "/v1/payments/debit"
		body["debit"] = map[string]any{"card": map[string]any{"number_token": req.CardToken}}
	default:
		body["credit"] = map[string]any{"delayed": false, "number_installments": 1, "card": map[string]any{"number_token": req.CardToken}}
	}

	var out getnetPayment
	if err := g.authed(ctx, request{op: "create_charge", method: http.MethodPost, url: g.baseURL + path, body: body}, &out); err != nil {
		return nil, err
	}

	checkout := CheckoutPayload{
		Type:          models.CheckoutTransparent,
		PixCopyPaste:  out.AdditionalData.QRCode,
		BoletoBarcode: out.Boleto.TypefulLine,
	}
	if len(out.Boleto.Links) > 0 {
		checkout.BoletoURL = g.baseURL + out.Boleto.Links[0].Href
	}
	if req.Method == models.MethodCreditCard || req.Method == models.MethodDebitCard {
		checkout.CardToken = req.CardToken
	}
	return &ChargeResult{
		ExternalID: out.PaymentID,
		Status:     canonicalStatus(getnetStatuses, out.Status),
		Checkout:   checkout,
	}, nil
}

func (g *Getnet) RefundPayment(ctx context.Context, externalID string, amount *decimal.Decimal) RefundResult {
	body := map[string]any{"payment_id": externalID}
	if amount != nil {
		body["cancel_amount"] = amount.Shift(2).Round(0).IntPart()
	}
	var out struct {
		CancelRequestID string `json:"cancel_request_id"`
	}
	err := g.authed(ctx, request{op: "refund", method: http.MethodPost, url: g.baseURL + "/v1/payments/cancel/request", body: body}, &out)
	if err != nil {
		return refundFailed(err)
	}
	return RefundResult{Success: true, RefundID: out.CancelRequestID}
}

func (g *Getnet) QueryStatus(ctx context.Context, externalID string) (string, error) {
	var out getnetPayment
	if err := g.authed(ctx, request{op: "query_status", method: http.MethodGet, url: g.baseURL + "/v1/payments/" + externalID}, &out); err != nil {
		return "", err
	}
	return canonicalStatus(getnetStatuses, out.Status), nil
}

func (g *Getnet) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	var n struct {
		PaymentType string `json:"payment_type"`
		PaymentID   string `json:"payment_id"`
		OrderID     string `json:"order_id"`
		Status      string `json:"status"`
	}
	if err := decodeWebhook(g.Provider(), raw, &n); err != nil {
		return nil, err
	}
	if n.PaymentID == "" {
		return unknownEvent(g.Provider(), n.PaymentType, raw), nil
	}
	return paymentEvent(g.Provider(), n.PaymentType, n.PaymentID+":"+n.Status, n.PaymentID, canonicalStatus(getnetStatuses, n.Status), raw), nil
}
