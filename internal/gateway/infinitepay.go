package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

const infinitePayBaseURL = "https://api.infinitepay.io/invoices/public/checkout"

var errInfinitePayRefund = errors.New("infinitepay refunds are issued from the merchant dashboard")

// InfinitePay checkout links are keyed by our own order reference, so the
// protocol doubles as the external id.
type InfinitePay struct {
	client
	baseURL string
	handle  string
}

func NewInfinitePay(creds map[string]string, hc *http.Client) *InfinitePay {
	return &InfinitePay{
		client:  newClient(models.ProviderInfinitePay, hc),
		baseURL: infinitePayBaseURL,
		handle:  creds[models.CredHandle],
	}
}

func (i *InfinitePay) Provider() models.Provider { return models.ProviderInfinitePay }

func (i *InfinitePay) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var out struct {
		URL string `json:"url"`
	}
	err := i.do(ctx, request{
		op:     "create_charge",
		method: http.MethodPost,
		url:    i.baseURL + "/links",
		body: map[string]any{
			"handle":       i.handle,
			"order_nsu":    req.Reference,
			"redirect_url": req.URLs.Success,
			"webhook_url":  req.URLs.Notification,
			"items": []map[string]any{{
				"quantity":    1,
				"price":       cents(req),
				"description": req.Description,
			}},
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &ChargeResult{
		ExternalID: req.Reference,
		Status:     string(models.StatusPending),
		Checkout:   CheckoutPayload{Type: models.CheckoutRedirect, URL: out.URL},
	}, nil
}

func (i *InfinitePay) RefundPayment(_ context.Context, _ string, _ *decimal.Decimal) RefundResult {
	return refundFailed(i.fail("refund", 0, false, errInfinitePayRefund))
}

func (i *InfinitePay) QueryStatus(ctx context.Context, externalID string) (string, error) {
	var out struct {
		Success bool `json:"success"`
		Paid    bool `json:"paid"`
	}
	err := i.do(ctx, request{
		op:     "query_status",
		method: http.MethodPost,
		url:    i.baseURL + "/payment_check",
		body:   map[string]any{"handle": i.handle, "order_nsu": externalID},
	}, &out)
	if err != nil {
		return "", err
	}
	if out.Paid {
		return string(models.StatusPaid), nil
	}
	return string(models.StatusPending), nil
}

// ParseWebhook handles the approval callback, the only one InfinitePay sends.
func (i *InfinitePay) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	var n struct {
		InvoiceSlug    string `json:"invoice_slug"`
		OrderNSU       string `json:"order_nsu"`
		TransactionNSU string `json:"transaction_nsu"`
		PaidAmount     int64  `json:"paid_amount"`
	}
	if err := decodeWebhook(i.Provider(), raw, &n); err != nil {
		return nil, err
	}
	if n.OrderNSU == "" {
		return unknownEvent(i.Provider(), "", raw), nil
	}
	return paymentEvent(i.Provider(), "payment.approved", n.TransactionNSU, n.OrderNSU, string(models.StatusPaid), raw), nil
}
