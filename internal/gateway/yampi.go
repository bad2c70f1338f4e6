package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

const yampiBaseURL = "https://api.dooki.com.br/v2/"

var yampiStatuses = map[string]models.Status{
	"waiting_payment": models.StatusPending,
	"on_hold":         models.StatusProcessing,
	"paid":            models.StatusPaid,
	"invoiced":        models.StatusPaid,
	"shipped":         models.StatusPaid,
	"delivered":       models.StatusPaid,
	"cancelled":       models.StatusCancelled,
	"refused":         models.StatusRejected,
	"refunded":        models.StatusRefunded,
}

var errYampiRefund = errors.New("yampi does not expose refunds through the API")

// Yampi is a hosted checkout: a payment link is created and the payer is
// redirected to it.
type Yampi struct {
	client
	baseURL   string
	alias     string
	token     string
	secretKey string
}

func NewYampi(creds map[string]string, hc *http.Client) *Yampi {
	return &Yampi{
		client:    newClient(models.ProviderYampi, hc),
		baseURL:   yampiBaseURL,
		alias:     creds[models.CredAlias],
		token:     creds[models.CredToken],
		secretKey: creds[models.CredSecretKey],
	}
}

func (y *Yampi) Provider() models.Provider { return models.ProviderYampi }

func (y *Yampi) req(op, method, path string, body any) request {
	return request{
		op:     op,
		method: method,
		url:    y.baseURL + y.alias + path,
		body:   body,
		headers: map[string]string{
			"User-Token":      y.token,
			"User-Secret-Key": y.secretKey,
		},
	}
}

type yampiStatus struct {
	Data struct {
		Alias string `json:"alias"`
	} `json:"data"`
}

type yampiOrder struct {
	ID     flexID      `json:"id"`
	Number flexID      `json:"number"`
	Status yampiStatus `json:"status"`
}

func (y *Yampi) CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var out struct {
		Data struct {
			ID      flexID `json:"id"`
			LinkURL string `json:"link_url"`
		} `json:"data"`
	}
	err := y.do(ctx, y.req("create_charge", http.MethodPost, "/checkout/payment-link", map[string]any{
		"name":   req.Reference,
		"active": true,
		"skus": []map[string]any{{
			"name":     req.Description,
			"price":    req.Amount.StringFixed(2),
			"quantity": 1,
		}},
		"metadata": map[string]any{"reference": req.Reference},
	}), &out)
	if err != nil {
		return nil, err
	}
	return &ChargeResult{
		ExternalID: out.Data.ID.String(),
		Status:     string(models.StatusPending),
		Checkout:   CheckoutPayload{Type: models.CheckoutRedirect, URL: out.Data.LinkURL},
	}, nil
}

func (y *Yampi) RefundPayment(_ context.Context, _ string, _ *decimal.Decimal) RefundResult {
	return refundFailed(y.fail("refund", 0, false, errYampiRefund))
}

func (y *Yampi) QueryStatus(ctx context.Context, externalID string) (string, error) {
	var out struct {
		Data yampiOrder `json:"data"`
	}
	if err := y.do(ctx, y.req("query_status", http.MethodGet, "/orders/"+externalID, nil), &out); err != nil {
		return "", err
	}
	return canonicalStatus(yampiStatuses, out.Data.Status.Data.Alias), nil
}

func (y *Yampi) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	var n struct {
		Event    string     `json:"event"`
		Resource yampiOrder `json:"resource"`
	}
	if err := decodeWebhook(y.Provider(), raw, &n); err != nil {
		return nil, err
	}
	if n.Resource.ID == "" {
		return unknownEvent(y.Provider(), n.Event, raw), nil
	}
	alias := n.Resource.Status.Data.Alias
	status := ""
	if alias != "" {
		status = canonicalStatus(yampiStatuses, alias)
	}
	return paymentEvent(y.Provider(), n.Event, n.Event+":"+n.Resource.ID.String()+":"+alias, n.Resource.ID.String(), status, raw), nil
}
