package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/registry"
)

func pixRequest() ChargeRequest {
	return ChargeRequest{
		Reference:   "PAY-20240115-4821",
		Amount:      decimal.RequireFromString("150.00"),
		Currency:    "BRL",
		Method:      models.MethodPix,
		Description: "Club registration",
		Payer:       &models.Payer{Name: "Ana", Email: "ana@example.com", Document: "12345678909"},
		Entity:      models.EntityRef{Kind: models.EntityClubRegistration, ID: "club-7"},
		URLs:        models.GatewayURLs{Notification: "https://pay.example.com/webhooks/mercadopago"},
	}
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestMercadoPago_CreatePixCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "PAY-20240115-4821", r.Header.Get("X-Idempotency-Key"))

		body := decodeBody(t, r)
		assert.Equal(t, "pix", body["payment_method_id"])
		assert.Equal(t, "PAY-20240115-4821", body["external_reference"])
		assert.EqualValues(t, 150, body["transaction_amount"])

		_, _ = w.Write([]byte(`{"id": 987654321, "status": "pending",
			"point_of_interaction": {"transaction_data": {"qr_code": "000201...", "qr_code_base64": "iVBOR", "ticket_url": "https://mp/ticket"}}}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(map[string]string{models.CredAccessToken: "tok"}, srv.Client())
	mp.baseURL = srv.URL

	res, err := mp.CreateCharge(context.Background(), pixRequest())
	require.NoError(t, err)
	assert.Equal(t, "987654321", res.ExternalID)
	assert.Equal(t, "PENDING", res.Status)
	assert.Equal(t, "000201...", res.Checkout.PixCopyPaste)
	assert.Equal(t, "iVBOR", res.Checkout.PixQRCode)
	assert.Equal(t, models.CheckoutTransparent, res.Checkout.Type)
}

func TestMercadoPago_WebhookHasNoStatus(t *testing.T) {
	mp := NewMercadoPago(nil, nil)
	ev, err := mp.ParseWebhook([]byte(`{"id": 12, "type": "payment", "action": "payment.updated", "data": {"id": "987"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventPaymentStatus, ev.Kind)
	assert.Equal(t, "987", ev.ExternalID)
	assert.Empty(t, ev.ReportedStatus)

	ev, err = mp.ParseWebhook([]byte(`{"type": "plan", "data": {"id": "1"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventUnknown, ev.Kind)

	_, err = mp.ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}

func TestMercadoPago_QueryStatusMapsVocabulary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/987", r.URL.Path)
		_, _ = w.Write([]byte(`{"id": 987, "status": "approved"}`))
	}))
	defer srv.Close()

	mp := NewMercadoPago(map[string]string{models.CredAccessToken: "tok"}, srv.Client())
	mp.baseURL = srv.URL

	status, err := mp.QueryStatus(context.Background(), "987")
	require.NoError(t, err)
	assert.Equal(t, "PAID", status)
}

func TestAsaas_CreatePixFetchesQRCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("access_token"))
		switch r.URL.Path {
		case "/payments":
			body := decodeBody(t, r)
			assert.Equal(t, "PIX", body["billingType"])
			assert.Equal(t, "150.00", body["value"])
			assert.Equal(t, "cus_1", body["customer"])
			_, _ = w.Write([]byte(`{"id": "pay_1", "status": "PENDING", "invoiceUrl": "https://asaas/i/pay_1"}`))
		case "/payments/pay_1/pixQrCode":
			_, _ = w.Write([]byte(`{"encodedImage": "img", "payload": "000201"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := NewAsaas(map[string]string{models.CredAPIKey: "key", models.CredCustomerID: "cus_1"}, false, srv.Client())
	a.baseURL = srv.URL

	res, err := a.CreateCharge(context.Background(), pixRequest())
	require.NoError(t, err)
	assert.Equal(t, "pay_1", res.ExternalID)
	assert.Equal(t, "000201", res.Checkout.PixCopyPaste)
	assert.Equal(t, "https://asaas/i/pay_1", res.Checkout.URL)
}

func TestAsaas_ParseWebhook(t *testing.T) {
	a := NewAsaas(nil, true, nil)
	assert.Equal(t, asaasSandboxURL, a.baseURL)

	ev, err := a.ParseWebhook([]byte(`{"id": "evt_1", "event": "PAYMENT_RECEIVED", "payment": {"id": "pay_1", "status": "PENDING"}}`))
	require.NoError(t, err)
	assert.Equal(t, "pay_1", ev.ExternalID)
	assert.Equal(t, "PAID", ev.ReportedStatus, "event name wins over a lagging payment status")
	assert.Equal(t, "evt_1", ev.EventID)

	ev, err = a.ParseWebhook([]byte(`{"id": "evt_2", "event": "PAYMENT_UPDATED", "payment": {"id": "pay_1", "status": "CONFIRMED"}}`))
	require.NoError(t, err)
	assert.Equal(t, "PAID", ev.ReportedStatus)
}

func TestAsaas_RefundFailureIsTagged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewAsaas(map[string]string{models.CredAPIKey: "key"}, false, srv.Client())
	a.baseURL = srv.URL

	res := a.RefundPayment(context.Background(), "pay_1", nil)
	assert.False(t, res.Success)
	require.Error(t, res.Err)
	assert.True(t, models.IsRetryable(res.Err))
}

func TestPagSeguro_QueryStatusUsesLatestCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/ORDE_1", r.URL.Path)
		_, _ = w.Write([]byte(`{"id": "ORDE_1", "charges": [{"id": "CHAR_1", "status": "DECLINED"}, {"id": "CHAR_2", "status": "PAID"}]}`))
	}))
	defer srv.Close()

	p := NewPagSeguro(map[string]string{models.CredToken: "t"}, false, srv.Client())
	p.baseURL = srv.URL

	status, err := p.QueryStatus(context.Background(), "ORDE_1")
	require.NoError(t, err)
	assert.Equal(t, "PAID", status)
}

func TestPagHiper_FormWebhook(t *testing.T) {
	p := NewPagHiper(nil, nil)
	ev, err := p.ParseWebhook([]byte(`apiKey=apk_1&transaction_id=HF97T5SH2ZQNLF6Z&notification_id=W6QM6MORZW4KUENC0NU6ZD8BCJKY`))
	require.NoError(t, err)
	assert.Equal(t, models.EventPaymentStatus, ev.Kind)
	assert.Equal(t, "HF97T5SH2ZQNLF6Z", ev.ExternalID)
	assert.Equal(t, "W6QM6MORZW4KUENC0NU6ZD8BCJKY", ev.EventID)
	assert.Empty(t, ev.ReportedStatus)
}

func TestPagHiper_RejectsCards(t *testing.T) {
	p := NewPagHiper(nil, nil)
	req := pixRequest()
	req.Method = models.MethodCreditCard
	_, err := p.CreateCharge(context.Background(), req)
	require.Error(t, err)
	assert.False(t, models.IsRetryable(err))
}

func TestPagarme_ChargeWebhookUsesOrderID(t *testing.T) {
	p := NewPagarme(nil, nil)
	ev, err := p.ParseWebhook([]byte(`{"id": "hook_1", "type": "charge.paid", "data": {"id": "ch_1", "status": "paid", "order": {"id": "or_1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "or_1", ev.ExternalID)
	assert.Equal(t, "PAID", ev.ReportedStatus)
}

func TestGetnet_CachesAccessToken(t *testing.T) {
	var tokenCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/oauth/v2/token":
			atomic.AddInt32(&tokenCalls, 1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "cid", user)
			assert.Equal(t, "csecret", pass)
			_, _ = w.Write([]byte(`{"access_token": "bearer-1", "expires_in": 3600}`))
		default:
			assert.Equal(t, "Bearer bearer-1", r.Header.Get("Authorization"))
			assert.Equal(t, "seller", r.Header.Get("seller_id"))
			_, _ = w.Write([]byte(`{"payment_id": "p1", "status": "APPROVED"}`))
		}
	}))
	defer srv.Close()

	g := NewGetnet(map[string]string{
		models.CredClientID:     "cid",
		models.CredClientSecret: "csecret",
		models.CredSellerID:     "seller",
	}, true, srv.Client())
	g.baseURL = srv.URL

	for i := 0; i < 2; i++ {
		status, err := g.QueryStatus(context.Background(), "p1")
		require.NoError(t, err)
		assert.Equal(t, "PAID", status)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&tokenCalls))
}

func TestRedirectCheckouts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/links":
			body := decodeBody(t, r)
			assert.Equal(t, "handle-1", body["handle"])
			assert.EqualValues(t, 15000, body["items"].([]any)[0].(map[string]any)["price"])
			_, _ = w.Write([]byte(`{"url": "https://checkout.infinitepay.io/x"}`))
		case "/acme/checkout/payment-link":
			assert.Equal(t, "tok", r.Header.Get("User-Token"))
			_, _ = w.Write([]byte(`{"data": {"id": 55, "link_url": "https://acme.pay.yampi.com.br/r/55"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	ip := NewInfinitePay(map[string]string{models.CredHandle: "handle-1"}, srv.Client())
	ip.baseURL = srv.URL
	res, err := ip.CreateCharge(context.Background(), pixRequest())
	require.NoError(t, err)
	assert.Equal(t, "PAY-20240115-4821", res.ExternalID)
	assert.Equal(t, models.CheckoutRedirect, res.Checkout.Type)

	y := NewYampi(map[string]string{models.CredAlias: "acme", models.CredToken: "tok", models.CredSecretKey: "s"}, srv.Client())
	y.baseURL = srv.URL + "/"
	res, err = y.CreateCharge(context.Background(), pixRequest())
	require.NoError(t, err)
	assert.Equal(t, "55", res.ExternalID)
	assert.Equal(t, "https://acme.pay.yampi.com.br/r/55", res.Checkout.URL)

	refund := y.RefundPayment(context.Background(), "55", nil)
	assert.False(t, refund.Success)
	assert.ErrorIs(t, refund.Err, errYampiRefund)
}

func TestAppmax_WebhookEventNames(t *testing.T) {
	a := NewAppmax(nil, false, nil)
	ev, err := a.ParseWebhook([]byte(`{"event": "OrderPaid", "data": {"id": 321, "status": "aprovado"}}`))
	require.NoError(t, err)
	assert.Equal(t, "321", ev.ExternalID)
	assert.Equal(t, "PAID", ev.ReportedStatus)

	ev, err = a.ParseWebhook([]byte(`{"event": "OrderRefund", "data": {"id": 321}}`))
	require.NoError(t, err)
	assert.Equal(t, "REFUNDED", ev.ReportedStatus)
}

func TestNewAdapters_CoversEveryProvider(t *testing.T) {
	var configs []models.GatewayConfig
	for _, p := range models.AllProviders {
		configs = append(configs, models.GatewayConfig{ID: string(p), Provider: p, Active: true})
	}
	set := NewAdapters(registry.New(configs, false), nil)

	for _, p := range models.AllProviders {
		a, ok := set.For(p)
		require.True(t, ok, p)
		assert.Equal(t, p, a.Provider())
	}

	empty := NewAdapters(registry.New(nil, false), nil)
	_, ok := empty.For(models.ProviderAsaas)
	assert.False(t, ok)
}

func TestNewAdapters_BindsCredentialsOfEachConfigRow(t *testing.T) {
	reg := registry.New([]models.GatewayConfig{
		{
			ID: "asaas-old", Provider: models.ProviderAsaas, Sandbox: true,
			Credentials: models.Credentials{Sandbox: map[string]string{models.CredAPIKey: "sbx"}},
		},
		{
			ID: "asaas-live", Provider: models.ProviderAsaas, Active: true,
			Credentials: models.Credentials{Live: map[string]string{models.CredAPIKey: "live-key"}},
		},
	}, false)
	set := NewAdapters(reg, nil)

	live, ok := set.ForConfig("asaas-live")
	require.True(t, ok)
	require.IsType(t, &Asaas{}, live)
	assert.Equal(t, asaasBaseURL, live.(*Asaas).baseURL)
	assert.Equal(t, "live-key", live.(*Asaas).apiKey)

	old, ok := set.ForConfig("asaas-old")
	require.True(t, ok)
	assert.Equal(t, asaasSandboxURL, old.(*Asaas).baseURL)
	assert.Equal(t, "sbx", old.(*Asaas).apiKey)

	def, ok := set.For(models.ProviderAsaas)
	require.True(t, ok)
	assert.Same(t, live, def)

	_, ok = set.ForConfig("missing")
	assert.False(t, ok)
}
