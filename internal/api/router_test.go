package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/service"
	"github.com/akylbek/payment-system/federation-payments/internal/webhook"
)

type nopPayments struct{}

func (nopPayments) CreateCharge(context.Context, service.ChargeCommand) (*service.ChargeOutcome, error) {
	return nil, models.ErrInvalidRequest
}

func (nopPayments) RefundCharge(context.Context, service.RefundInput) (*models.Transaction, error) {
	return nil, models.ErrNotFound
}

type nopLedger struct{}

func (nopLedger) Get(context.Context, string) (*models.Transaction, error) {
	return nil, models.ErrNotFound
}

func (nopLedger) GetByProtocol(context.Context, string) (*models.Transaction, error) {
	return nil, models.ErrNotFound
}

type nopProcessor struct{}

func (nopProcessor) Handle(context.Context, string, http.Header, []byte) (webhook.Result, error) {
	return webhook.Result{}, nil
}

func TestRouterRoutes(t *testing.T) {
	r := NewRouter(nopPayments{}, nopLedger{}, nopProcessor{})

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodPost, "/payments/abc/refund", http.StatusBadRequest},
		{http.MethodGet, "/payments/PAY-20250310-1234/state", http.StatusNotFound},
		{http.MethodOptions, "/webhooks/asaas", http.StatusNoContent},
		{http.MethodPost, "/webhooks/messaging", http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, tt.path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tt.status, w.Code, "%s %s", tt.method, tt.path)
	}
}
