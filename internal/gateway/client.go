package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

const maxErrorBody = 4 << 10

type request struct {
	op        string
	method    string
	url       string
	body      any
	form      url.Values
	headers   map[string]string
	basicUser string
	basicPass string
}

// client is the HTTP plumbing shared by every adapter.
type client struct {
	provider models.Provider
	http     *http.Client
}

func newClient(p models.Provider, hc *http.Client) client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return client{provider: p, http: hc}
}

func (c client) do(ctx context.Context, r request, out any) error {
	ctx, span := telemetry.Tracer.Start(ctx, "gateway."+r.op)
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.provider", string(c.provider)),
		attribute.String("http.method", r.method),
	)

	err := c.roundTrip(ctx, r, out)
	result := "ok"
	if err != nil {
		result = "error"
		telemetry.RecordError(span, err)
		telemetry.Logger.Warn("Gateway request failed",
			zap.String("provider", string(c.provider)),
			zap.String("op", r.op),
			zap.Error(err),
		)
	}
	telemetry.GatewayRequestsTotal.WithLabelValues(string(c.provider), r.op, result).Inc()
	return err
}

func (c client) roundTrip(ctx context.Context, r request, out any) error {
	var body io.Reader
	contentType := ""
	switch {
	case r.form != nil:
		body = strings.NewReader(r.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case r.body != nil:
		payload, err := json.Marshal(r.body)
		if err != nil {
			return c.fail(r.op, 0, false, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return c.fail(r.op, 0, false, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.basicUser != "" {
		req.SetBasicAuth(r.basicUser, r.basicPass)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// A cancelled or expired context means the outcome is unknown, so the
		// error must not be retried blindly.
		if ctx.Err() != nil {
			return c.fail(r.op, 0, false, ctx.Err())
		}
		return c.fail(r.op, 0, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return c.fail(r.op, resp.StatusCode, retryable, fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(snippet))))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return c.fail(r.op, resp.StatusCode, false, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c client) fail(op string, status int, retryable bool, err error) error {
	return &models.AdapterError{
		Provider:   c.provider,
		Op:         op,
		StatusCode: status,
		Retryable:  retryable,
		Err:        err,
	}
}

// flexID accepts identifiers sent as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	*f = flexID(strings.Trim(s, `"`))
	return nil
}

func (f flexID) String() string { return string(f) }

// canonicalStatus maps a provider status word through table. Words the table
// does not know are upper-cased and left for the ledger to judge.
func canonicalStatus(table map[string]models.Status, word string) string {
	if s, ok := table[strings.ToLower(strings.TrimSpace(word))]; ok {
		return string(s)
	}
	return strings.ToUpper(strings.TrimSpace(word))
}

func cents(req ChargeRequest) int64 {
	return req.Amount.Shift(2).Round(0).IntPart()
}

func payerOrEmpty(p *models.Payer) models.Payer {
	if p == nil {
		return models.Payer{}
	}
	return *p
}

func decodeWebhook(p models.Provider, raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s webhook: %w", p, err)
	}
	return nil
}

func paymentEvent(p models.Provider, name, eventID, externalID, status string, raw []byte) *models.WebhookEvent {
	return &models.WebhookEvent{
		Source:         string(p),
		Kind:           models.EventPaymentStatus,
		Name:           name,
		EventID:        eventID,
		ExternalID:     externalID,
		ReportedStatus: status,
		RawPayload:     raw,
	}
}

func unknownEvent(p models.Provider, name string, raw []byte) *models.WebhookEvent {
	return &models.WebhookEvent{Source: string(p), Kind: models.EventUnknown, Name: name, RawPayload: raw}
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
