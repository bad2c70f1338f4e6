package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

// Message is one outbound text to a payer.
type Message struct {
	ID        string `json:"id"`
	To        string `json:"to"`
	Text      string `json:"text"`
	Reference string `json:"reference,omitempty"`
}

// SendResult mirrors RefundResult: Err is set exactly when Success is false,
// and Retryable says whether a redelivery may succeed.
type SendResult struct {
	Success   bool
	MessageID string
	Retryable bool
	Err       error
}

type MessagingConfig struct {
	BaseURL  string
	Instance string
	APIKey   string
}

// Messaging talks to an Evolution-style WhatsApp gateway.
type Messaging struct {
	client
	cfg MessagingConfig
}

func NewMessaging(cfg MessagingConfig, hc *http.Client) *Messaging {
	return &Messaging{
		client: newClient(models.MessagingSource, hc),
		cfg:    cfg,
	}
}

func (m *Messaging) Instance() string { return m.cfg.Instance }

func (m *Messaging) Send(ctx context.Context, msg Message) SendResult {
	var out struct {
		Key struct {
			ID        string `json:"id"`
			RemoteJID string `json:"remoteJid"`
		} `json:"key"`
		Status string `json:"status"`
	}
	err := m.do(ctx, request{
		op:      "send_message",
		method:  http.MethodPost,
		url:     strings.TrimRight(m.cfg.BaseURL, "/") + "/message/sendText/" + m.cfg.Instance,
		body:    map[string]any{"number": msg.To, "text": msg.Text},
		headers: map[string]string{"apikey": m.cfg.APIKey},
	}, &out)
	if err != nil {
		var ae *models.AdapterError
		retryable := errors.As(err, &ae) && ae.Retryable
		return SendResult{Retryable: retryable, Err: err}
	}
	return SendResult{Success: true, MessageID: out.Key.ID}
}

// ParseWebhook maps Evolution event names, either "messages.update" or
// "MESSAGES_UPDATE", onto event kinds.
func (m *Messaging) ParseWebhook(raw []byte) (*models.WebhookEvent, error) {
	var n struct {
		Event    string `json:"event"`
		Instance string `json:"instance"`
		Data     struct {
			KeyID     string `json:"keyId"`
			MessageID string `json:"messageId"`
			RemoteJID string `json:"remoteJid"`
			Status    string `json:"status"`
			State     string `json:"state"`
			Key       struct {
				ID        string `json:"id"`
				RemoteJID string `json:"remoteJid"`
			} `json:"key"`
		} `json:"data"`
	}
	if err := decodeWebhook(models.MessagingSource, raw, &n); err != nil {
		return nil, err
	}

	name := strings.ToLower(strings.ReplaceAll(n.Event, "_", "."))
	ev := &models.WebhookEvent{Source: models.MessagingSource, Name: name, RawPayload: raw}
	switch name {
	case "messages.update", "send.message":
		msgID := firstNonEmpty(n.Data.KeyID, n.Data.MessageID, n.Data.Key.ID)
		status := n.Data.Status
		if status == "" && name == "send.message" {
			status = "SENT"
		}
		ev.Kind = models.EventMessageDelivery
		ev.EventID = name + ":" + msgID + ":" + status
		ev.Message = &models.MessageDelivery{
			Instance:  n.Instance,
			MessageID: msgID,
			RemoteJID: firstNonEmpty(n.Data.RemoteJID, n.Data.Key.RemoteJID),
			Status:    status,
		}
	case "connection.update":
		ev.Kind = models.EventConnection
		ev.ReportedStatus = n.Data.State
	default:
		ev.Kind = models.EventUnknown
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
