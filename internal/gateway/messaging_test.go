package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

func TestMessaging_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/sendText/federation", r.URL.Path)
		assert.Equal(t, "evo-key", r.Header.Get("apikey"))
		body := decodeBody(t, r)
		assert.Equal(t, "5511999990000", body["number"])
		_, _ = w.Write([]byte(`{"key": {"id": "BAE5F1", "remoteJid": "5511999990000@s.whatsapp.net"}, "status": "PENDING"}`))
	}))
	defer srv.Close()

	m := NewMessaging(MessagingConfig{BaseURL: srv.URL + "/", Instance: "federation", APIKey: "evo-key"}, srv.Client())
	res := m.Send(context.Background(), Message{To: "5511999990000", Text: "Pagamento confirmado"})
	require.True(t, res.Success)
	assert.Equal(t, "BAE5F1", res.MessageID)
	assert.NoError(t, res.Err)
}

func TestMessaging_SendFailures(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	m := NewMessaging(MessagingConfig{BaseURL: srv.URL, Instance: "federation"}, srv.Client())

	res := m.Send(context.Background(), Message{To: "1", Text: "x"})
	assert.False(t, res.Success)
	assert.True(t, res.Retryable)

	status.Store(http.StatusBadRequest)
	res = m.Send(context.Background(), Message{To: "1", Text: "x"})
	assert.False(t, res.Success)
	assert.False(t, res.Retryable)
}

func TestMessaging_ParseWebhook(t *testing.T) {
	m := NewMessaging(MessagingConfig{Instance: "federation"}, nil)

	ev, err := m.ParseWebhook([]byte(`{"event": "MESSAGES_UPDATE", "instance": "federation",
		"data": {"keyId": "BAE5F1", "remoteJid": "5511999990000@s.whatsapp.net", "status": "DELIVERY_ACK"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventMessageDelivery, ev.Kind)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "BAE5F1", ev.Message.MessageID)
	assert.Equal(t, "DELIVERY_ACK", ev.Message.Status)
	assert.Equal(t, "federation", ev.Message.Instance)

	ev, err = m.ParseWebhook([]byte(`{"event": "connection.update", "data": {"state": "open"}}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventConnection, ev.Kind)
	assert.Equal(t, "open", ev.ReportedStatus)

	ev, err = m.ParseWebhook([]byte(`{"event": "chats.upsert"}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventUnknown, ev.Kind)
}
