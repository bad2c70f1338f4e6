package models

import "time"

type EventKind string

const (
	EventPaymentStatus   EventKind = "PAYMENT_STATUS"
	EventMessageDelivery EventKind = "MESSAGE_DELIVERY"
	EventConnection      EventKind = "CONNECTION"
	EventUnknown         EventKind = "UNKNOWN"
)

type WebhookStage string

const (
	StageReceived   WebhookStage = "RECEIVED"
	StageVerified   WebhookStage = "VERIFIED"
	StageDispatched WebhookStage = "DISPATCHED"
	StageRejected   WebhookStage = "REJECTED"
)

// MessagingSource is the webhook source name used by the messaging provider.
const MessagingSource = "messaging"

// WebhookEvent is the uniform shape every adapter parses its callbacks into.
type WebhookEvent struct {
	Source         string           `json:"source"`
	Kind           EventKind        `json:"kind"`
	Name           string           `json:"name"`
	EventID        string           `json:"eventId,omitempty"`
	ExternalID     string           `json:"externalId,omitempty"`
	ReportedStatus string           `json:"reportedStatus,omitempty"`
	Message        *MessageDelivery `json:"message,omitempty"`
	RawPayload     []byte           `json:"-"`
	Signature      string           `json:"-"`
}

// MessageDelivery is the delivery report carried by messaging webhooks.
type MessageDelivery struct {
	Instance  string `json:"instance"`
	MessageID string `json:"messageId"`
	RemoteJID string `json:"remoteJid"`
	Status    string `json:"status"`
}

// WebhookAudit is the persisted trace of one inbound webhook.
type WebhookAudit struct {
	ID              int64        `json:"id"`
	Source          string       `json:"source"`
	EventID         string       `json:"eventId"`
	EventKind       EventKind    `json:"eventKind"`
	Payload         string       `json:"payload"`
	SignatureValid  bool         `json:"signatureValid"`
	Stage           WebhookStage `json:"stage"`
	ProcessingError string       `json:"processingError,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Notification is the audit record created from a message-delivery event.
type Notification struct {
	ID        int64     `json:"id"`
	Instance  string    `json:"instance"`
	MessageID string    `json:"messageId"`
	RemoteJID string    `json:"remoteJid"`
	Status    string    `json:"status"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}
