package models

import "time"

type CheckoutType string

const (
	CheckoutRedirect    CheckoutType = "REDIRECT"
	CheckoutTransparent CheckoutType = "TRANSPARENT"
)

type RetryPolicy struct {
	Attempts int           `json:"attempts" mapstructure:"attempts"`
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

type GatewayURLs struct {
	Success      string `json:"success" mapstructure:"success"`
	Failure      string `json:"failure" mapstructure:"failure"`
	Notification string `json:"notification" mapstructure:"notification"`
}

// Credentials carries both credential sets of one configuration row. Exactly
// one set is used per transaction, chosen by the sandbox flag.
type Credentials struct {
	Live    map[string]string `json:"-"`
	Sandbox map[string]string `json:"-"`
}

// GatewayConfig is one administered gateway row. It is read-only to the core.
type GatewayConfig struct {
	ID             string          `json:"id"`
	Provider       Provider        `json:"provider"`
	Active         bool            `json:"active"`
	Priority       int             `json:"priority"`
	AllowedMethods []PaymentMethod `json:"allowedMethods"`
	EntityTypes    []EntityKind    `json:"entityTypes"`
	CheckoutType   CheckoutType    `json:"checkoutType"`
	Sandbox        bool            `json:"sandbox"`
	WebhookRetry   RetryPolicy     `json:"webhookRetry"`
	URLs           GatewayURLs     `json:"urls"`
	Credentials    Credentials     `json:"-"`
}

func (c GatewayConfig) Allows(m PaymentMethod) bool {
	for _, a := range c.AllowedMethods {
		if a == m {
			return true
		}
	}
	return false
}

func (c GatewayConfig) Serves(k EntityKind) bool {
	for _, e := range c.EntityTypes {
		if e == k {
			return true
		}
	}
	return false
}

// WebhookSecrets are the values an inbound webhook may be authenticated with.
type WebhookSecrets struct {
	Secret string
	APIKey string
}

const (
	CredAPIKey        = "api_key"
	CredSecretKey     = "secret_key"
	CredAccessToken   = "access_token"
	CredToken         = "token"
	CredClientID      = "client_id"
	CredClientSecret  = "client_secret"
	CredSellerID      = "seller_id"
	CredWebhookSecret = "webhook_secret"
	CredHandle        = "handle"
	CredAlias         = "alias"
	CredCustomerID    = "customer_id"
)

// CredentialKeys are the keys read from the environment for every provider.
var CredentialKeys = []string{
	CredAPIKey,
	CredSecretKey,
	CredAccessToken,
	CredToken,
	CredClientID,
	CredClientSecret,
	CredSellerID,
	CredWebhookSecret,
	CredHandle,
	CredAlias,
	CredCustomerID,
}
