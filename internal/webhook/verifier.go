// Package webhook authenticates, audits and dispatches inbound provider
// callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

type Mode string

const (
	ModeHMAC Mode = "HMAC_SHA256"
	// ModeLegacyAPIKey compares a bare shared key with ==. It is not
	// timing-safe and exists only for providers that cannot sign payloads.
	ModeLegacyAPIKey Mode = "LEGACY_API_KEY"

	signaturePrefix = "sha256="
)

var signatureHeaders = []string{
	"X-Hub-Signature-256",
	"X-Signature",
	"asaas-access-token",
	"apikey",
}

// ExtractSignature returns the first credential presented with the request:
// the signature headers in priority order, then a top-level apikey field of
// the body.
func ExtractSignature(headers http.Header, raw []byte) string {
	for _, h := range signatureHeaders {
		if v := strings.TrimSpace(headers.Get(h)); v != "" {
			return v
		}
	}
	return bodyAPIKey(raw)
}

func bodyAPIKey(raw []byte) string {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err == nil {
		for _, k := range []string{"apikey", "apiKey"} {
			if s, ok := body[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return ""
	}
	if v := form.Get("apikey"); v != "" {
		return v
	}
	return form.Get("apiKey")
}

// Verify authenticates raw against the presented credential. A sha256=<hex>
// value is checked as an HMAC-SHA256 of the exact bytes received; any other
// value is compared to the configured secret and API key.
func Verify(raw []byte, presented string, secrets models.WebhookSecrets) (Mode, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return "", models.ErrMissingSignature
	}

	if strings.HasPrefix(strings.ToLower(presented), signaturePrefix) {
		secret := strings.TrimSpace(secrets.Secret)
		if secret == "" {
			return ModeHMAC, models.ErrSignatureMismatch
		}
		got, err := hex.DecodeString(strings.ToLower(presented[len(signaturePrefix):]))
		if err != nil {
			return ModeHMAC, models.ErrSignatureMismatch
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(raw)
		if !hmac.Equal(mac.Sum(nil), got) {
			return ModeHMAC, models.ErrSignatureMismatch
		}
		return ModeHMAC, nil
	}

	if (secrets.Secret != "" && presented == secrets.Secret) || (secrets.APIKey != "" && presented == secrets.APIKey) {
		return ModeLegacyAPIKey, nil
	}
	return ModeLegacyAPIKey, models.ErrSignatureMismatch
}

// Sign returns the sha256=<hex> signature of raw under secret.
func Sign(raw []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(raw)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}
