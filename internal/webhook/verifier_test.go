package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/federation-payments/internal/models"
)

var testSecrets = models.WebhookSecrets{Secret: "whsec_federation", APIKey: "key_live_123"}

func TestVerifyHMAC(t *testing.T) {
	raw := []byte(`{"event":"PAYMENT_CONFIRMED","payment":{"id":"pay_1"}}`)
	good := Sign(raw, testSecrets.Secret)

	mode, err := Verify(raw, good, testSecrets)
	require.NoError(t, err)
	assert.Equal(t, ModeHMAC, mode)

	mode, err = Verify(raw, strings.ToUpper(good[:7])+good[7:], testSecrets)
	require.NoError(t, err, "prefix and hex case are not significant")
	assert.Equal(t, ModeHMAC, mode)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	raw := []byte(`{"event":"PAYMENT_CONFIRMED","value":150.00}`)
	sig := Sign(raw, testSecrets.Secret)

	tampered := append([]byte(nil), raw...)
	tampered[len(tampered)-2] ^= 0x01

	_, err := Verify(tampered, sig, testSecrets)
	assert.ErrorIs(t, err, models.ErrSignatureMismatch)
}

func TestVerifyRejectsSameLengthForgery(t *testing.T) {
	raw := []byte(`{"event":"PAYMENT_CONFIRMED"}`)
	forged := "sha256=" + strings.Repeat("ab", sha256.Size)
	require.Len(t, forged, len(Sign(raw, testSecrets.Secret)))

	_, err := Verify(raw, forged, testSecrets)
	assert.ErrorIs(t, err, models.ErrSignatureMismatch)
}

func TestVerifySignedWithOtherSecret(t *testing.T) {
	raw := []byte(`{}`)
	mac := hmac.New(sha256.New, []byte("someone-else"))
	mac.Write(raw)

	_, err := Verify(raw, "sha256="+hex.EncodeToString(mac.Sum(nil)), testSecrets)
	assert.ErrorIs(t, err, models.ErrSignatureMismatch)
}

func TestVerifyEdgeCases(t *testing.T) {
	raw := []byte(`{"a":1}`)

	tests := []struct {
		name      string
		presented string
		secrets   models.WebhookSecrets
		wantMode  Mode
		wantErr   error
	}{
		{"missing", "", testSecrets, "", models.ErrMissingSignature},
		{"blank", "   ", testSecrets, "", models.ErrMissingSignature},
		{"hmac without configured secret", Sign(raw, "x"), models.WebhookSecrets{APIKey: "k"}, ModeHMAC, models.ErrSignatureMismatch},
		{"hmac not hex", "sha256=zz-not-hex", testSecrets, ModeHMAC, models.ErrSignatureMismatch},
		{"legacy api key", "key_live_123", testSecrets, ModeLegacyAPIKey, nil},
		{"legacy webhook secret", "whsec_federation", testSecrets, ModeLegacyAPIKey, nil},
		{"legacy wrong key", "key_live_124", testSecrets, ModeLegacyAPIKey, models.ErrSignatureMismatch},
		{"legacy with nothing configured", "anything", models.WebhookSecrets{}, ModeLegacyAPIKey, models.ErrSignatureMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := Verify(raw, tt.presented, tt.secrets)
			assert.Equal(t, tt.wantMode, mode)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestExtractSignature(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		body    string
		want    string
	}{
		{
			name:    "hub signature wins",
			headers: map[string]string{"X-Hub-Signature-256": "sha256=aa", "X-Signature": "sha256=bb", "apikey": "k"},
			want:    "sha256=aa",
		},
		{
			name:    "x-signature before provider headers",
			headers: map[string]string{"X-Signature": "sha256=bb", "asaas-access-token": "tok"},
			want:    "sha256=bb",
		},
		{
			name:    "asaas token header",
			headers: map[string]string{"asaas-access-token": "tok", "apikey": "k"},
			want:    "tok",
		},
		{
			name:    "apikey header",
			headers: map[string]string{"apikey": "k"},
			body:    `{"apikey":"body-key"}`,
			want:    "k",
		},
		{name: "json body apikey", body: `{"apikey":"body-key","event":"x"}`, want: "body-key"},
		{name: "json body apiKey", body: `{"apiKey":"camel"}`, want: "camel"},
		{name: "form body", body: "apiKey=form-key&transaction_id=T1", want: "form-key"},
		{name: "nothing", body: `{"event":"x"}`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, ExtractSignature(h, []byte(tt.body)))
		})
	}
}
