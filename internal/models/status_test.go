package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{in: "approved", want: StatusPaid},
		{in: "APPROVED", want: StatusPaid},
		{in: "paid", want: StatusPaid},
		{in: " Confirmed ", want: StatusPaid},
		{in: "declined", want: StatusFailed},
		{in: "FAILED", want: StatusFailed},
		{in: "cancelled", want: StatusCancelled},
		{in: "canceled", want: StatusCancelled},
		{in: "VOIDED", want: StatusCancelled},
		{in: "refunded", want: StatusRefunded},
		{in: "expired", want: StatusExpired},
	}

	for _, tt := range tests {
		got, ok := NormalizeStatus(tt.in)
		require.True(t, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, ok := NormalizeStatus("in_mediation")
	assert.False(t, ok)
}

func TestNormalizeStatus_NeverApproved(t *testing.T) {
	for word := range statusSynonyms {
		s, _ := NormalizeStatus(word)
		assert.NotEqual(t, Status("APPROVED"), s)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusProcessing},
		{StatusPending, StatusPaid},
		{StatusProcessing, StatusPaid},
		{StatusProcessing, StatusFailed},
		{StatusProcessing, StatusRejected},
		{StatusProcessing, StatusExpired},
		{StatusPaid, StatusRefunded},
		{StatusPaid, StatusCancelled},
		{StatusPending, StatusError},
		{StatusProcessing, StatusError},
		{StatusPaid, StatusError},
	}
	for _, e := range allowed {
		assert.True(t, CanTransition(e.from, e.to), "%s -> %s", e.from, e.to)
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusRefunded},
		{StatusPending, StatusCancelled},
		{StatusProcessing, StatusPending},
		{StatusPaid, StatusPending},
		{StatusPaid, StatusFailed},
		{StatusRefunded, StatusPaid},
		{StatusFailed, StatusPaid},
		{StatusError, StatusError},
		{StatusRefunded, StatusError},
	}
	for _, e := range denied {
		assert.False(t, CanTransition(e.from, e.to), "%s -> %s", e.from, e.to)
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	all := []Status{StatusPending, StatusProcessing, StatusPaid, StatusFailed, StatusRejected,
		StatusExpired, StatusRefunded, StatusCancelled, StatusError}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cfgErr := &ConfigurationError{Kind: NoEligibleGateway, EntityKind: EntityClubRegistration, Method: MethodPix}
	wrapped := fmt.Errorf("select: %w", cfgErr)
	assert.True(t, errors.Is(wrapped, ErrNoEligibleGateway))
	assert.False(t, errors.Is(wrapped, ErrMisconfiguredGateway))

	ae := &AdapterError{Provider: ProviderAsaas, Op: "refund", Retryable: true, Err: errors.New("boom")}
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", ae)))
	assert.False(t, IsRetryable(errors.New("plain")))

	dup := &DuplicateProtocolError{Protocol: "PAY-20240101-1000"}
	assert.True(t, errors.Is(dup, ErrProtocolConflict))

	unknown := &UnknownTransactionError{Provider: ProviderAsaas, ExternalID: "x"}
	assert.True(t, errors.Is(unknown, ErrNotFound))
}

func TestTransactionRefundRecord_FromGenericMap(t *testing.T) {
	tx := &Transaction{Metadata: Metadata{
		MetaRefund: map[string]any{"id": "r1", "amount": "150.00", "by": "admin"},
	}}
	rec, ok := tx.RefundRecord()
	require.True(t, ok)
	assert.True(t, rec.Amount.Equal(decimal.RequireFromString("150")))
	assert.Equal(t, "admin", rec.By)

	_, ok = (&Transaction{}).RefundRecord()
	assert.False(t, ok)
}
