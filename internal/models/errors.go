package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrNoEligibleGateway    = errors.New("no eligible gateway")
	ErrMisconfiguredGateway = errors.New("gateway misconfigured")
	ErrProtocolConflict     = errors.New("protocol already in use")
	ErrExternalIDConflict   = errors.New("external id already in use")
	ErrRefundInProgress     = errors.New("refund already in progress")
	ErrRefundAmount         = errors.New("refund amount exceeds transaction amount")
	ErrMissingSignature     = errors.New("missing webhook signature")
	ErrSignatureMismatch    = errors.New("webhook signature mismatch")
)

type ConfigurationKind string

const (
	NoEligibleGateway    ConfigurationKind = "NO_ELIGIBLE_GATEWAY"
	MisconfiguredGateway ConfigurationKind = "MISCONFIGURED_GATEWAY"
)

// ConfigurationError means no gateway can serve the request. It is never
// retried.
type ConfigurationError struct {
	Kind       ConfigurationKind
	Provider   Provider
	EntityKind EntityKind
	Method     PaymentMethod
	Missing    []string
}

func (e *ConfigurationError) Error() string {
	switch e.Kind {
	case MisconfiguredGateway:
		return fmt.Sprintf("gateway %s is missing credentials: %s", e.Provider, strings.Join(e.Missing, ", "))
	default:
		return fmt.Sprintf("no eligible gateway for %s paid with %s", e.EntityKind, e.Method)
	}
}

func (e *ConfigurationError) Is(target error) bool {
	switch target {
	case ErrNoEligibleGateway:
		return e.Kind == NoEligibleGateway
	case ErrMisconfiguredGateway:
		return e.Kind == MisconfiguredGateway
	}
	return false
}

// AdapterError is a network or provider-side failure from a gateway call.
type AdapterError struct {
	Provider   Provider
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed with status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// VerificationError rejects an inbound webhook before any state change.
type VerificationError struct {
	Source string
	Err    error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("webhook from %s rejected: %v", e.Source, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// UnknownTransactionError means a webhook referenced an external id with no
// ledger row.
type UnknownTransactionError struct {
	Provider   Provider
	ExternalID string
}

func (e *UnknownTransactionError) Error() string {
	return fmt.Sprintf("no transaction for %s external id %q", e.Provider, e.ExternalID)
}

func (e *UnknownTransactionError) Is(target error) bool { return target == ErrNotFound }

// InvalidTransitionError is returned when to is not reachable from From.
type InvalidTransitionError struct {
	TransactionID string
	From          Status
	To            Status
	Reported      string
}

func (e *InvalidTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("unrecognized status %q for transaction %s", e.Reported, e.TransactionID)
	}
	return fmt.Sprintf("invalid transition from %s to %s for transaction %s", e.From, e.To, e.TransactionID)
}

type DuplicateProtocolError struct {
	Protocol string
}

func (e *DuplicateProtocolError) Error() string {
	return fmt.Sprintf("protocol %s collided after regeneration", e.Protocol)
}

func (e *DuplicateProtocolError) Unwrap() error { return ErrProtocolConflict }

// IsRetryable reports whether err is an AdapterError a caller may retry.
func IsRetryable(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Retryable
}
