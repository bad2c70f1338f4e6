package models

import "strings"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusPaid       Status = "PAID"
	StatusFailed     Status = "FAILED"
	StatusRejected   Status = "REJECTED"
	StatusExpired    Status = "EXPIRED"
	StatusRefunded   Status = "REFUNDED"
	StatusCancelled  Status = "CANCELLED"
	StatusError      Status = "ERROR"
)

// transitions holds every legal edge except X -> ERROR, which is allowed from
// any non-terminal state. PENDING may skip PROCESSING because most gateways
// report the outcome directly.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusPaid, StatusFailed, StatusRejected, StatusExpired},
	StatusProcessing: {StatusPaid, StatusFailed, StatusRejected, StatusExpired},
	StatusPaid:       {StatusRefunded, StatusCancelled},
}

var statusSynonyms = map[string]Status{
	"APPROVED":   StatusPaid,
	"PAID":       StatusPaid,
	"CONFIRMED":  StatusPaid,
	"DECLINED":   StatusFailed,
	"FAILED":     StatusFailed,
	"CANCELLED":  StatusCancelled,
	"CANCELED":   StatusCancelled,
	"VOIDED":     StatusCancelled,
	"PENDING":    StatusPending,
	"PROCESSING": StatusProcessing,
	"REJECTED":   StatusRejected,
	"EXPIRED":    StatusExpired,
	"REFUNDED":   StatusRefunded,
	"ERROR":      StatusError,
}

// NormalizeStatus maps a reported status word onto the persisted vocabulary.
// APPROVED is never stored; it becomes PAID here.
func NormalizeStatus(reported string) (Status, bool) {
	s, ok := statusSynonyms[strings.ToUpper(strings.TrimSpace(reported))]
	return s, ok
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRefunded, StatusCancelled, StatusFailed, StatusRejected, StatusExpired, StatusError:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return !from.IsTerminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
