package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhooksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_total",
		Help: "Inbound webhooks by source and outcome.",
	}, []string{"source", "outcome"})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transaction_transitions_total",
		Help: "Applied ledger transitions.",
	}, []string{"from", "to"})

	GatewayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Outbound gateway calls by provider, operation and result.",
	}, []string{"provider", "op", "result"})

	ReconciliationRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconciliation_rows_total",
		Help: "Rows touched by reconciliation passes.",
	}, []string{"pass", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Outbound notification delivery attempts.",
	}, []string{"result"})
)
