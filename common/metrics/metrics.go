package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketbox_http_requests_total",
			Help: "HTTP requests by route, status and method",
		},
		[]string{"route", "code", "method"},
	)

	CheckoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketbox_checkouts_total",
			Help: "Checkout attempts by result",
		},
		[]string{"result"},
	)

	PaymentCallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketbox_payment_callbacks_total",
			Help: "Payment provider callbacks by outcome",
		},
		[]string{"outcome"},
	)

	CallbackSignatureFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketbox_callback_signature_failures_total",
			Help: "Callbacks rejected for a bad signature",
		},
	)

	TicketsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketbox_tickets_issued_total",
			Help: "Tickets durably issued",
		},
	)

	CapacityAbortsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketbox_capacity_aborts_total",
			Help: "Confirmed payments aborted because capacity was exhausted; each one needs reconciliation",
		},
	)

	CredentialEmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketbox_credential_emails_total",
			Help: "Credential delivery attempts by result",
		},
		[]string{"result"},
	)

	IssuanceTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketbox_issuance_tx_duration_seconds",
			Help:    "Duration of the locked issuance transaction",
			Buckets: prometheus.DefBuckets,
		},
	)
)
