package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of inventory reservations created",
	})

	ReservationsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_confirmed_total",
		Help: "Total number of reservations confirmed",
	})

	ReservationsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_cancelled_total",
		Help: "Total number of reservations cancelled",
	})

	ReservationsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_expired_total",
		Help: "Total number of reservations expired",
	})

	ReservationsConvertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_converted_total",
		Help: "Total number of reservations converted into orders",
	})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_failed_total",
		Help: "Total number of failed reservation operations",
	}, []string{"reason"})

	SlotHoldLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slot_hold_latency_seconds",
		Help:    "Latency of slot capacity hold transactions",
		Buckets: prometheus.DefBuckets,
	})

	ApprovalsRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaign_approvals_requested_total",
		Help: "Total number of campaign approval requests raised",
	})

	ApprovalsDecidedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_approvals_decided_total",
		Help: "Total number of campaign approval decisions",
	}, []string{"action"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created from approved campaigns",
	})

	CrossTenantAccessTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cross_tenant_access_total",
		Help: "Total number of audited master-role cross-tenant accesses",
	})

	SafeQueryFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "safe_query_failures_total",
		Help: "Total number of degraded sub-queries in aggregate endpoints",
	}, []string{"query"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
