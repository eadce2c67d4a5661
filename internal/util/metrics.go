package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsInitiatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payments_initiated_total",
		Help: "Total number of payments initiated, by payment method",
	}, []string{"method"})

	PaymentsPaidTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payments_paid_total",
		Help: "Total number of payments that reached PAID, by payment method",
	}, []string{"method"})

	PaymentsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payments_failed_total",
		Help: "Total number of payments that reached FAILED",
	}, []string{"reason"})

	CheckoutRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_rejected_total",
		Help: "Total number of checkout attempts rejected before any write",
	}, []string{"reason"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_created_total",
		Help: "Total number of orders materialized from payments",
	})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_orders_cancelled_total",
		Help: "Total number of orders cancelled by customers",
	})

	OrderStatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_order_status_transitions_total",
		Help: "Total number of order fulfillment transitions",
	}, []string{"status"})

	MaterializationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_materialization_failures_total",
		Help: "Paid payments that could not be turned into an order",
	}, []string{"reason"})

	MaterializationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "checkout_materialization_latency_seconds",
		Help:    "Latency of order materialization transactions",
		Buckets: prometheus.DefBuckets,
	})

	CouponEvaluationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_coupon_evaluations_total",
		Help: "Coupon evaluations at pricing time, by outcome",
	}, []string{"outcome"})

	StockConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_stock_conflicts_total",
		Help: "Conditional stock decrements that found too little stock",
	})

	StalePaymentsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_stale_payments_expired_total",
		Help: "Pending payments failed by the sweeper",
	})

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
