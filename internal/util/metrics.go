package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StockCreditedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_credited_units_total",
		Help: "Total units added to stock by the ledger",
	})

	StockDebitedUnits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_debited_units_total",
		Help: "Total units removed from stock by the ledger",
	})

	StockDebitsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stock_debits_rejected_total",
		Help: "Total number of debits rejected for insufficient stock",
	})

	DeliveriesRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deliveries_recorded_total",
		Help: "Total number of supplier deliveries recorded",
	})

	POSSalesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_created_total",
		Help: "Total number of POS sales created",
	})

	POSSalesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sales_failed_total",
		Help: "Total number of rejected POS sales",
	}, []string{"reason"})

	SalesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_created_total",
		Help: "Total number of online sales awaiting payment",
	})

	SalesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_failed_total",
		Help: "Total number of online sales that could not be created",
	}, []string{"reason"})

	SalesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sales_completed_total",
		Help: "Total number of online sales completed by payment confirmation",
	})

	SalesCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sales_cancelled_total",
		Help: "Total number of cancelled online sales",
	}, []string{"reason"})

	PaymentNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_notifications_total",
		Help: "Total number of payment notifications by outcome",
	}, []string{"outcome"})

	StockDiscrepanciesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_discrepancies_total",
		Help: "Total number of stock discrepancies escalated for review",
	}, []string{"reason"})

	GatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_gateway_latency_seconds",
		Help:    "Latency of payment initiation calls",
		Buckets: prometheus.DefBuckets,
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
