package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created",
	}, []string{"payment_method"})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders fulfilled",
	})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of failed orders",
	}, []string{"reason"})

	OrdersCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_cancelled_total",
		Help: "Total number of cancelled orders",
	})

	PaymentAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_attempts_total",
		Help: "Total number of payment attempts",
	}, []string{"method"})

	PaymentProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_processing_latency_seconds",
		Help:    "Latency of payment processing",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	CurrencyConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "currency_conversions_total",
		Help: "Currency conversions by result (cached, fetched, error)",
	}, []string{"result"})

	DeliveryCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_commands_total",
		Help: "In-game commands dispatched to the plugin by result",
	}, []string{"result"})

	DeliveryFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_failures_total",
		Help: "Order lines whose delivery returned an error",
	})

	ChatMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Chat messages stored by sender",
	}, []string{"sender"})

	ChatTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_transitions_total",
		Help: "Chat session state transitions",
	}, []string{"transition"})

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
