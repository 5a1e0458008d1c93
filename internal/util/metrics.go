package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntentsClassifiedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intents_classified_total",
		Help: "Total number of classified messages by intent and deciding strategy",
	}, []string{"intent", "strategy"})

	FallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_fallbacks_total",
		Help: "Total number of times a component fell back after an upstream failure",
	}, []string{"component"})

	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_latency_seconds",
		Help:    "Latency of calls to external classifier services",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	CasesCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cases_created_total",
		Help: "Total number of persisted cases by initial status",
	}, []string{"status"})

	CasesDecidedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cases_decided_total",
		Help: "Total number of human decisions recorded on cases",
	}, []string{"status"})

	WalletCreditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_credits_total",
		Help: "Total number of wallet credits by reason",
	}, []string{"reason"})

	PaymentsReprocessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_reprocessed_total",
		Help: "Total number of failed payments marked processed",
	})

	ValidationDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_decisions_total",
		Help: "Total number of evidence validation decisions",
	}, []string{"status"})

	SubscriptionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_created_total",
		Help: "Total number of subscriptions created",
	})

	SubscriptionsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "subscriptions_cancelled_total",
		Help: "Total number of subscriptions cancelled",
	})

	RemindersEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reminders_emitted_total",
		Help: "Total number of reminders derived, by source",
	}, []string{"source"})

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
