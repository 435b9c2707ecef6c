package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PriceUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_updates_total",
		Help: "Total number of committed price updates",
	})

	PriceUpdatesRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "price_updates_rejected_total",
		Help: "Total number of rejected price updates",
	}, []string{"reason"})

	PriceUpdatesCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "price_updates_cancelled_total",
		Help: "Total number of price updates cancelled at the volatility confirmation",
	})

	VolatilityConfirmationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "volatility_confirmations_total",
		Help: "Total number of price updates that required volatility confirmation",
	})

	ListingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_created_total",
		Help: "Total number of marketplace listings created",
	})

	ListingsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listings_deleted_total",
		Help: "Total number of marketplace listings deleted",
	})

	ListingWritesDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listing_writes_denied_total",
		Help: "Total number of listing writes denied by the ownership check",
	})

	FanoutRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "profile_fanout_runs_total",
		Help: "Total number of profile fan-out runs over listings",
	})

	FanoutFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "profile_fanout_failures_total",
		Help: "Total number of failed profile fan-out runs",
	})

	SyncPushedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_changes_pushed_total",
		Help: "Total number of journal entries pushed to the remote authority",
	})

	SyncAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_changes_applied_total",
		Help: "Total number of remote changes applied to the local store",
	})

	SyncConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_conflicts_total",
		Help: "Total number of remote changes dropped because the local record was newer",
	})

	SyncState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_state",
		Help: "Sync engine connectivity state (0=offline, 1=connected, 2=pushing)",
	})

	SyncPushLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_push_latency_seconds",
		Help:    "Latency of a single journal push batch",
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
