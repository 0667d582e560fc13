package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "storefront"

var (
	StoreMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "store_mutations_total", Help: "Committed list store mutations"},
		[]string{"store", "op"},
	)
	StoreRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "store_rejections_total", Help: "List store adds rejected by a business rule"},
		[]string{"store", "reason"},
	)
	StoreSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "store_items", Help: "Items currently held per list store"},
		[]string{"store"},
	)
	StoreLoadDiscards = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "store_load_discards_total", Help: "Persisted snapshots discarded at load"},
		[]string{"store"},
	)

	GatewayFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "gateway_fallbacks_total", Help: "Vehicle collections served from the fallback set"},
		[]string{"collection"},
	)
	SoldSyncFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sold_sync_failures_total", Help: "Remote sold updates that failed"})
	Checkouts        = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "checkouts_total", Help: "Checkout attempts by outcome"},
		[]string{"outcome"},
	)
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_clients", Help: "Connected change feed clients"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
