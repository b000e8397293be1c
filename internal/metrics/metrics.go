package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "candlecast_subscribers",
			Help: "Currently registered realtime subscribers",
		},
	)

	BroadcastsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "candlecast_broadcasts_total",
			Help: "Broadcast ticks that delivered an update",
		},
	)

	SendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "candlecast_send_failures_total",
			Help: "Subscriber sends that failed and evicted the subscriber",
		},
	)

	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlecast_provider_requests_total",
			Help: "Candle fetches by the source that produced the result",
		},
		[]string{"source"},
	)

	ProviderFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candlecast_provider_fallbacks_total",
			Help: "Fetches that fell back to synthetic data, by cause",
		},
		[]string{"reason"},
	)
)
