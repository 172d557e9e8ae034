package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SendsTotal counts finished send invocations by outcome (completed, failed, noop) and error kind.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorachio",
			Subsystem: "chat",
			Name:      "sends_total",
			Help:      "Total message sends by outcome",
		},
		[]string{"outcome", "kind"},
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sorachio",
			Subsystem: "chat",
			Name:      "send_duration_seconds",
			Help:      "Duration of a send from submit to completion or failure",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 30},
		},
		[]string{"outcome", "has_image"},
	)

	ImagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorachio",
			Subsystem: "chat",
			Name:      "images_processed_total",
			Help:      "Images run through the preprocessor",
		},
		[]string{"status"},
	)

	ProxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorachio",
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Proxy responses by status code",
		},
		[]string{"status"},
	)

	UpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sorachio",
			Subsystem: "proxy",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream model API calls",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	UpstreamTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sorachio",
			Subsystem: "proxy",
			Name:      "upstream_tokens_total",
			Help:      "Tokens reported in upstream usage blocks",
		},
		[]string{"type"},
	)
)
