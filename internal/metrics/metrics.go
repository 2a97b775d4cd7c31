// Package metrics defines prometheus metrics to expose.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediaforge_dispatch_duration_seconds",
			Help:    "Total time from request to terminal dispatch outcome in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 15, 20, 30, 45, 60, 120, 300, 600, 900},
		},
		[]string{"model", "media_type"},
	)

	DispatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaforge_dispatch_outcomes_total",
			Help: "Dispatch outcomes by terminal state",
		},
		[]string{"model", "media_type", "outcome"},
	)

	ProviderSubmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaforge_provider_submits_total",
			Help: "Provider submissions by provider family and result",
		},
		[]string{"provider", "result"},
	)

	PollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaforge_poll_attempts_total",
			Help: "Status poll attempts against provider APIs",
		},
		[]string{"provider"},
	)

	CreditsCharged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediaforge_credits_charged_total",
			Help: "Credits debited for generations, net of refunds",
		},
		[]string{"model", "direction"},
	)
)
