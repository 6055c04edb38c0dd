package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CallsPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roofline_dialer_calls_placed_total",
			Help: "Outbound calls successfully placed, by provider",
		},
		[]string{"provider"},
	)

	CallsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roofline_dialer_calls_skipped_total",
			Help: "Call-list items skipped without placing a call, by reason",
		},
		[]string{"reason"},
	)

	CallsEnded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roofline_dialer_calls_ended_total",
			Help: "Calls observed reaching a terminal status",
		},
	)

	PlaceCallErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roofline_dialer_place_call_errors_total",
			Help: "Place-call requests that failed",
		},
	)

	PollTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roofline_poller_ticks_total",
			Help: "Active-call poll requests issued",
		},
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roofline_poller_errors_total",
			Help: "Active-call poll requests that failed",
		},
	)

	AudioConnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roofline_audio_connects_total",
			Help: "Live-listen stream connections opened",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roofline_dialer_active_sessions",
			Help: "Dialer sessions currently running",
		},
	)
)
