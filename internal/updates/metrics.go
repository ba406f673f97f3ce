package updates

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ptsync"
	subsystem = "updates"
)

var (
	envelopesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "envelopes_received_total",
		Help:      "Envelopes handed to the engine, by type.",
	}, []string{"type"})

	updatesDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "dispatched_total",
		Help:      "Updates delivered to the dispatcher, by type.",
	}, []string{"type"})

	gapsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "gaps_total",
		Help:      "Detected gaps, by cursor.",
	}, []string{"cursor"})

	recoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "recoveries_total",
		Help:      "Difference recoveries started, by scope.",
	}, []string{"scope"})

	tooLong = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "too_long_total",
		Help:      "Recoveries that skipped missed updates, by scope.",
	}, []string{"scope"})

	passDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pass_duration_seconds",
		Help:      "Time spent holding the serialization lock, by pass kind.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"kind"})
)
