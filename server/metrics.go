package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsAccepted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netconf",
		Name:      "sessions_accepted_total",
		Help:      "NETCONF sessions accepted, by transport kind.",
	}, []string{"transport"})

	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netconf",
		Name:      "sessions_active",
		Help:      "NETCONF sessions currently in a poll set.",
	})

	metricAuthFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netconf",
		Name:      "auth_failures_total",
		Help:      "Transport authentication failures, by transport kind.",
	}, []string{"transport"})

	metricRPCsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netconf",
		Name:      "rpcs_dispatched_total",
		Help:      "RPCs read and answered by poll dispatch.",
	})

	metricDispatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netconf",
		Name:      "dispatch_errors_total",
		Help:      "Poll dispatch failures.",
	})
)
