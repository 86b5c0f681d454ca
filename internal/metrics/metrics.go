// Package metrics holds Prometheus instruments that are used across the
// runtime.  All collectors are registered with the global registry, so
// importing this package in main.go is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ContextsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_contexts_registered",
			Help: "Number of context models currently registered, default included.",
		})

	ContextsInvalidTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whiteboard_contexts_invalid_total",
			Help: "Cumulative number of context registrations rejected by validation.",
		})

	ResolveLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_resolve_lookups_total",
			Help: "Winning-context lookups by cache result (hit or miss).",
		}, []string{"result"})

	AcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_context_acquire_total",
			Help: "Context acquisitions by resolution strategy.",
		}, []string{"resolution"})

	AcquireErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_context_acquire_errors_total",
			Help: "Failed context acquisitions by error kind.",
		}, []string{"kind"})

	LeasesOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "whiteboard_context_leases_outstanding",
			Help: "Dereferenced context handles currently held for tenants.",
		})

	PromotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whiteboard_context_promotions_total",
			Help: "Supplier contexts promoted to singletons.",
		})

	ListenerMaterializeTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "whiteboard_listener_materialize_total",
			Help: "Listener sequences computed for container starts.",
		})

	DynamicDrainedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_dynamic_registrations_drained_total",
			Help: "Dynamic registrations handed to a container view, by kind.",
		}, []string{"kind"})

	DynamicDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whiteboard_dynamic_registrations_dropped_total",
			Help: "Dynamic registrations dropped because the tenant had no container view.",
		}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(
		ContextsRegistered,
		ContextsInvalidTotal,
		ResolveLookupsTotal,
		AcquireTotal,
		AcquireErrorsTotal,
		LeasesOutstanding,
		PromotionsTotal,
		ListenerMaterializeTotal,
		DynamicDrainedTotal,
		DynamicDroppedTotal,
	)
}
