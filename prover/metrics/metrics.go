package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prover"

// Metrics holds the daemon's collectors on a private registry, so that several
// daemons can live in one test binary.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived      prometheus.Counter
	DecodeFailures      prometheus.Counter
	StatusQueryFailures prometheus.Counter
	Statuses            *prometheus.CounterVec // by status label
	InFlightSkipped     prometheus.Counter
	InFlight            prometheus.Gauge

	Submissions        prometheus.Counter
	SubmissionFailures prometheus.Counter

	Confirmations   prometheus.Counter
	Reverts         prometheus.Counter
	ConfirmTimeouts prometheus.Counter

	Reconnects   prometheus.Counter
	Backfilled   prometheus.Counter
	Subscribed   prometheus.Gauge
	HealthStatus *prometheus.GaugeVec // by check name, 1 healthy
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "ProofRequested logs delivered by the subscription.",
		}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Logs that did not match the ProofRequested layout.",
		}),
		StatusQueryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_query_failures_total",
			Help:      "Failed getRequestID or idToRequestStatus calls.",
		}),
		Statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_status_total",
			Help:      "Resolved request statuses.",
		}, []string{"status"}),
		InFlightSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "in_flight_skipped_total",
			Help:      "Events skipped because the same request was already being handled.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_requests",
			Help:      "Requests currently held by a worker or a confirmation watcher.",
		}),

		Submissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_submitted_total",
			Help:      "Fulfillment transactions accepted by the node.",
		}),
		SubmissionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_submit_failures_total",
			Help:      "Fulfillment transactions that could not be built, signed or broadcast.",
		}),

		Confirmations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_confirmed_total",
			Help:      "Fulfillment transactions mined successfully.",
		}),
		Reverts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_reverted_total",
			Help:      "Fulfillment transactions mined with a failed status.",
		}),
		ConfirmTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulfillment_confirm_timeouts_total",
			Help:      "Fulfillment transactions not mined before the confirmation timeout.",
		}),

		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_reconnects_total",
			Help:      "Subscriptions re-established after a failure.",
		}),
		Backfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_backfilled_logs_total",
			Help:      "Logs recovered with FilterLogs after a reconnect.",
		}),
		Subscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_active",
			Help:      "1 while the log subscription is live.",
		}),
		HealthStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_check_status",
			Help:      "Result of the last health check, 1 when healthy.",
		}, []string{"check"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsReceived,
		m.DecodeFailures,
		m.StatusQueryFailures,
		m.Statuses,
		m.InFlightSkipped,
		m.InFlight,
		m.Submissions,
		m.SubmissionFailures,
		m.Confirmations,
		m.Reverts,
		m.ConfirmTimeouts,
		m.Reconnects,
		m.Backfilled,
		m.Subscribed,
		m.HealthStatus,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveStatus counts one resolved status.
func (m *Metrics) ObserveStatus(status string) {
	m.Statuses.WithLabelValues(status).Inc()
}

// SetHealth records the outcome of a named health check.
func (m *Metrics) SetHealth(check string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	m.HealthStatus.WithLabelValues(check).Set(value)
}
