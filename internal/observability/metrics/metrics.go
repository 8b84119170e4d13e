// Package metrics exposes the application-level prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Metrics holds the instruments the services record into.
type Metrics struct {
	webhookEvents         *prometheus.CounterVec
	upgradeCancelFailures prometheus.Counter
	rateLimitDenied       *prometheus.CounterVec
	sweepReleased         *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhook_events_total",
			Help:      "Webhook deliveries by event type and outcome.",
		}, []string{"type", "outcome"}),
		upgradeCancelFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "upgrade_cancel_failures_total",
			Help:      "Upgrades whose replaced subscription could not be cancelled after all retries.",
		}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "rate_limit_denied_total",
			Help:      "Requests rejected by a rate limiter.",
		}, []string{"limiter"}),
		sweepReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "sweep_released_total",
			Help:      "Rows released or deleted by scheduler sweeps.",
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.webhookEvents,
		m.upgradeCancelFailures,
		m.rateLimitDenied,
		m.sweepReleased,
	)
	return m
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordUpgradeCancelFailure() {
	m.upgradeCancelFailures.Inc()
}

func (m *Metrics) RecordRateLimitDenied(limiter string) {
	m.rateLimitDenied.WithLabelValues(limiter).Inc()
}

func (m *Metrics) RecordSweep(job string, released int64) {
	m.sweepReleased.WithLabelValues(job).Add(float64(released))
}

var Module = fx.Module("observability.metrics",
	fx.Provide(func() *prometheus.Registry {
		reg := prometheus.NewRegistry()
		return reg
	}),
	fx.Provide(func(reg *prometheus.Registry) prometheus.Registerer { return reg }),
	fx.Provide(New),
)
