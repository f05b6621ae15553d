// Package metrics holds the Prometheus collectors shared by the daemons.
//
// A nil *Metrics is valid and records nothing, so packages can take one
// without forcing tests to build a registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "caracas"

// Metrics contains every collector a daemon may update.
type Metrics struct {
	registry *prometheus.Registry

	EventsPublished   *prometheus.CounterVec
	InputNoise        *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	EventsRelayed     *prometheus.CounterVec
	Commands          *prometheus.CounterVec
	ServiceReconnects prometheus.Counter
	ServiceConnected  prometheus.Gauge
}

// New creates and registers all collectors plus the Go runtime collectors.
func New(daemon string) *Metrics {
	constLabels := prometheus.Labels{"daemon": daemon}

	m := &Metrics{
		registry: prometheus.NewRegistry(),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "bus",
				Name:        "events_published_total",
				Help:        "Events published on the bus, by source",
				ConstLabels: constLabels,
			},
			[]string{"source"},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "bus",
				Name:        "messages_received_total",
				Help:        "Messages received from the bus, by outcome (ok, malformed)",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),

		EventsRelayed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "broker",
				Name:        "events_relayed_total",
				Help:        "Events relayed from publishers to subscribers, by source",
				ConstLabels: constLabels,
			},
			[]string{"source"},
		),

		InputNoise: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "input",
				Name:        "noise_total",
				Help:        "Input transitions that did not settle within the debounce window",
				ConstLabels: constLabels,
			},
			[]string{"channel"},
		),

		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "dispatch",
				Name:        "commands_total",
				Help:        "Media commands by name and result (ok, rejected, retried)",
				ConstLabels: constLabels,
			},
			[]string{"command", "result"},
		),

		ServiceReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "dispatch",
				Name:        "service_connect_attempts_total",
				Help:        "Connection attempts to the media service",
				ConstLabels: constLabels,
			},
		),

		ServiceConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "dispatch",
				Name:        "service_connected",
				Help:        "1 while a media service connection is held",
				ConstLabels: constLabels,
			},
		),
	}

	m.registry.MustRegister(
		m.EventsPublished,
		m.MessagesReceived,
		m.EventsRelayed,
		m.InputNoise,
		m.Commands,
		m.ServiceReconnects,
		m.ServiceConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Relayed(source string) {
	if m == nil {
		return
	}
	m.EventsRelayed.WithLabelValues(source).Inc()
}

func (m *Metrics) Published(source string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(source).Inc()
}

func (m *Metrics) Received(outcome string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Noise(channel string) {
	if m == nil {
		return
	}
	m.InputNoise.WithLabelValues(channel).Inc()
}

func (m *Metrics) Command(name, result string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name, result).Inc()
}

func (m *Metrics) ConnectAttempt() {
	if m == nil {
		return
	}
	m.ServiceReconnects.Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.ServiceConnected.Set(1)
	} else {
		m.ServiceConnected.Set(0)
	}
}
