// Package metrics holds the broker's Prometheus instruments. Everything is
// registered on an instance-owned registry so tests can create isolated sets.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates every broker instrument.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	FramesTotal       *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec

	MessagesIngress   prometheus.Counter
	MessagesDelivered prometheus.Counter
	DeliveriesFailed  prometheus.Counter
	MessagesExpired   prometheus.Counter
	QueueDepth        prometheus.Gauge
	DeliveryLatency   prometheus.Histogram

	RoomEventsTotal *prometheus.CounterVec
	OpDuration      *prometheus.SummaryVec
}

// New creates a metrics set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_connections_total",
			Help: "Total WebSocket connections established.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_connections_active",
			Help: "Currently live WebSocket connections.",
		}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_total",
			Help: "Inbound frames by kind.",
		}, []string{"kind"}),
		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Errors surfaced to clients by code.",
		}, []string{"code"}),
		MessagesIngress: factory.NewCounter(prometheus.CounterOpts{
			Name: "bus_messages_ingress_total",
			Help: "Messages accepted into the routing queue.",
		}),
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "bus_messages_delivered_total",
			Help: "Message copies emitted to recipient sessions.",
		}),
		DeliveriesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "bus_deliveries_failed_total",
			Help: "Deliveries that exhausted their retry budget.",
		}),
		MessagesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "bus_messages_expired_total",
			Help: "Messages removed by TTL expiry.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bus_queue_depth",
			Help: "Messages waiting in the priority queue.",
		}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bus_delivery_latency_seconds",
			Help:    "Time from ingress to first emission per recipient.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 30},
		}),
		RoomEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "room_events_total",
			Help: "Room events fanned out, by event name.",
		}, []string{"event"}),
		OpDuration: factory.NewSummaryVec(prometheus.SummaryOpts{
			Name:       "op_duration_seconds",
			Help:       "Room operation latency.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"action"}),
	}
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
