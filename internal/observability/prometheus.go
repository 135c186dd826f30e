package observability

import (
	"time"

	"trading/internal/trading/saga"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors exports saga, bus and call metrics to Prometheus and mirrors
// transitions into the JSON Metrics.
type Collectors struct {
	registry *prometheus.Registry
	json     *Metrics

	transitions   *prometheus.CounterVec
	ignored       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	deadLetters   *prometheus.CounterVec
	outbox        *prometheus.CounterVec
	callLatency   *prometheus.HistogramVec
	calls         *prometheus.CounterVec
}

// NewCollectors registers trading metrics on a fresh registry.
func NewCollectors(json *Metrics) *Collectors {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	c := &Collectors{
		registry: registry,
		json:     json,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purchase_saga_transitions_total",
			Help: "Saga state transitions.",
		}, []string{"from", "to", "event"}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purchase_saga_ignored_events_total",
			Help: "Events ignored by the saga state machine.",
		}, []string{"state", "event"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "purchase_status_notifications_total",
			Help: "Status notifications by result.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_deliveries_total",
			Help: "Consumed bus messages by source and result.",
		}, []string{"source", "result"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bus_dead_letters_total",
			Help: "Messages moved to a dead-letter destination.",
		}, []string{"source"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_dispatch_total",
			Help: "Outbox messages published by destination and result.",
		}, []string{"destination", "result"}),
		callLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "api_call_duration_seconds",
			Help:    "HTTP and gRPC call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "api_calls_total",
			Help: "HTTP and gRPC calls by result.",
		}, []string{"method", "result"}),
	}
	registry.MustRegister(c.transitions, c.ignored, c.notifications, c.deliveries,
		c.deadLetters, c.outbox, c.callLatency, c.calls)
	return c
}

// Registry exposes the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry { return c.registry }

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (c *Collectors) RecordTransition(from, to saga.State, event string) {
	c.transitions.WithLabelValues(string(from), string(to), event).Inc()
	c.json.AddTransition(string(from), string(to))
}

func (c *Collectors) RecordIgnored(state saga.State, event string) {
	c.ignored.WithLabelValues(string(state), event).Inc()
}

func (c *Collectors) RecordNotification(err error) {
	c.notifications.WithLabelValues(result(err)).Inc()
}

func (c *Collectors) RecordDelivery(source string, err error, deadLettered bool) {
	c.deliveries.WithLabelValues(source, result(err)).Inc()
	if deadLettered {
		c.deadLetters.WithLabelValues(source).Inc()
	}
}

func (c *Collectors) RecordOutboxDispatch(destination string, err error) {
	c.outbox.WithLabelValues(destination, result(err)).Inc()
}

// ObserveCall records an API call latency and result.
func (c *Collectors) ObserveCall(method string, started time.Time, err error) {
	c.callLatency.WithLabelValues(method).Observe(time.Since(started).Seconds())
	c.calls.WithLabelValues(method, result(err)).Inc()
}
