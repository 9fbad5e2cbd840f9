package broker

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"
)

// metrics carries the broker's prometheus instruments and, when a Meter
// is configured, mirrors the counters to OpenTelemetry.
type metrics struct {
	messagesReceived    prometheus.Counter
	dispatchErrors      prometheus.Counter
	evictions           prometheus.Counter
	registeredProcesses prometheus.Gauge

	otelReceived metric.Int64Counter
	otelErrors   metric.Int64Counter
}

func newMetrics(reg prometheus.Registerer, meter metric.Meter) (*metrics, error) {
	m := &metrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floe_broker_messages_received_total",
			Help: "Total number of control messages received.",
		}),
		dispatchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floe_broker_dispatch_errors_total",
			Help: "Total number of control messages that failed to dispatch.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floe_broker_evictions_total",
			Help: "Total number of processes evicted by the liveness monitor.",
		}),
		registeredProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "floe_broker_registered_processes",
			Help: "Number of currently registered processes.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.messagesReceived, m.dispatchErrors, m.evictions, m.registeredProcesses,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	if meter != nil {
		var err error
		m.otelReceived, err = meter.Int64Counter("floe.broker.messages_received",
			metric.WithDescription("Total number of control messages received."))
		if err != nil {
			return nil, err
		}
		m.otelErrors, err = meter.Int64Counter("floe.broker.dispatch_errors",
			metric.WithDescription("Total number of control messages that failed to dispatch."))
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) received() {
	m.messagesReceived.Inc()
	if m.otelReceived != nil {
		m.otelReceived.Add(context.Background(), 1)
	}
}

func (m *metrics) dispatchError() {
	m.dispatchErrors.Inc()
	if m.otelErrors != nil {
		m.otelErrors.Add(context.Background(), 1)
	}
}

func (m *metrics) evicted() {
	m.evictions.Inc()
}

func (m *metrics) setRegistered(n int) {
	m.registeredProcesses.Set(float64(n))
}
