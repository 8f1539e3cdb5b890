// Package metrics provides Prometheus metrics for the adjustment pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	StageFailures         *prometheus.CounterVec
	RunsTotal             *prometheus.CounterVec
	EngineDuration        *prometheus.HistogramVec
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	ConsumerLag           *prometheus.GaugeVec
	CircuitBreakerState   *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates the metrics and registers them with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tdm_requests_total",
			Help: "Adjustment requests processed, by outcome",
		}, []string{"outcome"}),
		StageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tdm_stage_failures_total",
			Help: "Requests stopped by a pipeline stage",
		}, []string{"stage"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tdm_runs_total",
			Help: "Query runs, by status",
		}, []string{"status"}),
		EngineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tdm_engine_call_duration_seconds",
			Help:    "Computation engine call duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		ConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kafka_consumer_group_lag",
			Help: "Messages not yet consumed by the query worker group, by topic",
		}, []string{"topic"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.StageFailures,
		m.RunsTotal,
		m.EngineDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.ConsumerLag,
		m.CircuitBreakerState,
	)

	return m
}

// RequestProcessed counts one request
func (m *Metrics) RequestProcessed(outcome string) {
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// StageFailed counts a request stopped by stage
func (m *Metrics) StageFailed(stage string) {
	m.StageFailures.WithLabelValues(stage).Inc()
}

// RunCompleted counts a query run
func (m *Metrics) RunCompleted(status string) {
	m.RunsTotal.WithLabelValues(status).Inc()
}

// ObserveEngineCall records the duration of a computation engine call
func (m *Metrics) ObserveEngineCall(status string, d time.Duration) {
	m.EngineDuration.WithLabelValues(status).Observe(d.Seconds())
}

// SetBreakerState publishes the state of a circuit breaker
func (m *Metrics) SetBreakerState(name string, state int) {
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// SetConsumerLag publishes the lag of the consumer group on topic
func (m *Metrics) SetConsumerLag(topic string, lag int64) {
	m.ConsumerLag.WithLabelValues(topic).Set(float64(lag))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the metrics in the node exporter textfile format,
// for one-shot runs that exit before any scrape.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.gatherer)
}
