package bridge

import (
	"strconv"

	"github.com/arzzra/sip_bridge/pkg/sip/message"
	"github.com/arzzra/sip_bridge/pkg/sip/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sip_bridge"

// Metrics экспортирует метрики звонков в Prometheus
type Metrics struct {
	callsTotal   *prometheus.CounterVec
	callsActive  prometheus.Gauge
	callDuration prometheus.Histogram
	messages     *prometheus.CounterVec
}

// NewMetrics registers the bridge metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "calls_total",
			Help:      "Finished call attempts by outcome",
		}, []string{"outcome"}),
		callsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "calls_active",
			Help:      "Call tasks currently running",
		}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "call_duration_seconds",
			Help:      "Answered call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600}, // до 1 часа
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sip_messages_total",
			Help:      "SIP messages by direction and method or status class",
		}, []string{"direction", "kind"}),
	}
}

func (m *Metrics) callStarted() {
	m.callsActive.Inc()
}

func (m *Metrics) callFinished(r Result) {
	m.callsActive.Dec()
	m.callsTotal.WithLabelValues(string(r.Outcome)).Inc()
	if d := r.Duration(); d > 0 {
		m.callDuration.Observe(d.Seconds())
	}
}

// ObserveMessage counts one SIP message. Requests are labelled by method,
// responses by status class such as "2xx".
func (m *Metrics) ObserveMessage(dir transport.Direction, msg message.Message) {
	kind := "unknown"
	switch v := msg.(type) {
	case *message.Request:
		kind = v.Method
	case *message.Response:
		kind = strconv.Itoa(v.StatusCode/100) + "xx"
	}
	m.messages.WithLabelValues(string(dir), kind).Inc()
}
