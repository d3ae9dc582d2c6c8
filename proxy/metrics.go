package proxy

import "github.com/prometheus/client_golang/prometheus"

// Metrics namespace/subsystem mirror the teacher's convention of scoping
// every counter under the product name and the component that owns it.
const (
	metricsNamespace = "datum_connect"
	metricsSubsystem = "gateway"
)

var (
	totalRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "total_requests",
			Help:      "Amount of ingress connections accepted by the gateway",
		},
	)
	concurrentRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "concurrent_requests",
			Help:      "Concurrent ingress connections being proxied",
		},
	)
	responseByStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "response_by_status",
			Help:      "Count of gateway-rendered rejection responses by status code",
		},
		[]string{"status_code"},
	)
	peerDialAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "peer_dial_attempts",
			Help:      "Count of peer session dial attempts, split by whether a session already existed",
		},
		[]string{"existing"},
	)
)

func init() {
	prometheus.MustRegister(totalRequests, concurrentRequests, responseByStatus, peerDialAttempts)
}

func recordPeerDialAttempt(existing bool) {
	label := "false"
	if existing {
		label = "true"
	}
	peerDialAttempts.WithLabelValues(label).Inc()
}
