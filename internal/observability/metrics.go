package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Session lifecycle events recorded by RecordSessionEvent.
const (
	SessionBegin   = "begin"
	SessionCancel  = "cancel"
	SessionTimeout = "timeout"
)

// Packet outcomes recorded by RecordPacket.
const (
	PacketRouted      = "routed"
	PacketReset       = "reset"
	PacketUndecodable = "undecodable"
	PacketRejected    = "rejected"
	PacketRateLimited = "rate_limited"
	PacketSent        = "sent"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "exchange",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle transitions by protocol.",
		},
		[]string{"node", "protocol", "event"},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "exchange",
			Subsystem: "packet",
			Name:      "total",
			Help:      "Packets handled by the responser loop by outcome.",
		},
		[]string{"node", "protocol", "outcome"},
	)
	connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "exchange",
			Subsystem: "transport",
			Name:      "connections_active",
			Help:      "Currently served connections.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, sessionEvents, packets, connections)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionEvent(node, protocol, event string) {
	RegisterMetrics()
	sessionEvents.WithLabelValues(node, protocol, event).Inc()
}

func RecordPacket(node, protocol, outcome string) {
	RegisterMetrics()
	packets.WithLabelValues(node, protocol, outcome).Inc()
}

func ConnectionOpened(node string) {
	RegisterMetrics()
	connections.WithLabelValues(node).Inc()
}

func ConnectionClosed(node string) {
	RegisterMetrics()
	connections.WithLabelValues(node).Dec()
}
