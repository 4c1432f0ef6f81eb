package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatroom_connected_clients",
		Help: "Number of currently connected clients",
	})

	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_events_total",
		Help: "Reactor events handled, by type",
	}, []string{"type"})

	EventProcessingDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatroom_event_processing_seconds",
		Help:    "Time to dispatch each readiness event type",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	BytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatroom_bytes_total",
		Help: "Bytes moved through relay sockets, by direction",
	}, []string{"direction"})

	bytesIn  = BytesTotal.WithLabelValues("in")
	bytesOut = BytesTotal.WithLabelValues("out")
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(EventProcessingDuration)
	prometheus.MustRegister(BytesTotal)
}
