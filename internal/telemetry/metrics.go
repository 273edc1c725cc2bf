package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every prometheus collector the hub and pipeline touch.
// Construct once per process with NewMetrics and pass by pointer.
type Metrics struct {
	HubConnections        prometheus.Gauge
	HubCallsTotal         *prometheus.CounterVec
	FramesReceived        prometheus.Counter
	DetectionAlerts       *prometheus.CounterVec
	TransferBytes         *prometheus.CounterVec
	TransferChunksNak     *prometheus.CounterVec
	RemoteControlSessions *prometheus.GaugeVec
}

// NewMetrics registers every collector against reg. Pass
// prometheus.NewRegistry() in production and a fresh registry per test in
// tests to avoid duplicate-registration panics across parallel test runs.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		HubConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "controledu_hub_connections",
			Help: "Current number of live hub sessions (teacher + student).",
		}),
		HubCallsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "controledu_hub_calls_total",
			Help: "Hub RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		FramesReceived: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "controledu_frames_received_total",
			Help: "Total JPEG frames received from student agents.",
		}),
		DetectionAlerts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "controledu_detection_alerts_total",
			Help: "Detection alerts emitted by class.",
		}, []string{"class"}),
		TransferBytes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "controledu_transfer_bytes_total",
			Help: "File transfer bytes moved by direction.",
		}, []string{"direction"}),
		TransferChunksNak: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "controledu_transfer_chunk_rejections_total",
			Help: "Chunk uploads rejected by reason.",
		}, []string{"reason"}),
		RemoteControlSessions: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "controledu_remote_control_sessions",
			Help: "Remote-control sessions by state.",
		}, []string{"state"}),
	}
}
