package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics exported by the relay.
type Metrics struct {
	ActiveParticipants  prometheus.Gauge
	ConnectionsTotal    prometheus.Counter
	MessagesRouted      prometheus.Counter
	VideoPacketsRelayed prometheus.Counter
	AudioPacketsRelayed prometheus.Counter
	ShareFramesRelayed  prometheus.Counter
	FilesUploaded       prometheus.Counter
	BytesUploaded       prometheus.Counter
	BytesDownloaded     prometheus.Counter
	ParseErrors         prometheus.Counter
	DroppedDeliveries   prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveParticipants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_participants",
			Help: "Current number of logged-in participants",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_connections_total",
			Help: "Total number of accepted control connections",
		}),
		MessagesRouted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_messages_routed_total",
			Help: "Total number of control messages routed",
		}),
		VideoPacketsRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_video_packets_relayed_total",
			Help: "Total number of video packets fanned out",
		}),
		AudioPacketsRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_packets_relayed_total",
			Help: "Total number of audio packets fanned out",
		}),
		ShareFramesRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_share_frames_relayed_total",
			Help: "Total number of screen-share frames pushed to viewers",
		}),
		FilesUploaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_files_uploaded_total",
			Help: "Total number of completed uploads",
		}),
		BytesUploaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_uploaded_total",
			Help: "Total bytes received by the upload server",
		}),
		BytesDownloaded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_downloaded_total",
			Help: "Total bytes streamed by the download server",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_parse_errors_total",
			Help: "Total number of malformed frames and packets",
		}),
		DroppedDeliveries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_dropped_deliveries_total",
			Help: "Total number of outbound messages dropped on slow consumers",
		}),
	}
}
