package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaengine",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mediaengine",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediaengine",
		Name:      "active_downloads",
		Help:      "Number of downloads currently connecting or downloading.",
	})

	QueuedDownloads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediaengine",
		Name:      "queued_downloads",
		Help:      "Number of downloads waiting for a worker slot.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediaengine",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "mediaengine",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all downloads.",
	})

	DownloadsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaengine",
		Name:      "downloads_completed_total",
		Help:      "Total number of downloads finished successfully.",
	})

	DownloadsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mediaengine",
		Name:      "downloads_failed_total",
		Help:      "Total number of downloads that ended in failure, by reason.",
	}, []string{"reason"})

	ClientRebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaengine",
		Name:      "peer_client_rebuilds_total",
		Help:      "Total number of peer client teardown/rebuild cycles.",
	})

	TranscodeStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaengine",
		Name:      "transcode_starts_total",
		Help:      "Total number of on-the-fly transcode pipelines started.",
	})

	TranscodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mediaengine",
		Name:      "transcode_failures_total",
		Help:      "Total number of transcode pipeline failures.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveDownloads,
		QueuedDownloads,
		DownloadSpeedBytes,
		PeersConnected,
		DownloadsCompletedTotal,
		DownloadsFailedTotal,
		ClientRebuildsTotal,
		TranscodeStartsTotal,
		TranscodeFailuresTotal,
	)
}
