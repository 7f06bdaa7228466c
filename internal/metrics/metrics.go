package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Stream metrics
	ActiveStreams  prometheus.Gauge
	StreamsStarted prometheus.Counter
	StreamsReaped  prometheus.Counter
	StreamDuration prometheus.Histogram

	// Frame metrics
	FramesReceived *prometheus.CounterVec
	FrameSize      *prometheus.HistogramVec
	KeyFrames      prometheus.Counter

	// Subscriber metrics
	ActiveSubscribers  prometheus.Gauge
	SubscriberSessions prometheus.Counter
	SubscribersDropped *prometheus.CounterVec

	// Command metrics
	Commands        *prometheus.CounterVec
	CommandsDropped *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// RTMP metrics
	RTMPConnections   prometheus.Counter
	RTMPDisconnects   prometheus.Counter
	ActiveConnections prometheus.Gauge
	RTMPErrors        *prometheus.CounterVec
	RTMPBytesReceived prometheus.Counter
	RTMPBytesSent     prometheus.Counter

	registry *prometheus.Registry
}

// New creates all metrics and registers them, along with the Go runtime and
// process collectors, on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "gopcast_active_streams",
			Help: "Number of streams currently in the registry",
		}),
		StreamsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "gopcast_streams_started_total",
			Help: "Total number of streams started by a publish",
		}),
		StreamsReaped: f.NewCounter(prometheus.CounterOpts{
			Name: "gopcast_streams_reaped_total",
			Help: "Total number of streams removed after their publisher went away",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gopcast_stream_duration_seconds",
			Help:    "Duration of streams in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~2.8h
		}),

		FramesReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopcast_frames_received_total",
				Help: "Total number of media messages received from publishers",
			},
			[]string{"stream_key", "type"}, // type: video, audio or text
		),
		FrameSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gopcast_frame_size_bytes",
				Help:    "Size of media messages in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B to 1MB
			},
			[]string{"type"},
		),
		KeyFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "gopcast_keyframes_total",
			Help: "Total number of key frames received",
		}),

		ActiveSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "gopcast_active_subscribers",
			Help: "Number of subscribers attached to streams",
		}),
		SubscriberSessions: f.NewCounter(prometheus.CounterOpts{
			Name: "gopcast_subscriber_sessions_total",
			Help: "Total number of successful play requests",
		}),
		SubscribersDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopcast_subscribers_dropped_total",
				Help: "Subscribers removed from a stream",
			},
			[]string{"reason"},
		),

		Commands: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopcast_commands_total",
				Help: "Commands dispatched, by name and outcome",
			},
			[]string{"command", "outcome"},
		),
		CommandsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopcast_commands_dropped_total",
				Help: "Commands rejected by policy or malformed",
			},
			[]string{"reason"},
		),

		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopcast_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gopcast_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		RTMPConnections: f.NewCounter(prometheus.CounterOpts{
			Name: "gopcast_rtmp_connections_total",
			Help: "Total number of RTMP connections",
		}),
		RTMPDisconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "gopcast_rtmp_disconnects_total",
			Help: "Total number of RTMP disconnections",
		}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "gopcast_rtmp_active_connections",
			Help: "Number of open RTMP connections",
		}),
		RTMPErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gopcast_rtmp_errors_total",
				Help: "Connection-fatal RTMP errors",
			},
			[]string{"stage"}, // handshake, framing, io, slow_consumer
		),
		RTMPBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "gopcast_rtmp_bytes_received_total",
			Help: "Total bytes received via RTMP",
		}),
		RTMPBytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "gopcast_rtmp_bytes_sent_total",
			Help: "Total bytes sent via RTMP",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordStreamStart records a stream starting
func (m *Metrics) RecordStreamStart() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
	m.StreamsStarted.Inc()
}

// RecordStreamReaped records a stream removed by the sweep
func (m *Metrics) RecordStreamReaped(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamsReaped.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordFrame records a media message received; kind is video, audio or text.
func (m *Metrics) RecordFrame(streamKey, kind string, size int) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(streamKey, kind).Inc()
	m.FrameSize.WithLabelValues(kind).Observe(float64(size))
}

// RecordKeyFrame records a keyframe
func (m *Metrics) RecordKeyFrame() {
	if m == nil {
		return
	}
	m.KeyFrames.Inc()
}

func (m *Metrics) RecordSubscriberAdded() {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Inc()
	m.SubscriberSessions.Inc()
}

// RecordSubscriberDropped records a subscriber leaving a stream, either because
// its connection went inactive or because its stream was reaped.
func (m *Metrics) RecordSubscriberDropped(reason string) {
	if m == nil {
		return
	}
	m.ActiveSubscribers.Dec()
	m.SubscribersDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordCommand(name, outcome string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) RecordCommandDropped(reason string) {
	if m == nil {
		return
	}
	m.CommandsDropped.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// RecordRTMPConnection records an RTMP connection
func (m *Metrics) RecordRTMPConnection() {
	if m == nil {
		return
	}
	m.RTMPConnections.Inc()
	m.ActiveConnections.Inc()
}

// RecordRTMPDisconnect records an RTMP disconnection
func (m *Metrics) RecordRTMPDisconnect() {
	if m == nil {
		return
	}
	m.RTMPDisconnects.Inc()
	m.ActiveConnections.Dec()
}

// RecordRTMPError records a connection-fatal error at the given stage
func (m *Metrics) RecordRTMPError(stage string) {
	if m == nil {
		return
	}
	m.RTMPErrors.WithLabelValues(stage).Inc()
}

// RecordRTMPBytes records bytes received via RTMP
func (m *Metrics) RecordRTMPBytes(n int) {
	if m == nil {
		return
	}
	m.RTMPBytesReceived.Add(float64(n))
}

func (m *Metrics) RecordRTMPBytesSent(n int) {
	if m == nil {
		return
	}
	m.RTMPBytesSent.Add(float64(n))
}

// statusCodeToString converts an HTTP status code to a string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
