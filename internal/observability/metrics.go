package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bmsmon"

// Metrics holds every collector of one monitor process.
// Collectors are registered on the registry passed to NewMetrics.
type Metrics struct {
	FramesReceived  prometheus.Counter
	FramesSent      prometheus.Counter
	FramesDiscarded prometheus.Counter
	IOErrors        *prometheus.CounterVec

	Events       *prometheus.CounterVec
	Unroutable   prometheus.Counter
	LayoutErrors prometheus.Counter

	PeriodicSent *prometheus.CounterVec
	LinkHealth   prometheus.Gauge

	ExportWrites *prometheus.CounterVec
	Published    *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "adapter", Name: "frames_received_total",
			Help: "Frames read from the hardware channel and forwarded for decoding.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "adapter", Name: "frames_sent_total",
			Help: "Frames written to the hardware channel.",
		}),
		FramesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "adapter", Name: "frames_discarded_total",
			Help: "Frames read and dropped while monitoring was not armed.",
		}),
		IOErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "adapter", Name: "io_errors_total",
			Help: "Hardware channel errors by operation.",
		}, []string{"op"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "events_total",
			Help: "Decoded telemetry events by kind.",
		}, []string{"kind"}),
		Unroutable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "unroutable_frames_total",
			Help: "Frames that matched no telemetry rule.",
		}),
		LayoutErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "decoder", Name: "layout_errors_total",
			Help: "Frames that matched a rule but could not be decoded.",
		}),
		PeriodicSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "emitter", Name: "requests_total",
			Help: "Periodic state request frames enqueued by request kind.",
		}, []string{"request"}),
		LinkHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "link_health",
			Help: "Link health code: 0 unknown, 1 ok, 2 error, 3 stale.",
		}),
		ExportWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "export", Name: "writes_total",
			Help: "Register writes to export targets.",
		}, []string{"target", "result"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mqtt", Name: "published_total",
			Help: "Events published to the MQTT broker.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	reg.MustRegister(
		m.FramesReceived, m.FramesSent, m.FramesDiscarded, m.IOErrors,
		m.Events, m.Unroutable, m.LayoutErrors,
		m.PeriodicSent, m.LinkHealth,
		m.ExportWrites, m.Published,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Discard returns metrics bound to a throwaway registry.
func Discard() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	label := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, label).Inc()
	m.httpDuration.WithLabelValues(method, path, label).Observe(d.Seconds())
}
