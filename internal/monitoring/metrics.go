package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "umrr"

// Batch outcomes recorded by BatchDone.
const (
	BatchOK          = "ok"
	BatchDecodeError = "decode_error"
	BatchUnknownSlot = "unknown_slot"
	BatchMismatch    = "variant_mismatch"
	BatchRefused     = "refused"
)

// Command states recorded by Command.
const (
	CommandIssued     = "issued"
	CommandCompleted  = "completed"
	CommandOrphaned   = "orphaned"
	CommandSendFailed = "send_failed"
	CommandRejected   = "rejected"
)

// Metrics is the bridge's prometheus instrumentation. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	batches         *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	points          *prometheus.CounterVec
	decodeDuration  *prometheus.HistogramVec
	commands        *prometheus.CounterVec
	orphanResponses prometheus.Counter
	outstanding     prometheus.Gauge

	frames        *prometheus.CounterVec
	frameBytes    *prometheus.CounterVec
	framesDropped *prometheus.CounterVec
}

// NewMetrics creates the metrics on a private registry along with the
// standard process and Go runtime collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "batches_total",
			Help:      "Telemetry batches received, by slot and outcome.",
		}, []string{"slot", "status"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "records_dropped_total",
			Help:      "Target records omitted by per-record sanity checks.",
		}, []string{"slot"}),
		points: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "points_published_total",
			Help:      "Points handed to the output sink.",
		}, []string{"slot"}),
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "telemetry",
			Name:      "decode_duration_seconds",
			Help:      "Time to decode one batch.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"variant"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "transitions_total",
			Help:      "Outstanding request transitions, by category and state.",
		}, []string{"category", "state"}),
		orphanResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "orphan_responses_total",
			Help:      "Responses that matched no issued request.",
		}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "outstanding",
			Help:      "Requests currently awaiting a response.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_total",
			Help:      "Transport frames received, by link and direction.",
		}, []string{"link", "direction"}),
		frameBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "bytes_total",
			Help:      "Transport payload bytes, by link and direction.",
		}, []string{"link", "direction"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded by the transport, by link and reason.",
		}, []string{"link", "reason"}),
	}
	m.registry.MustRegister(
		m.batches, m.dropped, m.points, m.decodeDuration,
		m.commands, m.orphanResponses, m.outstanding,
		m.frames, m.frameBytes, m.framesDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// BatchDone counts one telemetry batch for slot.
func (m *Metrics) BatchDone(slot int, status string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(strconv.Itoa(slot), status).Inc()
}

// RecordsDropped adds n dropped records for slot.
func (m *Metrics) RecordsDropped(slot, n int) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.WithLabelValues(strconv.Itoa(slot)).Add(float64(n))
}

// PointsPublished adds n published points for slot.
func (m *Metrics) PointsPublished(slot, n int) {
	if m == nil {
		return
	}
	m.points.WithLabelValues(strconv.Itoa(slot)).Add(float64(n))
}

// ObserveDecode records one decode's latency.
func (m *Metrics) ObserveDecode(variant string, d time.Duration) {
	if m == nil {
		return
	}
	m.decodeDuration.WithLabelValues(variant).Observe(d.Seconds())
}

// Command counts a request transition.
func (m *Metrics) Command(category, state string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(category, state).Inc()
}

// OrphanResponse counts a response with no issued request.
func (m *Metrics) OrphanResponse() {
	if m == nil {
		return
	}
	m.orphanResponses.Inc()
}

// SetOutstanding sets the outstanding request gauge.
func (m *Metrics) SetOutstanding(n int) {
	if m == nil {
		return
	}
	m.outstanding.Set(float64(n))
}

// Frame counts one transport frame of n bytes. direction is "rx" or "tx".
func (m *Metrics) Frame(link, direction string, n int) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(link, direction).Inc()
	m.frameBytes.WithLabelValues(link, direction).Add(float64(n))
}

// FrameDropped counts a frame the transport discarded.
func (m *Metrics) FrameDropped(link, reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(link, reason).Inc()
}
