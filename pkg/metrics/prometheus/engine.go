// Package prometheus holds the Prometheus implementations of the metrics
// interfaces consumed elsewhere. Importing it (usually blank) registers the
// constructors with pkg/metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/flock/pkg/engine"
	"github.com/marmos91/flock/pkg/metrics"
)

func init() {
	metrics.RegisterEngineMetricsConstructor(newEngineMetrics)
}

// engineMetrics is the Prometheus implementation of engine.Metrics.
type engineMetrics struct {
	sessionsStarted  prometheus.Counter
	sessionsEnded    *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	participantJoins prometheus.Counter
	participantExits *prometheus.CounterVec
	attachments      prometheus.Counter
	detachments      *prometheus.CounterVec
	locationUpdates  *prometheus.CounterVec
	broadcasts       *prometheus.CounterVec
	broadcastFanout  prometheus.Histogram
	framesDropped    *prometheus.CounterVec
	commandsRejected *prometheus.CounterVec
}

func newEngineMetrics() engine.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &engineMetrics{
		sessionsStarted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "flock_sessions_started_total",
			Help: "Total number of session coordinators started",
		}),
		sessionsEnded: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flock_sessions_ended_total",
			Help: "Total number of sessions ended by terminal reason",
		}, []string{"reason"}), // "expired", "idle", "ended_by_creator"
		sessionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "flock_sessions_active",
			Help: "Number of sessions with a live coordinator",
		}),
		participantJoins: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "flock_participants_joined_total",
			Help: "Total number of participants that entered a session",
		}),
		participantExits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flock_participants_left_total",
			Help: "Total number of participants removed by reason",
		}, []string{"reason"}), // "left", "timeout"
		attachments: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "flock_attachments_total",
			Help: "Total number of successful attachments",
		}),
		detachments: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flock_detachments_total",
			Help: "Total number of attachment releases by reason",
		}, []string{"reason"}), // "client_closed", "superseded", "slow_consumer", ...
		locationUpdates: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flock_location_updates_total",
			Help: "Total number of ingested location updates by result",
		}, []string{"result"}), // "accepted", "stale", "invalid"
		broadcasts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flock_broadcasts_total",
			Help: "Total number of fan-outs by frame type",
		}, []string{"frame_type"}),
		broadcastFanout: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "flock_broadcast_fanout",
			Help:    "Distribution of queues reached per fan-out",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		framesDropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flock_frames_dropped_total",
			Help: "Total number of frames evicted from full outbound queues by frame type",
		}, []string{"frame_type"}),
		commandsRejected: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "flock_commands_rejected_total",
			Help: "Total number of commands shed by a full session mailbox",
		}, []string{"command"}),
	}
}

func (m *engineMetrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.sessionsStarted.Inc()
	m.sessionsActive.Inc()
}

func (m *engineMetrics) RecordSessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(reason).Inc()
	m.sessionsActive.Dec()
}

func (m *engineMetrics) RecordParticipantJoined() {
	if m == nil {
		return
	}
	m.participantJoins.Inc()
}

func (m *engineMetrics) RecordParticipantLeft(reason string) {
	if m == nil {
		return
	}
	m.participantExits.WithLabelValues(reason).Inc()
}

func (m *engineMetrics) RecordAttachment() {
	if m == nil {
		return
	}
	m.attachments.Inc()
}

func (m *engineMetrics) RecordDetachment(reason string) {
	if m == nil {
		return
	}
	m.detachments.WithLabelValues(reason).Inc()
}

func (m *engineMetrics) RecordLocationUpdate(result string) {
	if m == nil {
		return
	}
	m.locationUpdates.WithLabelValues(result).Inc()
}

func (m *engineMetrics) RecordBroadcast(frameType string, fanout int) {
	if m == nil {
		return
	}
	m.broadcasts.WithLabelValues(frameType).Inc()
	m.broadcastFanout.Observe(float64(fanout))
}

func (m *engineMetrics) RecordFrameDropped(frameType string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(frameType).Inc()
}

func (m *engineMetrics) RecordCommandRejected(command string) {
	if m == nil {
		return
	}
	m.commandsRejected.WithLabelValues(command).Inc()
}
