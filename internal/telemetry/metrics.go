package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "aionmeter"

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Packets        prometheus.Counter
	Dropped        prometheus.Counter
	Gaps           prometheus.Counter
	MissingBytes   prometheus.Counter
	Duplicates     prometheus.Counter
	Frames         *prometheus.CounterVec
	Desyncs        *prometheus.CounterVec
	BufferResets   *prometheus.CounterVec
	DecodeFailures *prometheus.CounterVec
	Damage         prometheus.Counter
	Rejections     prometheus.Counter
	CombatResets   *prometheus.CounterVec
	Corrections    prometheus.Counter
	Nicknames      prometheus.Counter
	QueueDepth     prometheus.Gauge
	ActiveStreams  prometheus.Gauge
	CombatPlayers  prometheus.Gauge
}

// NewMetrics creates and registers every pipeline collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Packets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "packets_total",
			Help: "TCP payloads received from the capture source.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "capture", Name: "dropped_total",
			Help: "Packets dropped because the queue was full.",
		}),
		Gaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sequencer", Name: "gaps_total",
			Help: "Sequence gaps accepted without the missing bytes.",
		}),
		MissingBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sequencer", Name: "missing_bytes_total",
			Help: "Bytes skipped over by sequence gaps.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sequencer", Name: "duplicates_total",
			Help: "Retransmitted segments discarded.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "protocol", Name: "frames_total",
			Help: "Frames cut by the framer, by kind.",
		}, []string{"kind"}),
		Desyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "protocol", Name: "desyncs_total",
			Help: "Framer resynchronizations.",
		}, []string{"stream"}),
		BufferResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "protocol", Name: "buffer_resets_total",
			Help: "Framer hard resets on buffer overflow.",
		}, []string{"stream"}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "protocol", Name: "decode_failures_total",
			Help: "Damage decodes that failed, by field.",
		}, []string{"field"}),
		Damage: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "combat", Name: "events_total",
			Help: "Damage events attributed to a player session.",
		}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "combat", Name: "sanity_rejections_total",
			Help: "Damage events rejected by the sanity limit or validator.",
		}),
		CombatResets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "combat", Name: "resets_total",
			Help: "Combat windows closed, by reason.",
		}, []string{"reason"}),
		Corrections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "protocol", Name: "corrections_total",
			Help: "Damage amounts rewritten by a corrector.",
		}),
		Nicknames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "entity", Name: "nicknames_total",
			Help: "Nicknames decoded and applied.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "capture", Name: "queue_depth",
			Help: "Packets waiting in the capture queue.",
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "protocol", Name: "active_streams",
			Help: "Streams with a live framer.",
		}),
		CombatPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "combat", Name: "players",
			Help: "Player sessions in the current combat window.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Packets, m.Dropped, m.Gaps, m.MissingBytes, m.Duplicates,
		m.Frames, m.Desyncs, m.BufferResets, m.DecodeFailures,
		m.Damage, m.Rejections, m.CombatResets, m.Corrections, m.Nicknames,
		m.QueueDepth, m.ActiveStreams, m.CombatPlayers,
	)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// OnDesync implements protocol.FramerObserver.
func (m *Metrics) OnDesync(streamKey string) {
	m.Desyncs.WithLabelValues(streamKey).Inc()
}

// OnBufferReset implements protocol.FramerObserver.
func (m *Metrics) OnBufferReset(streamKey string) {
	m.BufferResets.WithLabelValues(streamKey).Inc()
}

// OnGap implements capture.SequencerObserver.
func (m *Metrics) OnGap(streamKey string, missing uint32) {
	m.Gaps.Inc()
	m.MissingBytes.Add(float64(missing))
}

// OnDuplicate implements capture.SequencerObserver.
func (m *Metrics) OnDuplicate(streamKey string) {
	m.Duplicates.Inc()
}
