package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askmesh_questions_total",
			Help: "Total number of questions handled, by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
	questionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askmesh_question_duration_seconds",
			Help:    "End to end latency of a question flow.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"channel"},
	)
	envelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askmesh_stream_envelopes_total",
			Help: "Total number of stream envelopes emitted, by kind.",
		},
		[]string{"kind"},
	)
	collaboratorFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askmesh_collaborator_failures_total",
			Help: "Total number of translator, query or visualizer failures, by stage.",
		},
		[]string{"stage"},
	)
	translationLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askmesh_translation_latency_ms",
			Help:    "Natural language to SQL translation latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"provider"},
	)
	activeWebSockets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askmesh_active_websockets",
			Help: "Current number of registered websocket connections.",
		},
	)
	broadcastEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askmesh_broadcast_evictions_total",
			Help: "Total number of websocket connections evicted after a failed broadcast send.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		questionDurationSeconds,
		envelopesTotal,
		collaboratorFailuresTotal,
		translationLatencyMs,
		activeWebSockets,
		broadcastEvictionsTotal,
	)
}

func ObserveQuestion(channel, outcome string, elapsed time.Duration) {
	questionsTotal.WithLabelValues(channel, outcome).Inc()
	questionDurationSeconds.WithLabelValues(channel).Observe(elapsed.Seconds())
}

func ObserveEnvelope(kind string) {
	envelopesTotal.WithLabelValues(kind).Inc()
}

func IncrementCollaboratorFailure(stage string) {
	collaboratorFailuresTotal.WithLabelValues(stage).Inc()
}

func ObserveTranslation(provider string, elapsed time.Duration) {
	translationLatencyMs.WithLabelValues(provider).Observe(float64(elapsed.Milliseconds()))
}

func SetActiveWebSockets(count int) {
	if count < 0 {
		count = 0
	}
	activeWebSockets.Set(float64(count))
}

func AddBroadcastEvictions(count int) {
	if count > 0 {
		broadcastEvictionsTotal.Add(float64(count))
	}
}
