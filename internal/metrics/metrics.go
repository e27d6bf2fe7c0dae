package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the analysis pipeline
var (
	TriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fichua_triggers_total",
			Help: "Triggers handled, by entry point and outcome status",
		},
		[]string{"source", "status"},
	)

	DeliveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fichua_delivery_failures_total",
			Help: "Verdicts that could not be delivered, by entry point",
		},
		[]string{"source"},
	)

	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fichua_poll_cycles_total",
			Help: "Completed poll cycles, by result",
		},
		[]string{"result"},
	)

	AnalyzerAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fichua_analyzer_attempts",
			Help:    "Model calls needed per verdict",
			Buckets: []float64{1, 2, 3},
		},
	)

	VerdictTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fichua_verdict_truncations_total",
			Help: "Verdicts truncated after the retry budget ran out",
		},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fichua_pipeline_duration_seconds",
			Help:    "Duration of one trigger through fetch, analysis and delivery",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)

// Register registers all Prometheus metrics with the default registry
func Register() {
	prometheus.MustRegister(TriggersTotal)
	prometheus.MustRegister(DeliveryFailuresTotal)
	prometheus.MustRegister(PollCyclesTotal)
	prometheus.MustRegister(AnalyzerAttempts)
	prometheus.MustRegister(VerdictTruncations)
	prometheus.MustRegister(PipelineDuration)
}
