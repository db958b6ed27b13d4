package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stageDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
	Name: "inference_stage_duration_seconds",
	Help: "Duration of each step of a prediction.",
	Objectives: map[float64]float64{
		0.50: 0.05,
		0.90: 0.05,
		0.95: 0.02,
		0.99: 0.01,
	},
}, []string{"stage"})

var predictions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "predictions_total",
		Help: "Number of predictions served, by predicted class.",
	},
	[]string{"class"},
)

var rejectedInputs = promauto.NewCounter(prometheus.CounterOpts{
	Name: "prediction_rejected_inputs_total",
	Help: "Number of uploads that could not be decoded.",
})

func startStage(stage string) *prometheus.Timer {
	return prometheus.NewTimer(stageDuration.WithLabelValues(stage))
}
