package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fpang/nextlevel-variants/internal/pipeline"
)

// Prom holds the worker's Prometheus collectors.
type Prom struct {
	invocations *prometheus.CounterVec
	variants    *prometheus.CounterVec
	duration    prometheus.Histogram
	sourceBytes prometheus.Histogram
}

// NewProm registers the collectors with reg.
func NewProm(reg prometheus.Registerer) *Prom {
	f := promauto.With(reg)
	return &Prom{
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "variants_invocations_total",
			Help: "Upload events processed, by result.",
		}, []string{"result"}),
		variants: f.NewCounterVec(prometheus.CounterOpts{
			Name: "variants_variant_results_total",
			Help: "Variant renders attempted, by variant and result.",
		}, []string{"variant", "result"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "variants_invocation_duration_seconds",
			Help:    "Wall time from event receipt to terminal state.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		sourceBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "variants_source_bytes",
			Help:    "Size of decoded source images.",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 8),
		}),
	}
}

// Record implements pipeline.Recorder.
func (p *Prom) Record(_ context.Context, out *pipeline.Outcome) error {
	p.invocations.WithLabelValues(out.Result()).Inc()
	p.duration.Observe(out.Duration.Seconds())
	if out.Source != nil {
		p.sourceBytes.Observe(float64(out.Source.Bytes))
	}
	for _, v := range out.Variants {
		result := "ok"
		if !v.Success {
			result = string(v.ErrorKind)
		}
		p.variants.WithLabelValues(v.Variant, result).Inc()
	}
	return nil
}
