package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives extraction measurements.
type Recorder interface {
	ObserveExtraction(mode, outcome string, duration time.Duration)
	AddImages(result string, n int)
	AddPageFailures(n int)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) ObserveExtraction(string, string, time.Duration) {}
func (NopRecorder) AddImages(string, int)                           {}
func (NopRecorder) AddPageFailures(int)                             {}

// PrometheusRecorder exports extraction counters and latencies.
type PrometheusRecorder struct {
	documents    *prometheus.CounterVec
	images       *prometheus.CounterVec
	pageFailures prometheus.Counter
	duration     *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_extract_documents_total",
			Help: "Documents processed, by scheduling mode and outcome.",
		}, []string{"mode", "outcome"}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdf_extract_images_total",
			Help: "Image resources seen, by result (written, duplicate, failed).",
		}, []string{"result"}),
		pageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pdf_extract_page_failures_total",
			Help: "Pages that could not be loaded or whose task failed.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pdf_extract_duration_seconds",
			Help:    "Wall time of one document extraction.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"mode"}),
	}

	for _, c := range []prometheus.Collector{r.documents, r.images, r.pageFailures, r.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveExtraction(mode, outcome string, duration time.Duration) {
	r.documents.WithLabelValues(mode, outcome).Inc()
	r.duration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (r *PrometheusRecorder) AddImages(result string, n int) {
	if n > 0 {
		r.images.WithLabelValues(result).Add(float64(n))
	}
}

func (r *PrometheusRecorder) AddPageFailures(n int) {
	if n > 0 {
		r.pageFailures.Add(float64(n))
	}
}
