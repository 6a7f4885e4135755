package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	documentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfcover",
			Name:      "documents_processed_total",
			Help:      "Documents processed by result (success, failure)",
		},
		[]string{"result"},
	)

	pagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfcover",
			Name:      "pages_total",
			Help:      "Pages seen in source documents and written to outputs",
		},
		[]string{"stage"},
	)

	batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdfcover",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a batch or chunk by processing mode",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"mode"},
	)

	coverMaterializations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfcover",
			Name:      "cover_materializations_total",
			Help:      "Cover materializations by cover kind and result",
		},
		[]string{"kind", "result"},
	)

	coverCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pdfcover",
			Name:      "cover_cache_hits_total",
			Help:      "Cover materializations avoided by the batch cover cache",
		},
	)

	batchesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfcover",
			Name:      "batches_rejected_total",
			Help:      "Batches rejected before processing by reason",
		},
		[]string{"reason"},
	)

	inflightBatches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pdfcover",
			Name:      "inflight_batches",
			Help:      "Batches currently being processed",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(documentsProcessed, pagesTotal, batchDuration, coverMaterializations, coverCacheHits, batchesRejected, inflightBatches)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncDocument(success bool) {
	if success {
		documentsProcessed.WithLabelValues("success").Inc()
		return
	}
	documentsProcessed.WithLabelValues("failure").Inc()
}

func AddPages(original, final int) {
	pagesTotal.WithLabelValues("original").Add(float64(original))
	pagesTotal.WithLabelValues("final").Add(float64(final))
}

func ObserveBatch(mode string, dur time.Duration) {
	batchDuration.WithLabelValues(mode).Observe(dur.Seconds())
}

func IncCover(kind, result string) { coverMaterializations.WithLabelValues(kind, result).Inc() }
func IncCoverCacheHit()            { coverCacheHits.Inc() }
func IncRejected(reason string)    { batchesRejected.WithLabelValues(reason).Inc() }

// TrackInflight bumps the inflight gauge and returns the matching decrement.
func TrackInflight() func() {
	inflightBatches.Inc()
	return inflightBatches.Dec
}
