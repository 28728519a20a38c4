package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ocr_rag"

var (
	PagesExtracted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_extracted_total",
			Help:      "Pages and images that produced a document, by extraction method",
		},
		[]string{"method"}, // text, ocr
	)

	OCRFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_failures_total",
			Help:      "OCR attempts that failed and fell back to the native text layer",
		},
	)

	FilesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Input files skipped during ingestion",
		},
		[]string{"kind"}, // pdf, image
	)

	ChunksIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Chunks written to the vector index, by backend",
		},
		[]string{"backend"},
	)

	BackendFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_fallbacks_total",
			Help:      "Times the networked vector database was unavailable and the local store was used",
		},
	)

	EmbeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding provider calls",
		},
		[]string{"provider", "status"},
	)

	AnswerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_duration_seconds",
			Help:      "Time to retrieve context and compose an answer",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		PagesExtracted,
		OCRFailures,
		FilesSkipped,
		ChunksIndexed,
		BackendFallbacks,
		EmbeddingRequests,
		AnswerDuration,
	)
}
